package commands

import (
	"github.com/spf13/cobra"
)

var runNode string

var runCmd = &cobra.Command{
	Use:   "run <command>...",
	Short: "Run ad-hoc commands on a node or the host",
	Long: `Resolve and execute one or more commands. With --node the commands run
inside that node; without it they run on the controlling host. Commands may
reference environment attributes:

  virtlab run --node ood1 "ping -c1 {{sn1.ip}}"
  virtlab run "curl http://{{ood1.ip}}:8080/healthz"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return ws.Run(cmd.Context(), runNode, args)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runNode, "node", "n", "", "node to run on (default: controlling host)")
}
