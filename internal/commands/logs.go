package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logsTarget string

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Collect logs from topology nodes",
}

var logsCollectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Pull every node's logs directory to the host",
	Long: `Pull each node's declared logs directory into <target>/<node id>. The
target directory is replaced on every run, so it always reflects exactly the
current collection. Nodes without a logs directory are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		target := logsTarget
		if target == "" {
			target = cfg.Logs.Target
		}
		if err := ws.CollectLogs(cmd.Context(), target); err != nil {
			return err
		}
		fmt.Printf("Logs collected into %s\n", target)
		return nil
	},
}

func init() {
	logsCollectCmd.Flags().StringVarP(&logsTarget, "target", "t", "", "collection directory (default: logs.target from config)")

	logsCmd.AddCommand(logsCollectCmd)
}
