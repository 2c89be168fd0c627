package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/virtlab/virtlab/internal/workspace"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Inspect workspace topology documents",
}

var topologyValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a topology document",
	Long: `Validate a nodes.json topology document: node declarations, boot order
references and coverage of every node carrying instance commands. Without an
argument the workspace topology is validated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(cfg.Workspace.Dir, workspace.TopologyFile)
		if len(args) == 1 {
			path = args[0]
		}

		topo, err := workspace.LoadTopology(path)
		if err != nil {
			return err
		}

		fmt.Printf("%s is valid: %d node(s)", path, len(topo.Nodes))
		if len(topo.BootOrder) > 0 {
			fmt.Printf(", boot order %v", topo.BootOrder)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	topologyCmd.AddCommand(topologyValidateCmd)
}
