package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/virtlab/virtlab/models"
)

var vmOutputFormat string

var vmCmd = &cobra.Command{
	Use:   "vm",
	Short: "Manage topology nodes",
	Long: `Provision, inspect and control the virtual machines of the workspace
topology. Operations without explicit node arguments address every declared
node; per-node failures are reported and do not block the remaining nodes.`,
}

var vmCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision all nodes and run bring-up",
	Long: `Provision every backend-managed node of the topology, wait for the
configured settle delay, then execute each node's instance commands in the
declared boot order. Instance commands may reference attributes of nodes
earlier in the order, e.g. {{sn1.ip}}.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		if err := ws.CreateVMs(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Environment is up")
		return nil
	},
}

var vmDeleteCmd = &cobra.Command{
	Use:   "delete [node...]",
	Short: "Delete nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return ws.DeleteVMs(cmd.Context(), args...)
	},
}

var vmStartCmd = &cobra.Command{
	Use:   "start [node...]",
	Short: "Start stopped nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return ws.StartVMs(cmd.Context(), args...)
	},
}

var vmStopCmd = &cobra.Command{
	Use:   "stop [node...]",
	Short: "Stop running nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return ws.StopVMs(cmd.Context(), args...)
	},
}

var vmInfoCmd = &cobra.Command{
	Use:   "info [node...]",
	Short: "Show node addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		info, err := ws.Info(cmd.Context(), args...)
		if err != nil {
			return err
		}

		if vmOutputFormat == "json" {
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		ids := make([]string, 0, len(info))
		for id := range info {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tIP\tSTATUS")
		for _, id := range ids {
			attrs := info[id]
			if errMsg, ok := attrs["error"]; ok {
				fmt.Fprintf(w, "%s\t-\t%s\n", id, errMsg)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\tup\n", id, attrs["ip"])
		}
		return w.Flush()
	},
}

var vmSnapshotCmd = &cobra.Command{
	Use:   "snapshot [name] [node...]",
	Short: "Snapshot nodes under a name",
	Long: `Take a named snapshot of every selected node. Each node is stopped,
snapshotted and started again; a failing step leaves that node where the
failure happened and is reported without rollback. Without a name a unique
one is generated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		name := models.GenerateID("snap")
		nodes := args
		if len(args) > 0 {
			name, nodes = args[0], args[1:]
		}
		if err := ws.SnapshotAll(cmd.Context(), name, nodes...); err != nil {
			return err
		}
		fmt.Printf("Snapshot %s taken\n", name)
		return nil
	},
}

var vmRestoreCmd = &cobra.Command{
	Use:   "restore <name> [node...]",
	Short: "Restore nodes from a named snapshot",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return ws.RestoreAll(cmd.Context(), args[0], args[1:]...)
	},
}

func init() {
	vmInfoCmd.Flags().StringVarP(&vmOutputFormat, "output", "o", "table", "output format (table, json)")

	vmCmd.AddCommand(vmCreateCmd)
	vmCmd.AddCommand(vmDeleteCmd)
	vmCmd.AddCommand(vmStartCmd)
	vmCmd.AddCommand(vmStopCmd)
	vmCmd.AddCommand(vmInfoCmd)
	vmCmd.AddCommand(vmSnapshotCmd)
	vmCmd.AddCommand(vmRestoreCmd)
}
