package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/virtlab/virtlab/internal/workspace"
)

var (
	appNode  string
	appNames []string
)

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Deploy and operate apps on topology nodes",
	Long: `Install, update, start and stop the apps declared in the workspace
catalog. Without --node the operation fans out over every topology node;
apps not declared on a node are skipped with a diagnostic, and one node's
failure does not block the others.`,
}

// forEachAppNode runs f once per selected node, continuing past failures.
func forEachAppNode(ctx context.Context, ws *workspace.Workspace, f func(ctx context.Context, nodeID string) error) error {
	nodes := ws.NodeIDs()
	if appNode != "" {
		if _, err := ws.Device(appNode); err != nil {
			return err
		}
		nodes = []string{appNode}
	}
	for _, id := range nodes {
		if err := f(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "node %s: %v\n", id, err)
		}
	}
	return nil
}

var appInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Build, push and install apps",
	Long: `For each selected app: run its build_all templates on the controlling
host, push the source directory to the node, then run the install templates
on the node.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return forEachAppNode(cmd.Context(), ws, func(ctx context.Context, nodeID string) error {
			return ws.Install(ctx, nodeID, appNames)
		})
	},
}

var appUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Rebuild and push app binaries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return forEachAppNode(cmd.Context(), ws, func(ctx context.Context, nodeID string) error {
			return ws.Update(ctx, nodeID, appNames)
		})
	},
}

var appStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run app start commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return forEachAppNode(cmd.Context(), ws, func(ctx context.Context, nodeID string) error {
			return ws.StartApps(ctx, nodeID, appNames)
		})
	},
}

var appStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Run app stop commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return forEachAppNode(cmd.Context(), ws, func(ctx context.Context, nodeID string) error {
			return ws.StopApps(ctx, nodeID, appNames)
		})
	},
}

// splitAppCommand splits an <app>.<command> reference at the first dot.
func splitAppCommand(ref string) (appName, commandName string, err error) {
	appName, commandName, ok := strings.Cut(ref, ".")
	if !ok || appName == "" || commandName == "" {
		return "", "", fmt.Errorf("expected <app>.<command>, got %q", ref)
	}
	return appName, commandName, nil
}

var appExecCmd = &cobra.Command{
	Use:   "exec <app>.<command> [args...]",
	Short: "Run a named app command",
	Long: `Run one command declared by an app descriptor, e.g.

  virtlab app exec nodeos.build_all
  virtlab app exec nodeos.status --node ood1 -- --verbose

Without --node the command fans out over every node declaring the app;
per-node failures are reported and do not block the remaining nodes. Extra
arguments are exposed to the command templates as {{<app>.args}}.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := buildWorkspace()
		if err != nil {
			return err
		}
		return execAppCommand(cmd.Context(), ws, args[0], args[1:])
	},
}

// execAppCommand runs one <app>.<command> reference, fanning out over every
// node declaring the app unless --node restricts it.
func execAppCommand(ctx context.Context, ws *workspace.Workspace, ref string, args []string) error {
	appName, commandName, err := splitAppCommand(ref)
	if err != nil {
		return err
	}
	return forEachAppNode(ctx, ws, func(ctx context.Context, nodeID string) error {
		if appNode == "" && !ws.Topology().HasApp(nodeID, appName) {
			return nil
		}
		return ws.ExecuteAppCommand(ctx, nodeID, appName, commandName, args)
	})
}

func init() {
	appCmd.PersistentFlags().StringVarP(&appNode, "node", "n", "", "restrict to one node")
	appCmd.PersistentFlags().StringSliceVarP(&appNames, "app", "a", nil, "restrict to apps (default: whole catalog)")

	appCmd.AddCommand(appInstallCmd)
	appCmd.AddCommand(appUpdateCmd)
	appCmd.AddCommand(appStartCmd)
	appCmd.AddCommand(appStopCmd)
	appCmd.AddCommand(appExecCmd)
}
