// Package commands implements the virtlab command line interface.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/virtlab/virtlab/internal/backend"
	"github.com/virtlab/virtlab/internal/config"
	"github.com/virtlab/virtlab/internal/version"
	"github.com/virtlab/virtlab/internal/workspace"
)

var (
	cfgFile      string
	workspaceDir string
	backendKind  string
	cfg          *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "virtlab",
	Short: "Disposable multi-node test environments",
	Long: `Virtlab provisions disposable virtual machine environments for testing
distributed systems. A workspace directory declares a multi-node topology
(nodes.json), installable apps (apps/) and optionally pre-existing hosts
(hosts.ini); virtlab drives provisioning, app deployment, ad-hoc command
execution and log collection across every node.

Command templates may reference live environment attributes such as
{{sn1.ip}} or {{system.base_dir}}; references resolve at execution time
against the running nodes.`,
	Version: version.Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./virtlab.yaml)")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace", "", "workspace directory")
	rootCmd.PersistentFlags().StringVar(&backendKind, "backend", "", "VM backend (multipass, docker)")

	rootCmd.AddCommand(vmCmd)
	rootCmd.AddCommand(appCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// flags outrank every config source
	if workspaceDir != "" {
		cfg.Workspace.Dir = workspaceDir
	}
	if backendKind != "" {
		cfg.Backend.Kind = backendKind
	}
}

// buildWorkspace binds the configured backend and loads the workspace.
func buildWorkspace() (*workspace.Workspace, error) {
	mgr, err := backend.NewManager(cfg.Backend.Kind, cfg.Backend.BackendOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to bind backend: %w", err)
	}
	return workspace.Load(mgr, workspace.Options{
		Dir:         cfg.Workspace.Dir,
		BaseDir:     cfg.Workspace.BaseDir,
		SettleDelay: cfg.Workspace.SettleDelay,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Println(info.String())

		if cmd.Flag("verbose").Changed {
			fmt.Printf("\nDetails:\n")
			fmt.Printf("  Version:    %s\n", info.Version)
			fmt.Printf("  Git Commit: %s\n", info.GitCommit)
			fmt.Printf("  Built:      %s\n", info.BuildTime)
			fmt.Printf("  Go Version: %s\n", info.GoVersion)
			fmt.Printf("  Platform:   %s\n", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "verbose version output")
}
