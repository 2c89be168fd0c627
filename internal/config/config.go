// Package config provides configuration management for virtlab.
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./virtlab.yaml, ~/.virtlab/config.yaml,
//     /etc/virtlab/config.yaml)
//  3. .env files
//  4. Environment variables (VL_ prefix)
//
// Use the VL_ prefix and underscores for nested keys:
//   - VL_BACKEND_KIND=docker
//   - VL_WORKSPACE_DIR=/srv/lab/workspace
//   - VL_BACKEND_EXEC_TIMEOUT=120s
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/virtlab/virtlab/internal/backend"
)

// Config is the root configuration structure for virtlab.
type Config struct {
	// Workspace locates the workspace directory and tunes orchestration
	Workspace WorkspaceConfig `mapstructure:"workspace"`

	// Backend selects and configures the VM backend
	Backend BackendConfig `mapstructure:"backend"`

	// Logs configures log collection
	Logs LogsConfig `mapstructure:"logs"`
}

// WorkspaceConfig locates the workspace and tunes bring-up.
type WorkspaceConfig struct {
	// Dir is the workspace directory holding nodes.json, apps/ and the
	// optional hosts.ini (default: ./workspace)
	Dir string `mapstructure:"dir"`

	// BaseDir anchors relative app source paths; empty means the parent
	// of Dir
	BaseDir string `mapstructure:"base_dir"`

	// SettleDelay is the pause between provisioning and bring-up
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// BackendConfig selects and configures the VM backend.
type BackendConfig struct {
	// Kind is the backend implementation: "multipass" or "docker"
	Kind string `mapstructure:"kind"`

	// ExecTimeout bounds remote command execution
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`

	// Multipass holds multipass-specific settings
	Multipass backend.MultipassOptions `mapstructure:"multipass"`

	// Docker holds docker-specific settings
	Docker backend.DockerOptions `mapstructure:"docker"`
}

// LogsConfig configures log collection.
type LogsConfig struct {
	// Target is the directory replaced by each collection run
	Target string `mapstructure:"target"`
}

var cfg *Config

// Load reads configuration from a file, .env and the environment.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (VL_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("virtlab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.virtlab")
		v.AddConfigPath("/etc/virtlab")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("VL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.dir", "./workspace")
	v.SetDefault("workspace.settle_delay", "10s")

	v.SetDefault("backend.kind", backend.KindMultipass)
	v.SetDefault("backend.exec_timeout", "300s")
	v.SetDefault("backend.multipass.binary", "multipass")
	v.SetDefault("backend.docker.default_image", "ubuntu:24.04")
	v.SetDefault("backend.docker.pull_images", false)

	v.SetDefault("logs.target", "/tmp/virtlab-logs")
}

func validate(cfg *Config) error {
	switch cfg.Backend.Kind {
	case backend.KindMultipass, backend.KindDocker:
	default:
		return fmt.Errorf("unsupported backend kind: %q", cfg.Backend.Kind)
	}

	if cfg.Workspace.Dir == "" {
		return fmt.Errorf("workspace dir is required")
	}

	if cfg.Logs.Target == "" {
		return fmt.Errorf("logs target is required")
	}

	return nil
}

// Get returns the last configuration produced by Load.
func Get() *Config {
	return cfg
}

// BackendOptions converts the backend section into construction options.
func (c *BackendConfig) BackendOptions() backend.Options {
	return backend.Options{
		ExecTimeout: c.ExecTimeout,
		Multipass:   c.Multipass,
		Docker:      c.Docker,
	}
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
