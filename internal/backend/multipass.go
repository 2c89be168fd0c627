package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/virtlab/virtlab/models"
)

// MultipassOptions configures the multipass backend.
type MultipassOptions struct {
	// Binary is the path to the multipass executable (default "multipass")
	Binary string `mapstructure:"binary"`

	// TemplateDir is the directory holding cloud-init templates, one
	// <template>.yaml per provisioning template reference
	TemplateDir string `mapstructure:"template_dir"`
}

// cliRunner executes one provider CLI invocation and returns its output.
// The indirection keeps the backend testable without spawning the CLI.
type cliRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Multipass drives the Multipass CLI. One VM per node, named by node id.
type Multipass struct {
	binary      string
	templateDir string
	execTimeout time.Duration
	runner      cliRunner
}

// NewMultipass creates a multipass backend from options.
func NewMultipass(opts Options) *Multipass {
	binary := opts.Multipass.Binary
	if binary == "" {
		binary = "multipass"
	}
	return &Multipass{
		binary:      binary,
		templateDir: opts.Multipass.TemplateDir,
		execTimeout: opts.execTimeout(),
		runner:      execRunner{},
	}
}

func (m *Multipass) Kind() string { return KindMultipass }

func (m *Multipass) Create(ctx context.Context, name string, node *models.Node) error {
	cpus := node.Params.CPUs
	if cpus <= 0 {
		cpus = 1
	}
	memory := node.Params.Memory
	if memory == "" {
		memory = "1G"
	}
	disk := node.Params.Disk
	if disk == "" {
		disk = "5G"
	}

	args := []string{
		"launch",
		"--name", name,
		"--cpus", fmt.Sprintf("%d", cpus),
		"--memory", memory,
		"--disk", disk,
	}
	if node.Template != "" {
		args = append(args, "--cloud-init", filepath.Join(m.templateDir, node.Template+".yaml"))
	}

	log.Printf("create vm %s (cpus=%d memory=%s disk=%s template=%s)", name, cpus, memory, disk, node.Template)
	if _, stderr, err := m.runner.Run(ctx, m.binary, args...); err != nil {
		log.Printf("Failed to create VM %s: %s", name, stderr)
		return fmt.Errorf("failed to create VM %s: %s: %w", name, strings.TrimSpace(stderr), err)
	}

	log.Printf("create vm %s success, executing init commands...", name)
	for _, cmd := range node.InitCommands {
		m.Exec(ctx, name, cmd)
	}
	return nil
}

func (m *Multipass) Delete(ctx context.Context, name string) error {
	log.Printf("delete vm %s ...", name)
	if _, stderr, err := m.runner.Run(ctx, m.binary, "delete", name); err != nil {
		log.Printf("Failed to delete VM %s: %s", name, stderr)
		return fmt.Errorf("failed to delete VM %s: %s: %w", name, strings.TrimSpace(stderr), err)
	}
	// purge makes the deletion permanent
	if _, stderr, err := m.runner.Run(ctx, m.binary, "purge"); err != nil {
		log.Printf("Failed to purge VMs: %s", stderr)
		return fmt.Errorf("failed to purge VMs: %s: %w", strings.TrimSpace(stderr), err)
	}
	log.Printf("delete vm %s success", name)
	return nil
}

// Exec runs a command inside the VM through `multipass exec`. A wall-clock
// timeout is reported through the stderr return value, not as an error.
func (m *Multipass) Exec(ctx context.Context, name, command string) (string, string, error) {
	log.Printf("exec [ %s ] on vm %s ...", command, name)
	execCtx, cancel := context.WithTimeout(ctx, m.execTimeout)
	defer cancel()

	stdout, stderr, err := m.runner.Run(execCtx, m.binary, "exec", name, "--", "bash", "-c", command)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return "", "command execution timed out", nil
		}
		return stdout, stderr, nil
	}
	return stdout, stderr, nil
}

func (m *Multipass) PushFile(ctx context.Context, name, localPath, remotePath string, recursive bool) error {
	log.Printf("push file %s to %s:%s ...", localPath, name, remotePath)
	args := []string{"transfer"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, localPath, name+":"+remotePath)
	if _, stderr, err := m.runner.Run(ctx, m.binary, args...); err != nil {
		log.Printf("Failed to push file to %s: %s", name, stderr)
		return fmt.Errorf("failed to push %s to %s:%s: %s: %w", localPath, name, remotePath, strings.TrimSpace(stderr), err)
	}
	return nil
}

func (m *Multipass) PullFile(ctx context.Context, name, remotePath, localPath string, recursive bool) error {
	log.Printf("pull file %s:%s to %s ...", name, remotePath, localPath)
	args := []string{"transfer"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, name+":"+remotePath, localPath)
	if _, stderr, err := m.runner.Run(ctx, m.binary, args...); err != nil {
		log.Printf("Failed to pull file from %s: %s", name, stderr)
		return fmt.Errorf("failed to pull %s:%s to %s: %s: %w", name, remotePath, localPath, strings.TrimSpace(stderr), err)
	}
	return nil
}

func (m *Multipass) PushDir(ctx context.Context, name, localDir, remoteDir string) error {
	// The target must exist before a recursive transfer lands in it
	if _, _, err := m.Exec(ctx, name, "mkdir -p "+remoteDir); err != nil {
		return fmt.Errorf("failed to create %s:%s: %w", name, remoteDir, err)
	}
	// "<dir>/." copies the directory contents, not the directory itself
	src := strings.TrimSuffix(localDir, "/") + "/."
	return m.PushFile(ctx, name, src, remoteDir, true)
}

func (m *Multipass) PullDir(ctx context.Context, name, remoteDir, localDir string) error {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", localDir, err)
	}
	src := strings.TrimSuffix(remoteDir, "/") + "/."
	return m.PullFile(ctx, name, src, localDir, true)
}

// ipv4Pattern matches the "IPv4:" info field, which may list several
// addresses across continuation lines.
var ipv4Pattern = regexp.MustCompile(`IPv4:\s+((?:\d+\.\d+\.\d+\.\d+\s*)+)`)

func (m *Multipass) IPAddresses(ctx context.Context, name string) ([]string, error) {
	stdout, stderr, err := m.runner.Run(ctx, m.binary, "info", name)
	if err != nil {
		return nil, fmt.Errorf("failed to get info for VM %s: %s: %w", name, strings.TrimSpace(stderr), err)
	}
	ips := parseIPv4Addresses(stdout)
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IPv4 address found for VM %s", name)
	}
	return ips, nil
}

func parseIPv4Addresses(infoOutput string) []string {
	match := ipv4Pattern.FindStringSubmatch(infoOutput)
	if match == nil {
		return nil
	}
	return strings.Fields(match[1])
}

func (m *Multipass) Exists(ctx context.Context, name string) bool {
	stdout, _, err := m.runner.Run(ctx, m.binary, "list")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == name {
			return true
		}
	}
	return false
}

func (m *Multipass) Snapshot(ctx context.Context, name, snapshot string) error {
	log.Printf("create snapshot %s on vm %s ...", snapshot, name)
	steps := []struct {
		step string
		args []string
	}{
		{"stop", []string{"stop", name}},
		{"snapshot", []string{"snapshot", name, "--name", snapshot}},
		{"start", []string{"start", name}},
	}
	for _, s := range steps {
		if _, stderr, err := m.runner.Run(ctx, m.binary, s.args...); err != nil {
			log.Printf("Failed to snapshot VM %s at step %s: %s", name, s.step, stderr)
			return &StepError{Op: "snapshot", Step: s.step, Err: fmt.Errorf("%s: %w", strings.TrimSpace(stderr), err)}
		}
	}
	log.Printf("create snapshot %s on vm %s success", snapshot, name)
	return nil
}

func (m *Multipass) Restore(ctx context.Context, name, snapshot string) error {
	log.Printf("restore vm %s to snapshot %s ...", name, snapshot)
	steps := []struct {
		step string
		args []string
	}{
		{"stop", []string{"stop", name}},
		// restore takes "<instance>.<snapshot>" as a single argument
		{"restore", []string{"restore", name + "." + snapshot, "-d"}},
		{"start", []string{"start", name}},
	}
	for _, s := range steps {
		if _, stderr, err := m.runner.Run(ctx, m.binary, s.args...); err != nil {
			log.Printf("Failed to restore VM %s at step %s: %s", name, s.step, stderr)
			return &StepError{Op: "restore", Step: s.step, Err: fmt.Errorf("%s: %w", strings.TrimSpace(stderr), err)}
		}
	}
	log.Printf("restore vm %s to snapshot %s success", name, snapshot)
	return nil
}

func (m *Multipass) Stop(ctx context.Context, name string) error {
	log.Printf("stop vm %s ...", name)
	if _, stderr, err := m.runner.Run(ctx, m.binary, "stop", name); err != nil {
		log.Printf("Failed to stop VM %s: %s", name, stderr)
		return fmt.Errorf("failed to stop VM %s: %s: %w", name, strings.TrimSpace(stderr), err)
	}
	log.Printf("stop vm %s success", name)
	return nil
}

func (m *Multipass) Start(ctx context.Context, name string) error {
	log.Printf("start vm %s ...", name)
	if _, stderr, err := m.runner.Run(ctx, m.binary, "start", name); err != nil {
		log.Printf("Failed to start VM %s: %s", name, stderr)
		return fmt.Errorf("failed to start VM %s: %s: %w", name, strings.TrimSpace(stderr), err)
	}
	log.Printf("start vm %s success", name)
	return nil
}

func (m *Multipass) ClassifyPath(ctx context.Context, name, path string) (PathClass, error) {
	probe := fmt.Sprintf("if [ -d '%s' ]; then echo directory; elif [ -e '%s' ]; then echo file; else echo missing; fi", path, path)
	stdout, stderr, err := m.Exec(ctx, name, probe)
	if err != nil {
		return PathMissing, err
	}
	switch strings.TrimSpace(stdout) {
	case "directory":
		return PathDirectory, nil
	case "file":
		return PathFile, nil
	case "missing":
		return PathMissing, nil
	}
	return PathMissing, fmt.Errorf("failed to classify %s:%s: %s", name, path, strings.TrimSpace(stderr))
}
