package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/virtlab/virtlab/internal/backend"
)

// SSHOptions configures a shell-backed device for an externally provisioned
// host.
type SSHOptions struct {
	// Host is the address the host registry declares for the node
	Host string

	// Port is the ssh port (default 22)
	Port int

	// User is the remote user (default root)
	User string

	// IdentityFile is the fixed identity credential used for every call
	IdentityFile string

	// ExecTimeout bounds remote command execution (default 300s)
	ExecTimeout time.Duration
}

// commandRunner executes one local process invocation. The indirection keeps
// the device testable without spawning ssh or scp.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type processRunner struct{}

func (processRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// SSHDevice drives an externally provisioned host over ssh and scp.
// Host-key verification is disabled: the hosts are disposable test machines
// whose keys change on every re-provision.
type SSHDevice struct {
	nodeID      string
	host        string
	port        int
	user        string
	identity    string
	execTimeout time.Duration
	runner      commandRunner
}

// NewSSHDevice binds a shell-backed device handle to a node id.
func NewSSHDevice(nodeID string, opts SSHOptions) *SSHDevice {
	port := opts.Port
	if port == 0 {
		port = 22
	}
	user := opts.User
	if user == "" {
		user = "root"
	}
	timeout := opts.ExecTimeout
	if timeout <= 0 {
		timeout = backend.DefaultExecTimeout
	}
	return &SSHDevice{
		nodeID:      nodeID,
		host:        opts.Host,
		port:        port,
		user:        user,
		identity:    opts.IdentityFile,
		execTimeout: timeout,
		runner:      processRunner{},
	}
}

func (d *SSHDevice) NodeID() string { return d.nodeID }

func (d *SSHDevice) target() string {
	return fmt.Sprintf("%s@%s", d.user, d.host)
}

func (d *SSHDevice) sshArgs(command string) []string {
	return []string{
		"-o", "StrictHostKeyChecking=no",
		"-p", fmt.Sprintf("%d", d.port),
		"-i", d.identity,
		d.target(),
		command,
	}
}

func (d *SSHDevice) RunCommand(ctx context.Context, command string) (string, string, error) {
	log.Printf("run [ %s ] on %s via ssh ...", command, d.nodeID)
	execCtx, cancel := context.WithTimeout(ctx, d.execTimeout)
	defer cancel()

	stdout, stderr, err := d.runner.Run(execCtx, "ssh", d.sshArgs(command)...)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return "", "command execution timed out", nil
		}
		return stdout, stderr, nil
	}
	return stdout, stderr, nil
}

func (d *SSHDevice) scp(ctx context.Context, recursive bool, src, dst string) error {
	args := []string{"-o", "StrictHostKeyChecking=no", "-P", fmt.Sprintf("%d", d.port), "-i", d.identity}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, src, dst)
	if _, stderr, err := d.runner.Run(ctx, "scp", args...); err != nil {
		return fmt.Errorf("scp %s -> %s on device %s failed: %s: %w", src, dst, d.nodeID, strings.TrimSpace(stderr), err)
	}
	return nil
}

func (d *SSHDevice) Push(ctx context.Context, localPath, remotePath string, recursive bool) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to push %s to %s:%s: %w", localPath, d.nodeID, remotePath, err)
	}
	if info.IsDir() {
		if _, _, err := d.RunCommand(ctx, "mkdir -p "+remotePath); err != nil {
			return fmt.Errorf("failed to create %s:%s: %w", d.nodeID, remotePath, err)
		}
		src := strings.TrimSuffix(localPath, "/") + "/."
		return d.scp(ctx, true, src, d.target()+":"+remotePath)
	}
	return d.scp(ctx, recursive, localPath, d.target()+":"+remotePath)
}

func (d *SSHDevice) Pull(ctx context.Context, remotePath, localPath string, recursive bool) error {
	class, err := d.ClassifyRemotePath(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("failed to classify %s:%s: %w", d.nodeID, remotePath, err)
	}
	if class == backend.PathDirectory {
		if err := os.MkdirAll(localPath, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", localPath, err)
		}
		src := d.target() + ":" + strings.TrimSuffix(remotePath, "/") + "/."
		return d.scp(ctx, true, src, localPath)
	}
	return d.scp(ctx, recursive, d.target()+":"+remotePath, localPath)
}

func (d *SSHDevice) Info(ctx context.Context) (map[string]string, error) {
	return map[string]string{
		"device_id": d.nodeID,
		"ip":        d.host,
	}, nil
}

func (d *SSHDevice) ClassifyRemotePath(ctx context.Context, path string) (backend.PathClass, error) {
	probe := fmt.Sprintf("if [ -d '%s' ]; then echo directory; elif [ -e '%s' ]; then echo file; else echo missing; fi", path, path)
	stdout, stderr, err := d.RunCommand(ctx, probe)
	if err != nil {
		return backend.PathMissing, err
	}
	switch strings.TrimSpace(stdout) {
	case "directory":
		return backend.PathDirectory, nil
	case "file":
		return backend.PathFile, nil
	case "missing":
		return backend.PathMissing, nil
	}
	return backend.PathMissing, fmt.Errorf("failed to classify %s:%s: %s", d.nodeID, path, strings.TrimSpace(stderr))
}
