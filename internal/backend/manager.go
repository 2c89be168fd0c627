package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/virtlab/virtlab/models"
)

// Options configures backend construction.
type Options struct {
	// ExecTimeout bounds remote command execution (default 300s)
	ExecTimeout time.Duration

	// Multipass holds multipass-specific settings
	Multipass MultipassOptions

	// Docker holds docker-specific settings
	Docker DockerOptions
}

// DefaultExecTimeout is the wall-clock bound on remote command execution.
const DefaultExecTimeout = 300 * time.Second

func (o *Options) execTimeout() time.Duration {
	if o.ExecTimeout <= 0 {
		return DefaultExecTimeout
	}
	return o.ExecTimeout
}

// Manager is the process-wide binding of one backend implementation. It is
// constructed explicitly by the workspace and passed to remote-device
// constructors; every call delegates to the bound backend.
//
// Exactly one backend kind may be bound per process. NewManager returns the
// same Manager for repeated requests of the bound kind and a MismatchError
// for any other kind.
type Manager struct {
	backend Backend
}

var (
	bindMu sync.Mutex
	bound  *Manager
)

// NewManager returns the process-wide Manager for the given backend kind,
// constructing and binding the implementation on first use.
func NewManager(kind string, opts Options) (*Manager, error) {
	bindMu.Lock()
	defer bindMu.Unlock()

	if bound != nil {
		if bound.backend.Kind() != kind {
			return nil, &MismatchError{Bound: bound.backend.Kind(), Requested: kind}
		}
		return bound, nil
	}

	var (
		b   Backend
		err error
	)
	switch kind {
	case KindMultipass:
		b = NewMultipass(opts)
	case KindDocker:
		b, err = NewDocker(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize docker backend: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported backend kind: %q", kind)
	}

	bound = &Manager{backend: b}
	return bound, nil
}

// reset clears the process-wide binding. Tests only.
func reset() {
	bindMu.Lock()
	defer bindMu.Unlock()
	bound = nil
}

// Kind returns the bound backend kind.
func (m *Manager) Kind() string { return m.backend.Kind() }

func (m *Manager) Create(ctx context.Context, name string, node *models.Node) error {
	return m.backend.Create(ctx, name, node)
}

func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.backend.Delete(ctx, name)
}

func (m *Manager) Exec(ctx context.Context, name, command string) (string, string, error) {
	return m.backend.Exec(ctx, name, command)
}

func (m *Manager) PushFile(ctx context.Context, name, localPath, remotePath string, recursive bool) error {
	return m.backend.PushFile(ctx, name, localPath, remotePath, recursive)
}

func (m *Manager) PullFile(ctx context.Context, name, remotePath, localPath string, recursive bool) error {
	return m.backend.PullFile(ctx, name, remotePath, localPath, recursive)
}

func (m *Manager) PushDir(ctx context.Context, name, localDir, remoteDir string) error {
	return m.backend.PushDir(ctx, name, localDir, remoteDir)
}

func (m *Manager) PullDir(ctx context.Context, name, remoteDir, localDir string) error {
	return m.backend.PullDir(ctx, name, remoteDir, localDir)
}

func (m *Manager) IPAddresses(ctx context.Context, name string) ([]string, error) {
	return m.backend.IPAddresses(ctx, name)
}

func (m *Manager) Exists(ctx context.Context, name string) bool {
	return m.backend.Exists(ctx, name)
}

func (m *Manager) Snapshot(ctx context.Context, name, snapshot string) error {
	return m.backend.Snapshot(ctx, name, snapshot)
}

func (m *Manager) Restore(ctx context.Context, name, snapshot string) error {
	return m.backend.Restore(ctx, name, snapshot)
}

func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.backend.Stop(ctx, name)
}

func (m *Manager) Start(ctx context.Context, name string) error {
	return m.backend.Start(ctx, name)
}

func (m *Manager) ClassifyPath(ctx context.Context, name, path string) (PathClass, error) {
	return m.backend.ClassifyPath(ctx, name, path)
}
