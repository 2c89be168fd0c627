package device

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/virtlab/virtlab/internal/backend"
)

// BackendDevice drives a node through the bound backend manager.
type BackendDevice struct {
	nodeID  string
	backend backend.Backend
}

// NewBackendDevice binds a device handle to a node id, delegating every
// operation to the given backend (normally the process-wide manager).
func NewBackendDevice(nodeID string, be backend.Backend) *BackendDevice {
	return &BackendDevice{nodeID: nodeID, backend: be}
}

func (d *BackendDevice) NodeID() string { return d.nodeID }

func (d *BackendDevice) RunCommand(ctx context.Context, command string) (string, string, error) {
	return d.backend.Exec(ctx, d.nodeID, command)
}

// Push copies a local path to the device. Dispatch is decided by the local
// path type: a directory always takes the directory-transfer path no matter
// what the caller passed for recursive.
func (d *BackendDevice) Push(ctx context.Context, localPath, remotePath string, recursive bool) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to push %s to %s:%s: %w", localPath, d.nodeID, remotePath, err)
	}
	if info.IsDir() {
		return d.backend.PushDir(ctx, d.nodeID, localPath, remotePath)
	}
	return d.backend.PushFile(ctx, d.nodeID, localPath, remotePath, recursive)
}

// Pull copies a remote path to the local filesystem. Dispatch is decided by
// a best-effort remote classification.
func (d *BackendDevice) Pull(ctx context.Context, remotePath, localPath string, recursive bool) error {
	class, err := d.backend.ClassifyPath(ctx, d.nodeID, remotePath)
	if err != nil {
		return fmt.Errorf("failed to classify %s:%s: %w", d.nodeID, remotePath, err)
	}
	if class == backend.PathDirectory {
		return d.backend.PullDir(ctx, d.nodeID, remotePath, localPath)
	}
	return d.backend.PullFile(ctx, d.nodeID, remotePath, localPath, recursive)
}

func (d *BackendDevice) Info(ctx context.Context) (map[string]string, error) {
	ips, err := d.backend.IPAddresses(ctx, d.nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address for %s: %w", d.nodeID, err)
	}
	return map[string]string{
		"device_id": d.nodeID,
		"ip":        preferPrivateAddress(ips),
	}, nil
}

func (d *BackendDevice) ClassifyRemotePath(ctx context.Context, path string) (backend.PathClass, error) {
	return d.backend.ClassifyPath(ctx, d.nodeID, path)
}

// preferPrivateAddress picks an address in the common private ranges over
// anything else the provider reported, falling back to the first address.
func preferPrivateAddress(ips []string) string {
	for _, ip := range ips {
		if strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "192.") {
			return ip
		}
	}
	return ips[0]
}
