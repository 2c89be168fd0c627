// Package device provides a uniform execution and transfer handle bound to
// one node of the topology.
//
// Two implementations share the capability set: one delegates every
// operation to the process-wide backend manager (provisioned nodes), the
// other drives a remote shell and secure copy directly (externally
// provisioned hosts declared in the workspace host registry).
package device

import (
	"context"

	"github.com/virtlab/virtlab/internal/backend"
)

// Device is the capability set the orchestrator uses against one node.
// A handle is bound to exactly one node id for its lifetime; addresses are
// resolved lazily and are not guaranteed fresh across calls.
type Device interface {
	// NodeID returns the node id the handle is bound to
	NodeID() string

	// RunCommand executes a shell command on the device. Backend failures
	// and timeouts are reported through stderr, matching Backend.Exec.
	RunCommand(ctx context.Context, command string) (stdout, stderr string, err error)

	// Push copies a local file or directory to the device. A local
	// directory always takes the directory-transfer path regardless of the
	// recursive flag; a local file uses the flag as given.
	Push(ctx context.Context, localPath, remotePath string, recursive bool) error

	// Pull copies a remote file or directory to the local filesystem,
	// classifying the remote path first to pick the transfer variant
	Pull(ctx context.Context, remotePath, localPath string, recursive bool) error

	// Info returns the device's resolved runtime attributes ("device_id",
	// "ip") for the environment snapshot
	Info(ctx context.Context) (map[string]string, error)

	// ClassifyRemotePath reports whether a device path is a file, a
	// directory, or missing
	ClassifyRemotePath(ctx context.Context, path string) (backend.PathClass, error)
}
