// Package backend abstracts the virtualization provider used to provision
// disposable test nodes.
//
// A Backend exposes the primitive operations the orchestrator needs against
// one provider: create/delete/start/stop a VM, execute a command inside it,
// transfer files and directories in both directions, resolve IP addresses,
// probe existence, and snapshot/restore. Two implementations exist:
//
//   - multipass: drives the Multipass CLI (launch, exec, transfer, info, ...)
//   - docker: drives the Docker Engine API, one long-running container per node
//
// The Manager binds exactly one implementation per process. The first
// NewManager call fixes the implementation; a later call naming a different
// one fails with a MismatchError instead of silently substituting a backend.
package backend

import (
	"context"

	"github.com/virtlab/virtlab/models"
)

// Backend kinds accepted by NewManager.
const (
	KindMultipass = "multipass"
	KindDocker    = "docker"
)

// PathClass is the result of classifying a remote path.
type PathClass int

const (
	// PathMissing means the remote path does not exist
	PathMissing PathClass = iota

	// PathFile means the remote path is a regular file
	PathFile

	// PathDirectory means the remote path is a directory
	PathDirectory
)

func (c PathClass) String() string {
	switch c {
	case PathFile:
		return "file"
	case PathDirectory:
		return "directory"
	default:
		return "missing"
	}
}

// Backend is the primitive operation set against one virtualization provider.
//
// Provider failures are reported as errors carrying the provider's captured
// stderr; no operation is retried. Exec is the one exception to the error
// convention: a wall-clock timeout yields a synthetic stderr string and a nil
// error, matching how callers treat command output diagnostically.
type Backend interface {
	// Kind returns the backend kind identifier ("multipass", "docker")
	Kind() string

	// Create provisions a VM per the node declaration, then synchronously
	// runs the node's init commands through Exec
	Create(ctx context.Context, name string, node *models.Node) error

	// Delete removes the VM and purges provider state
	Delete(ctx context.Context, name string) error

	// Exec runs a shell command inside the VM and returns its output. A
	// timeout produces a synthetic stderr value rather than an error.
	Exec(ctx context.Context, name, command string) (stdout, stderr string, err error)

	// PushFile copies a local file into the VM
	PushFile(ctx context.Context, name, localPath, remotePath string, recursive bool) error

	// PullFile copies a file from the VM to the local filesystem
	PullFile(ctx context.Context, name, remotePath, localPath string, recursive bool) error

	// PushDir copies the contents of a local directory into a VM directory,
	// creating the target first. The source directory itself is not nested
	// one level deeper at the destination.
	PushDir(ctx context.Context, name, localDir, remoteDir string) error

	// PullDir copies a VM directory into a local directory, creating the
	// local directory first
	PullDir(ctx context.Context, name, remoteDir, localDir string) error

	// IPAddresses returns every address the provider reports for the VM,
	// erroring when none are found
	IPAddresses(ctx context.Context, name string) ([]string, error)

	// Exists is a non-erroring existence probe
	Exists(ctx context.Context, name string) bool

	// Snapshot runs the stop, snapshot, start sequence. There is no
	// compensating rollback: a mid-sequence failure leaves the VM in
	// whatever state the last successful step produced, and the returned
	// StepError names the step that failed.
	Snapshot(ctx context.Context, name, snapshot string) error

	// Restore runs the stop, restore, start sequence with the same
	// no-rollback semantics as Snapshot
	Restore(ctx context.Context, name, snapshot string) error

	// Stop stops the VM
	Stop(ctx context.Context, name string) error

	// Start starts the VM
	Start(ctx context.Context, name string) error

	// ClassifyPath reports whether a path inside the VM is a file, a
	// directory, or missing
	ClassifyPath(ctx context.Context, name, path string) (PathClass, error)
}
