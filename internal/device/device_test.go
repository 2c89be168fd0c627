package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/virtlab/virtlab/internal/backend"
	"github.com/virtlab/virtlab/models"
)

// fakeBackend records operations and serves canned answers. It implements
// backend.Backend the way the manager does, so devices exercise the same
// call paths as in production.
type fakeBackend struct {
	ops     []string
	ips     []string
	classes map[string]backend.PathClass
}

func (f *fakeBackend) op(format string, args ...interface{}) {
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

func (f *fakeBackend) Kind() string { return "fake" }

func (f *fakeBackend) Create(ctx context.Context, name string, node *models.Node) error {
	f.op("create %s", name)
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, name string) error {
	f.op("delete %s", name)
	return nil
}

func (f *fakeBackend) Exec(ctx context.Context, name, command string) (string, string, error) {
	f.op("exec %s [%s]", name, command)
	return "", "", nil
}

func (f *fakeBackend) PushFile(ctx context.Context, name, localPath, remotePath string, recursive bool) error {
	f.op("push-file %s %s -> %s recursive=%v", name, localPath, remotePath, recursive)
	return nil
}

func (f *fakeBackend) PullFile(ctx context.Context, name, remotePath, localPath string, recursive bool) error {
	f.op("pull-file %s %s -> %s recursive=%v", name, remotePath, localPath, recursive)
	return nil
}

func (f *fakeBackend) PushDir(ctx context.Context, name, localDir, remoteDir string) error {
	f.op("push-dir %s %s -> %s", name, localDir, remoteDir)
	return nil
}

func (f *fakeBackend) PullDir(ctx context.Context, name, remoteDir, localDir string) error {
	f.op("pull-dir %s %s -> %s", name, remoteDir, localDir)
	return nil
}

func (f *fakeBackend) IPAddresses(ctx context.Context, name string) ([]string, error) {
	if len(f.ips) == 0 {
		return nil, fmt.Errorf("no IP address found for %s", name)
	}
	return f.ips, nil
}

func (f *fakeBackend) Exists(ctx context.Context, name string) bool { return true }

func (f *fakeBackend) Snapshot(ctx context.Context, name, snapshot string) error { return nil }

func (f *fakeBackend) Restore(ctx context.Context, name, snapshot string) error { return nil }

func (f *fakeBackend) Stop(ctx context.Context, name string) error { return nil }

func (f *fakeBackend) Start(ctx context.Context, name string) error { return nil }

func (f *fakeBackend) ClassifyPath(ctx context.Context, name, path string) (backend.PathClass, error) {
	if class, ok := f.classes[path]; ok {
		return class, nil
	}
	return backend.PathMissing, nil
}

func TestBackendDevicePushDispatchesOnLocalPathType(t *testing.T) {
	fb := &fakeBackend{}
	dev := NewBackendDevice("ood1", fb)

	dir := t.TempDir()
	file := filepath.Join(dir, "artifact.bin")
	if err := os.WriteFile(file, []byte("bits"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A local directory takes the directory path even with recursive=false
	if err := dev.Push(context.Background(), dir, "/opt/app", false); err != nil {
		t.Fatalf("Push dir failed: %v", err)
	}
	if !strings.HasPrefix(fb.ops[0], "push-dir ood1") {
		t.Errorf("Expected a directory transfer, got %q", fb.ops[0])
	}

	// A local file takes the file path with the caller's flag
	if err := dev.Push(context.Background(), file, "/opt/app/artifact.bin", true); err != nil {
		t.Fatalf("Push file failed: %v", err)
	}
	last := fb.ops[len(fb.ops)-1]
	if !strings.HasPrefix(last, "push-file ood1") || !strings.Contains(last, "recursive=true") {
		t.Errorf("Expected a file transfer with the supplied flag, got %q", last)
	}
}

func TestBackendDevicePushMissingLocalPath(t *testing.T) {
	dev := NewBackendDevice("ood1", &fakeBackend{})
	err := dev.Push(context.Background(), "/does/not/exist", "/opt/app", false)
	if err == nil {
		t.Fatal("Expected an error for a missing local path")
	}
	if !strings.Contains(err.Error(), "ood1") {
		t.Errorf("Expected the device id in the error, got: %v", err)
	}
}

func TestBackendDevicePullDispatchesOnRemoteClass(t *testing.T) {
	fb := &fakeBackend{classes: map[string]backend.PathClass{
		"/var/log/nodeos": backend.PathDirectory,
		"/etc/node.conf":  backend.PathFile,
	}}
	dev := NewBackendDevice("ood1", fb)

	if err := dev.Pull(context.Background(), "/var/log/nodeos", "/tmp/logs", false); err != nil {
		t.Fatalf("Pull dir failed: %v", err)
	}
	if !strings.HasPrefix(fb.ops[0], "pull-dir ood1") {
		t.Errorf("Expected a directory pull, got %q", fb.ops[0])
	}

	if err := dev.Pull(context.Background(), "/etc/node.conf", "/tmp/node.conf", false); err != nil {
		t.Fatalf("Pull file failed: %v", err)
	}
	last := fb.ops[len(fb.ops)-1]
	if !strings.HasPrefix(last, "pull-file ood1") {
		t.Errorf("Expected a file pull, got %q", last)
	}
}

func TestBackendDeviceInfoPrefersPrivateAddresses(t *testing.T) {
	fb := &fakeBackend{ips: []string{"172.17.0.2", "10.150.37.5"}}
	dev := NewBackendDevice("ood1", fb)

	info, err := dev.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info["ip"] != "10.150.37.5" {
		t.Errorf("Expected the private-range address, got %q", info["ip"])
	}
	if info["device_id"] != "ood1" {
		t.Errorf("Expected device_id ood1, got %q", info["device_id"])
	}

	// No private-range address: fall back to the first reported one
	fb = &fakeBackend{ips: []string{"203.0.113.9", "198.51.100.4"}}
	dev = NewBackendDevice("ood1", fb)
	info, err = dev.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info["ip"] != "203.0.113.9" {
		t.Errorf("Expected the first address as fallback, got %q", info["ip"])
	}
}

func TestBackendDeviceInfoErrorsWithoutAddresses(t *testing.T) {
	dev := NewBackendDevice("ood1", &fakeBackend{})
	if _, err := dev.Info(context.Background()); err == nil {
		t.Fatal("Expected an error when no addresses resolve")
	}
}

// fakeProcessRunner captures ssh/scp invocations.
type fakeProcessRunner struct {
	calls  [][]string
	stdout string
}

func (f *fakeProcessRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.stdout, "", nil
}

func newTestSSHDevice(runner commandRunner) *SSHDevice {
	d := NewSSHDevice("ext1", SSHOptions{
		Host:         "198.51.100.4",
		Port:         2222,
		User:         "ubuntu",
		IdentityFile: "/keys/id_rsa",
	})
	d.runner = runner
	return d
}

func TestSSHDeviceRunCommand(t *testing.T) {
	runner := &fakeProcessRunner{stdout: "ok\n"}
	dev := newTestSSHDevice(runner)

	stdout, _, err := dev.RunCommand(context.Background(), "systemctl status nodeos")
	if err != nil {
		t.Fatalf("RunCommand failed: %v", err)
	}
	if stdout != "ok\n" {
		t.Errorf("Unexpected stdout: %q", stdout)
	}

	call := strings.Join(runner.calls[0], " ")
	want := "ssh -o StrictHostKeyChecking=no -p 2222 -i /keys/id_rsa ubuntu@198.51.100.4 systemctl status nodeos"
	if call != want {
		t.Errorf("Unexpected ssh invocation:\n got %q\nwant %q", call, want)
	}
}

func TestSSHDevicePushDirectoryCreatesTargetAndCopiesContents(t *testing.T) {
	runner := &fakeProcessRunner{}
	dev := newTestSSHDevice(runner)

	dir := t.TempDir()
	if err := dev.Push(context.Background(), dir, "/opt/app", false); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	mkdir := strings.Join(runner.calls[0], " ")
	if !strings.Contains(mkdir, "mkdir -p /opt/app") {
		t.Errorf("Expected a mkdir over ssh first, got %q", mkdir)
	}
	scp := strings.Join(runner.calls[1], " ")
	if !strings.Contains(scp, "scp") || !strings.Contains(scp, "-r") {
		t.Errorf("Expected a recursive scp, got %q", scp)
	}
	if !strings.Contains(scp, dir+"/. ubuntu@198.51.100.4:/opt/app") {
		t.Errorf("Expected a contents copy, got %q", scp)
	}
}

func TestSSHDeviceInfoUsesRegisteredAddress(t *testing.T) {
	dev := newTestSSHDevice(&fakeProcessRunner{})
	info, err := dev.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info["ip"] != "198.51.100.4" || info["device_id"] != "ext1" {
		t.Errorf("Unexpected info: %v", info)
	}
}
