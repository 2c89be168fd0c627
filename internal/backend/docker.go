package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/virtlab/virtlab/models"
)

// DockerOptions configures the docker backend.
type DockerOptions struct {
	// Host is the Docker daemon address; empty means environment defaults
	// (DOCKER_HOST or the local socket)
	Host string `mapstructure:"host"`

	// DefaultImage is the image used for nodes without a template reference
	DefaultImage string `mapstructure:"default_image"`

	// PullImages pulls the node image before creating the container
	PullImages bool `mapstructure:"pull_images"`
}

// Docker drives the Docker Engine API. One long-running container per node,
// named by node id; the node's provisioning template is an image reference.
//
// Snapshots are container commits: snapshot stops the container, commits it
// to virtlab/<name>:<snapshot>, and starts it again. Restore stops and
// removes the container, recreates it from the committed image, and starts
// it. As with the multipass backend, a mid-sequence failure leaves the
// container in its last-reached state.
type Docker struct {
	cli         *client.Client
	opts        DockerOptions
	execTimeout time.Duration
}

// NewDocker creates a docker backend connected to the configured daemon.
func NewDocker(opts Options) (*Docker, error) {
	clientOpts := []client.Opt{client.WithAPIVersionNegotiation()}
	if opts.Docker.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Docker.Host))
	} else {
		clientOpts = append(clientOpts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Docker{
		cli:         cli,
		opts:        opts.Docker,
		execTimeout: opts.execTimeout(),
	}, nil
}

func (d *Docker) Kind() string { return KindDocker }

func (d *Docker) nodeImage(node *models.Node) string {
	if node != nil && node.Template != "" {
		return node.Template
	}
	if d.opts.DefaultImage != "" {
		return d.opts.DefaultImage
	}
	return "ubuntu:24.04"
}

func (d *Docker) Create(ctx context.Context, name string, node *models.Node) error {
	img := d.nodeImage(node)
	log.Printf("create container %s from image %s", name, img)

	if d.opts.PullImages {
		reader, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("failed to pull image %s: %w", img, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	config, hostConfig, err := buildContainerConfig(img, node)
	if err != nil {
		return fmt.Errorf("failed to build config for %s: %w", name, err)
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		log.Printf("Failed to create container %s: %v", name, err)
		return fmt.Errorf("failed to create container %s: %w", name, err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Do not leave a half-created container behind
		_ = d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}

	log.Printf("create container %s success, executing init commands...", name)
	for _, cmd := range node.InitCommands {
		d.Exec(ctx, name, cmd)
	}
	return nil
}

func (d *Docker) Delete(ctx context.Context, name string) error {
	log.Printf("delete container %s ...", name)
	err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil {
		log.Printf("Failed to delete container %s: %v", name, err)
		return fmt.Errorf("failed to delete container %s: %w", name, err)
	}
	log.Printf("delete container %s success", name)
	return nil
}

// Exec runs a shell command inside the container. Output is demultiplexed
// into stdout and stderr; a timeout yields a synthetic stderr value.
func (d *Docker) Exec(ctx context.Context, name, command string) (string, string, error) {
	log.Printf("exec [ %s ] on container %s ...", command, name)
	execCtx, cancel := context.WithTimeout(ctx, d.execTimeout)
	defer cancel()

	execResp, err := d.cli.ContainerExecCreate(execCtx, name, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"/bin/sh", "-c", command},
	})
	if err != nil {
		return "", fmt.Sprintf("failed to create exec instance: %v", err), nil
	}

	resp, err := d.cli.ContainerExecAttach(execCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Sprintf("failed to attach to exec instance: %v", err), nil
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return "", "command execution timed out", nil
		}
		return stdout.String(), fmt.Sprintf("failed to read exec output: %v", err), nil
	}
	return stdout.String(), stderr.String(), nil
}

func (d *Docker) PushFile(ctx context.Context, name, localPath, remotePath string, recursive bool) error {
	log.Printf("push file %s to %s:%s ...", localPath, name, remotePath)
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to push %s to %s:%s: %w", localPath, name, remotePath, err)
	}
	if info.IsDir() {
		return d.PushDir(ctx, name, localPath, remotePath)
	}

	archive, err := tarFile(localPath, remoteBase(remotePath))
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", localPath, err)
	}
	dstDir := remoteParent(remotePath)
	if err := d.cli.CopyToContainer(ctx, name, dstDir, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to push %s to %s:%s: %w", localPath, name, remotePath, err)
	}
	return nil
}

func (d *Docker) PullFile(ctx context.Context, name, remotePath, localPath string, recursive bool) error {
	log.Printf("pull file %s:%s to %s ...", name, remotePath, localPath)
	reader, stat, err := d.cli.CopyFromContainer(ctx, name, remotePath)
	if err != nil {
		return fmt.Errorf("failed to pull %s:%s to %s: %w", name, remotePath, localPath, err)
	}
	defer reader.Close()

	if stat.Mode.IsDir() {
		return untarInto(reader, localPath, remoteBase(remotePath))
	}
	return untarSingleFile(reader, localPath)
}

func (d *Docker) PushDir(ctx context.Context, name, localDir, remoteDir string) error {
	if _, _, err := d.Exec(ctx, name, "mkdir -p "+remoteDir); err != nil {
		return fmt.Errorf("failed to create %s:%s: %w", name, remoteDir, err)
	}
	// Archive the directory contents so nothing nests one level deeper
	archive, err := tarDirectory(localDir)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", localDir, err)
	}
	if err := d.cli.CopyToContainer(ctx, name, remoteDir, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to push %s to %s:%s: %w", localDir, name, remoteDir, err)
	}
	return nil
}

func (d *Docker) PullDir(ctx context.Context, name, remoteDir, localDir string) error {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", localDir, err)
	}
	reader, _, err := d.cli.CopyFromContainer(ctx, name, remoteDir)
	if err != nil {
		return fmt.Errorf("failed to pull %s:%s to %s: %w", name, remoteDir, localDir, err)
	}
	defer reader.Close()
	return untarInto(reader, localDir, remoteBase(remoteDir))
}

func (d *Docker) IPAddresses(ctx context.Context, name string) ([]string, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	var ips []string
	if info.NetworkSettings != nil {
		for _, netw := range info.NetworkSettings.Networks {
			if netw.IPAddress != "" {
				ips = append(ips, netw.IPAddress)
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP address found for container %s", name)
	}
	return ips, nil
}

func (d *Docker) Exists(ctx context.Context, name string) bool {
	_, err := d.cli.ContainerInspect(ctx, name)
	return err == nil
}

func (d *Docker) snapshotImage(name, snapshot string) string {
	return fmt.Sprintf("virtlab/%s:%s", name, snapshot)
}

func (d *Docker) Snapshot(ctx context.Context, name, snapshot string) error {
	log.Printf("create snapshot %s on container %s ...", snapshot, name)
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return &StepError{Op: "snapshot", Step: "stop", Err: err}
	}
	if _, err := d.cli.ContainerCommit(ctx, name, container.CommitOptions{Reference: d.snapshotImage(name, snapshot)}); err != nil {
		return &StepError{Op: "snapshot", Step: "snapshot", Err: err}
	}
	if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return &StepError{Op: "snapshot", Step: "start", Err: err}
	}
	log.Printf("create snapshot %s on container %s success", snapshot, name)
	return nil
}

func (d *Docker) Restore(ctx context.Context, name, snapshot string) error {
	log.Printf("restore container %s to snapshot %s ...", name, snapshot)
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return &StepError{Op: "restore", Step: "stop", Err: err}
	}
	if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return &StepError{Op: "restore", Step: "restore", Err: err}
	}
	config, hostConfig, err := buildContainerConfig(d.snapshotImage(name, snapshot), nil)
	if err != nil {
		return &StepError{Op: "restore", Step: "restore", Err: err}
	}
	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return &StepError{Op: "restore", Step: "restore", Err: err}
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return &StepError{Op: "restore", Step: "start", Err: err}
	}
	log.Printf("restore container %s to snapshot %s success", name, snapshot)
	return nil
}

func (d *Docker) Stop(ctx context.Context, name string) error {
	log.Printf("stop container %s ...", name)
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		log.Printf("Failed to stop container %s: %v", name, err)
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	log.Printf("stop container %s success", name)
	return nil
}

func (d *Docker) Start(ctx context.Context, name string) error {
	log.Printf("start container %s ...", name)
	if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		log.Printf("Failed to start container %s: %v", name, err)
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	log.Printf("start container %s success", name)
	return nil
}

// ClassifyPath uses the engine's stat endpoint instead of a shell probe.
func (d *Docker) ClassifyPath(ctx context.Context, name, path string) (PathClass, error) {
	stat, err := d.cli.ContainerStatPath(ctx, name, path)
	if err != nil {
		if client.IsErrNotFound(err) {
			return PathMissing, nil
		}
		return PathMissing, fmt.Errorf("failed to classify %s:%s: %w", name, path, err)
	}
	if stat.Mode.IsDir() {
		return PathDirectory, nil
	}
	return PathFile, nil
}

// buildContainerConfig assembles the container and host configuration for a
// node. The container runs an idle init command so it stays up for exec and
// transfer operations; node network params may declare host port bindings as
// "ports: 8080:80/tcp,9090:90".
func buildContainerConfig(img string, node *models.Node) (*container.Config, *container.HostConfig, error) {
	config := &container.Config{
		Image: img,
		Cmd:   []string{"sleep", "infinity"},
	}
	hostConfig := &container.HostConfig{}

	if node == nil {
		return config, hostConfig, nil
	}

	if portSpec := node.Network["ports"]; portSpec != "" {
		exposed, bindings, err := nat.ParsePortSpecs(strings.Split(portSpec, ","))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port spec %q: %w", portSpec, err)
		}
		config.ExposedPorts = exposed
		hostConfig.PortBindings = bindings
	}

	if node.Params.CPUs > 0 {
		hostConfig.NanoCPUs = int64(node.Params.CPUs) * 1e9
	}

	return config, hostConfig, nil
}
