// Package workspace implements the environment orchestrator: it loads a
// workspace directory (topology, app catalog, optional external host
// registry) and drives multi-node operations over the bound VM backend,
// resolving `{{object.attribute}}` command templates against an environment
// snapshot built per command batch.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/virtlab/virtlab/internal/backend"
	"github.com/virtlab/virtlab/internal/device"
	"github.com/virtlab/virtlab/models"
)

// DefaultSettleDelay is the pause between provisioning the last node and
// running instance commands, giving guest services time to come up.
const DefaultSettleDelay = 10 * time.Second

// Options configures a workspace.
type Options struct {
	// Dir is the workspace directory holding nodes.json, apps/ and the
	// optional hosts.ini
	Dir string

	// BaseDir anchors relative app source paths; defaults to the parent
	// of Dir
	BaseDir string

	// SettleDelay is the post-provisioning pause before bring-up. Zero
	// disables it; the CLI config supplies DefaultSettleDelay.
	SettleDelay time.Duration
}

// Workspace is the orchestrator over one workspace directory. All methods
// address devices by node id and fan multi-device operations out
// sequentially, logging and continuing past per-device failures so one
// broken node does not block the rest.
type Workspace struct {
	dir         string
	baseDir     string
	settleDelay time.Duration

	topo    *models.Topology
	catalog *Catalog
	backend backend.Backend

	devices  map[string]device.Device
	external map[string]bool

	// hostRun executes a resolved command on the controlling host;
	// replaceable in tests
	hostRun func(ctx context.Context, command string) (string, string, error)
}

// Load builds a workspace from a directory. Nodes present in the host
// registry become ssh devices; every other node is reached through the
// backend.
func Load(be backend.Backend, opts Options) (*Workspace, error) {
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory %s: %w", opts.Dir, err)
	}

	topo, err := LoadTopology(filepath.Join(dir, TopologyFile))
	if err != nil {
		return nil, err
	}
	catalog, err := LoadCatalog(filepath.Join(dir, AppsDir))
	if err != nil {
		return nil, err
	}
	hosts, err := LoadHostRegistry(filepath.Join(dir, HostsFile))
	if err != nil {
		return nil, err
	}

	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = filepath.Dir(dir)
	}

	w := &Workspace{
		dir:         dir,
		baseDir:     baseDir,
		settleDelay: opts.SettleDelay,
		topo:        topo,
		catalog:     catalog,
		backend:     be,
		devices:     make(map[string]device.Device, len(topo.Nodes)),
		external:    make(map[string]bool),
		hostRun:     runHostCommand,
	}
	for _, id := range topo.NodeIDs() {
		if sshOpts, ok := hosts[id]; ok {
			w.devices[id] = device.NewSSHDevice(id, sshOpts)
			w.external[id] = true
			continue
		}
		w.devices[id] = device.NewBackendDevice(id, be)
	}
	return w, nil
}

// Topology returns the loaded topology.
func (w *Workspace) Topology() *models.Topology { return w.topo }

// Catalog returns the loaded app catalog.
func (w *Workspace) Catalog() *Catalog { return w.catalog }

// Device returns the device for a node id.
func (w *Workspace) Device(nodeID string) (device.Device, error) {
	dev, ok := w.devices[nodeID]
	if !ok {
		return nil, fmt.Errorf("unknown node %q in workspace %s", nodeID, w.dir)
	}
	return dev, nil
}

// NodeIDs returns every node id, sorted.
func (w *Workspace) NodeIDs() []string {
	ids := w.topo.NodeIDs()
	sort.Strings(ids)
	return ids
}

// selectNodes expands an id filter: empty means every node, otherwise each
// id must be declared.
func (w *Workspace) selectNodes(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return w.NodeIDs(), nil
	}
	for _, id := range ids {
		if w.topo.Node(id) == nil {
			return nil, fmt.Errorf("unknown node %q in workspace %s", id, w.dir)
		}
	}
	return ids, nil
}

func (w *Workspace) systemAttrs() map[string]string {
	attrs := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			attrs[k] = v
		}
	}
	attrs["base_dir"] = w.baseDir
	return attrs
}

// buildEnv assembles the full environment snapshot: host environment under
// "system" plus every reachable node's device info under its node id. Nodes
// whose info cannot be resolved are logged and left out, so referencing one
// later fails as an unresolved reference.
func (w *Workspace) buildEnv(ctx context.Context) *Snapshot {
	env := NewSnapshot()
	env.Set("system", w.systemAttrs())
	for _, id := range w.NodeIDs() {
		info, err := w.devices[id].Info(ctx)
		if err != nil {
			log.Printf("node %s has no resolvable device info: %v", id, err)
			continue
		}
		env.Set(id, info)
	}
	return env
}

// CreateVMs provisions every backend-managed node, waits for the settle
// delay, then runs instance commands in the declared boot order. A node's
// device info enters the environment snapshot when its turn in the order
// comes, so a command may reference nodes earlier in the order but not later
// ones. An unresolved reference aborts the whole bring-up.
func (w *Workspace) CreateVMs(ctx context.Context) error {
	for _, id := range w.NodeIDs() {
		if w.external[id] {
			log.Printf("node %s is an external host, skipping provisioning", id)
			continue
		}
		if w.backend.Exists(ctx, id) {
			log.Printf("node %s already exists, skipping provisioning", id)
			continue
		}
		log.Printf("creating node %s", id)
		if err := w.backend.Create(ctx, id, w.topo.Node(id)); err != nil {
			log.Printf("failed to create node %s: %v", id, err)
		}
	}

	if w.settleDelay > 0 {
		log.Printf("waiting %s for nodes to settle", w.settleDelay)
		select {
		case <-time.After(w.settleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	env := NewSnapshot()
	env.Set("system", w.systemAttrs())
	for _, id := range w.topo.BootOrder {
		dev := w.devices[id]
		info, err := dev.Info(ctx)
		if err != nil {
			return fmt.Errorf("bring-up failed: no device info for node %s: %w", id, err)
		}
		env.Set(id, info)

		for _, tpl := range w.topo.Node(id).InstanceCommands {
			command, err := env.Resolve(tpl)
			if err != nil {
				return fmt.Errorf("bring-up aborted at node %s: %w", id, err)
			}
			log.Printf("node %s: %s", id, command)
			stdout, stderr, err := dev.RunCommand(ctx, command)
			if err != nil {
				return fmt.Errorf("bring-up failed at node %s: %w", id, err)
			}
			logCommandOutput(id, stdout, stderr)
		}
	}
	return nil
}

// DeleteVMs removes the selected backend-managed nodes.
func (w *Workspace) DeleteVMs(ctx context.Context, nodes ...string) error {
	return w.forEachManaged(ctx, nodes, "delete", w.backend.Delete)
}

// StartVMs starts the selected backend-managed nodes.
func (w *Workspace) StartVMs(ctx context.Context, nodes ...string) error {
	return w.forEachManaged(ctx, nodes, "start", w.backend.Start)
}

// StopVMs stops the selected backend-managed nodes.
func (w *Workspace) StopVMs(ctx context.Context, nodes ...string) error {
	return w.forEachManaged(ctx, nodes, "stop", w.backend.Stop)
}

// SnapshotAll snapshots the selected backend-managed nodes under one name.
func (w *Workspace) SnapshotAll(ctx context.Context, snapshot string, nodes ...string) error {
	return w.forEachManaged(ctx, nodes, "snapshot", func(ctx context.Context, id string) error {
		return w.backend.Snapshot(ctx, id, snapshot)
	})
}

// RestoreAll restores the selected backend-managed nodes from one snapshot
// name.
func (w *Workspace) RestoreAll(ctx context.Context, snapshot string, nodes ...string) error {
	return w.forEachManaged(ctx, nodes, "restore", func(ctx context.Context, id string) error {
		return w.backend.Restore(ctx, id, snapshot)
	})
}

func (w *Workspace) forEachManaged(ctx context.Context, nodes []string, op string, f func(ctx context.Context, id string) error) error {
	ids, err := w.selectNodes(nodes)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if w.external[id] {
			log.Printf("node %s is an external host, skipping %s", id, op)
			continue
		}
		if err := f(ctx, id); err != nil {
			log.Printf("failed to %s node %s: %v", op, id, err)
		}
	}
	return nil
}

// Info collects device info for the selected nodes. A node whose info cannot
// be resolved reports the error instead of blocking the rest.
func (w *Workspace) Info(ctx context.Context, nodes ...string) (map[string]map[string]string, error) {
	ids, err := w.selectNodes(nodes)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(ids))
	for _, id := range ids {
		info, err := w.devices[id].Info(ctx)
		if err != nil {
			out[id] = map[string]string{"device_id": id, "error": err.Error()}
			continue
		}
		out[id] = info
	}
	return out, nil
}

// Install installs apps on one node: the app's build_all templates run on
// the controlling host, the source directory is pushed to the target path,
// and the install templates run on the device. With no explicit app list
// every catalog app is attempted; apps not declared on the node are skipped
// with a diagnostic. The first failing step aborts this node's remaining
// work; multi-node fan-out belongs to the caller.
func (w *Workspace) Install(ctx context.Context, nodeID string, apps []string) error {
	return w.deploy(ctx, nodeID, apps, "build_all", "install", "source", "target", false)
}

// Update refreshes apps on one node: build on the host, push the built
// binaries from source_bin to target_bin, then run the update templates on
// the device. Apps without a source_bin directory are skipped with a
// diagnostic.
func (w *Workspace) Update(ctx context.Context, nodeID string, apps []string) error {
	return w.deploy(ctx, nodeID, apps, "build", "update", "source_bin", "target_bin", true)
}

func (w *Workspace) deploy(ctx context.Context, nodeID string, apps []string, buildCmd, deviceCmd, srcDir, dstDir string, skipWithoutSrc bool) error {
	node := w.topo.Node(nodeID)
	if node == nil {
		return fmt.Errorf("unknown node %q in workspace %s", nodeID, w.dir)
	}
	dev := w.devices[nodeID]
	if len(apps) == 0 {
		apps = w.catalog.Names()
	}

	env := w.buildEnv(ctx)
	for _, appName := range apps {
		if !node.HasApp(appName) {
			log.Printf("SKIP: app %s is not declared on node %s", appName, nodeID)
			continue
		}
		app := w.catalog.App(appName)
		if app == nil {
			return fmt.Errorf("app %q is declared on node %s but missing from the catalog", appName, nodeID)
		}
		if skipWithoutSrc && app.Dir(srcDir) == "" {
			log.Printf("SKIP: app %s declares no %s directory", appName, srcDir)
			continue
		}

		appEnv := env.Clone()
		appEnv.Set(appName, w.topo.AppParams(nodeID, appName))

		if err := w.runAppCommand(ctx, dev, app, appEnv, buildCmd, true); err != nil {
			return err
		}

		src, dst := app.Dir(srcDir), app.Dir(dstDir)
		if src != "" && dst != "" {
			if !filepath.IsAbs(src) {
				src = filepath.Join(w.baseDir, src)
			}
			log.Printf("pushing %s to %s:%s", src, nodeID, dst)
			if err := dev.Push(ctx, src, dst, true); err != nil {
				return fmt.Errorf("failed to push %s for app %s on node %s: %w", src, appName, nodeID, err)
			}
		}

		if err := w.runAppCommand(ctx, dev, app, appEnv, deviceCmd, false); err != nil {
			return err
		}
	}
	return nil
}

// StartApps runs the start templates of the selected apps on one node.
func (w *Workspace) StartApps(ctx context.Context, nodeID string, apps []string) error {
	return w.lifecycle(ctx, nodeID, apps, "start")
}

// StopApps runs the stop templates of the selected apps on one node.
func (w *Workspace) StopApps(ctx context.Context, nodeID string, apps []string) error {
	return w.lifecycle(ctx, nodeID, apps, "stop")
}

func (w *Workspace) lifecycle(ctx context.Context, nodeID string, apps []string, commandName string) error {
	node := w.topo.Node(nodeID)
	if node == nil {
		return fmt.Errorf("unknown node %q in workspace %s", nodeID, w.dir)
	}
	dev := w.devices[nodeID]
	if len(apps) == 0 {
		apps = w.catalog.Names()
	}

	env := w.buildEnv(ctx)
	for _, appName := range apps {
		if !node.HasApp(appName) {
			log.Printf("SKIP: app %s is not declared on node %s", appName, nodeID)
			continue
		}
		app := w.catalog.App(appName)
		if app == nil {
			return fmt.Errorf("app %q is declared on node %s but missing from the catalog", appName, nodeID)
		}
		appEnv := env.Clone()
		appEnv.Set(appName, w.topo.AppParams(nodeID, appName))
		if err := w.runAppCommand(ctx, dev, app, appEnv, commandName, false); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteAppCommand runs one named app command on one node. Unlike the
// lifecycle operations, a command name the app does not declare is an error
// here, since the caller asked for it explicitly. Extra arguments become the
// app's "args" attribute for template resolution.
func (w *Workspace) ExecuteAppCommand(ctx context.Context, nodeID, appName, commandName string, args []string) error {
	node := w.topo.Node(nodeID)
	if node == nil {
		return fmt.Errorf("unknown node %q in workspace %s", nodeID, w.dir)
	}
	if !node.HasApp(appName) {
		return fmt.Errorf("app %q is not declared on node %s", appName, nodeID)
	}
	app := w.catalog.App(appName)
	if app == nil {
		return fmt.Errorf("app %q is declared on node %s but missing from the catalog", appName, nodeID)
	}
	if app.Command(commandName) == nil {
		return fmt.Errorf("app %q declares no %q command", appName, commandName)
	}

	env := w.buildEnv(ctx)
	params := make(map[string]string)
	for k, v := range w.topo.AppParams(nodeID, appName) {
		params[k] = v
	}
	params["args"] = strings.Join(args, " ")
	env.Set(appName, params)

	return w.runAppCommand(ctx, w.devices[nodeID], app, env, commandName, false)
}

// runAppCommand resolves and executes one named command of an app, either on
// the controlling host or on the device. Lifecycle callers tolerate apps
// that do not declare the command.
func (w *Workspace) runAppCommand(ctx context.Context, dev device.Device, app *models.App, env *Snapshot, name string, onHost bool) error {
	templates := app.Command(name)
	if templates == nil {
		log.Printf("app %s declares no %q command, skipping", app.Name, name)
		return nil
	}
	commands, err := env.ResolveAll(templates)
	if err != nil {
		return fmt.Errorf("app %s command %q: %w", app.Name, name, err)
	}
	for _, command := range commands {
		var stdout, stderr string
		if onHost {
			log.Printf("host: %s", command)
			stdout, stderr, err = w.hostRun(ctx, command)
		} else {
			log.Printf("node %s: %s", dev.NodeID(), command)
			stdout, stderr, err = dev.RunCommand(ctx, command)
		}
		if err != nil {
			return fmt.Errorf("app %s command %q failed: %w", app.Name, name, err)
		}
		logCommandOutput(dev.NodeID(), stdout, stderr)
	}
	return nil
}

// Run resolves and executes ad-hoc commands. An empty node id targets the
// controlling host.
func (w *Workspace) Run(ctx context.Context, nodeID string, templates []string) error {
	var dev device.Device
	label := "host"
	if nodeID != "" {
		var err error
		if dev, err = w.Device(nodeID); err != nil {
			return err
		}
		label = nodeID
	}

	env := w.buildEnv(ctx)
	commands, err := env.ResolveAll(templates)
	if err != nil {
		return err
	}
	for _, command := range commands {
		var stdout, stderr string
		if dev == nil {
			log.Printf("host: %s", command)
			stdout, stderr, err = w.hostRun(ctx, command)
		} else {
			log.Printf("node %s: %s", nodeID, command)
			stdout, stderr, err = dev.RunCommand(ctx, command)
		}
		if err != nil {
			return err
		}
		logCommandOutput(label, stdout, stderr)
	}
	return nil
}

// CollectLogs pulls every node's declared logs directory into
// targetDir/<node id>. The target directory is replaced wholesale, so each
// collection reflects exactly the current state. Nodes without a logs
// directory, and nodes whose pull fails, are logged and skipped.
func (w *Workspace) CollectLogs(ctx context.Context, targetDir string) error {
	if err := os.RemoveAll(targetDir); err != nil {
		return fmt.Errorf("failed to clear log target %s: %w", targetDir, err)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log target %s: %w", targetDir, err)
	}

	for _, id := range w.NodeIDs() {
		logsPath := w.topo.Node(id).Dir("logs")
		if logsPath == "" {
			log.Printf("node %s declares no logs directory, skipping", id)
			continue
		}
		dest := filepath.Join(targetDir, id)
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dest, err)
		}
		log.Printf("collecting %s:%s into %s", id, logsPath, dest)
		if err := w.devices[id].Pull(ctx, logsPath, dest, true); err != nil {
			log.Printf("failed to collect logs from node %s: %v", id, err)
		}
	}
	return nil
}

func runHostCommand(ctx context.Context, command string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return "", "", fmt.Errorf("failed to run host command: %w", err)
		}
	}
	return stdout.String(), stderr.String(), nil
}

func logCommandOutput(nodeID, stdout, stderr string) {
	if out := strings.TrimSpace(stdout); out != "" {
		log.Printf("[%s stdout] %s", nodeID, out)
	}
	if errOut := strings.TrimSpace(stderr); errOut != "" {
		log.Printf("[%s stderr] %s", nodeID, errOut)
	}
}
