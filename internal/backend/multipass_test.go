package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/virtlab/virtlab/models"
)

// fakeRunner records CLI invocations and serves canned responses keyed by
// the first argument (the multipass subcommand).
type fakeRunner struct {
	calls      [][]string
	stdout     map[string]string
	failOn     map[string]string // subcommand -> stderr
	blockOnCtx bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.blockOnCtx {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	if stderr, ok := f.failOn[sub]; ok {
		return "", stderr, errors.New("exit status 1")
	}
	return f.stdout[sub], "", nil
}

func newTestMultipass(runner cliRunner) *Multipass {
	m := NewMultipass(Options{Multipass: MultipassOptions{TemplateDir: "/ws/templates"}})
	m.runner = runner
	return m
}

func (f *fakeRunner) lastCall() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func TestMultipassCreateBuildsLaunchCommand(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestMultipass(runner)

	node := &models.Node{
		ID:       "ood1",
		Template: "node-base",
		Params:   models.ProvisionParams{CPUs: 2, Memory: "2G", Disk: "10G"},
		InitCommands: []string{
			"mkdir -p /opt/nodeos",
		},
	}

	if err := m.Create(context.Background(), "ood1", node); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	launch := runner.calls[0]
	want := []string{
		"multipass", "launch", "--name", "ood1",
		"--cpus", "2", "--memory", "2G", "--disk", "10G",
		"--cloud-init", "/ws/templates/node-base.yaml",
	}
	if strings.Join(launch, " ") != strings.Join(want, " ") {
		t.Errorf("Unexpected launch command:\n got %v\nwant %v", launch, want)
	}

	// Init commands run through exec right after the launch
	if len(runner.calls) != 2 {
		t.Fatalf("Expected launch + 1 exec, got %d calls", len(runner.calls))
	}
	execCall := runner.calls[1]
	if execCall[1] != "exec" || execCall[len(execCall)-1] != "mkdir -p /opt/nodeos" {
		t.Errorf("Unexpected init exec call: %v", execCall)
	}
}

func TestMultipassCreateDefaultsSizing(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestMultipass(runner)

	if err := m.Create(context.Background(), "n1", &models.Node{ID: "n1"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	launch := strings.Join(runner.calls[0], " ")
	for _, fragment := range []string{"--cpus 1", "--memory 1G", "--disk 5G"} {
		if !strings.Contains(launch, fragment) {
			t.Errorf("Expected %q in launch command %q", fragment, launch)
		}
	}
	if strings.Contains(launch, "--cloud-init") {
		t.Errorf("Expected no cloud-init for a node without a template, got %q", launch)
	}
}

func TestMultipassCreateReportsProviderFailure(t *testing.T) {
	runner := &fakeRunner{failOn: map[string]string{"launch": "launch failed: image not found"}}
	m := newTestMultipass(runner)

	err := m.Create(context.Background(), "n1", &models.Node{ID: "n1"})
	if err == nil {
		t.Fatal("Expected create to fail")
	}
	if !strings.Contains(err.Error(), "image not found") {
		t.Errorf("Expected provider stderr in error, got: %v", err)
	}
}

func TestParseIPv4Addresses(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{
			name:   "single address",
			output: "Name:           ood1\nState:          Running\nIPv4:           10.150.37.5\nRelease:        Ubuntu 24.04 LTS\n",
			want:   []string{"10.150.37.5"},
		},
		{
			name:   "multiple addresses across lines",
			output: "Name:           ood1\nIPv4:           10.150.37.5\n                172.17.0.1\n                192.168.64.7\nRelease:        Ubuntu 24.04 LTS\n",
			want:   []string{"10.150.37.5", "172.17.0.1", "192.168.64.7"},
		},
		{
			name:   "no addresses",
			output: "Name:           ood1\nState:          Stopped\n",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseIPv4Addresses(tt.output)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("parseIPv4Addresses() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMultipassIPAddressesErrorsWhenNoneFound(t *testing.T) {
	runner := &fakeRunner{stdout: map[string]string{"info": "Name: n1\nState: Stopped\n"}}
	m := newTestMultipass(runner)

	if _, err := m.IPAddresses(context.Background(), "n1"); err == nil {
		t.Fatal("Expected an error when the provider reports no addresses")
	}
}

func TestMultipassExistsMatchesInstanceColumn(t *testing.T) {
	runner := &fakeRunner{stdout: map[string]string{
		"list": "Name      State    IPv4         Image\nood1      Running  10.1.2.3     Ubuntu 24.04 LTS\nsn1       Running  10.1.2.4     Ubuntu 24.04 LTS\n",
	}}
	m := newTestMultipass(runner)

	if !m.Exists(context.Background(), "ood1") {
		t.Error("Expected ood1 to exist")
	}
	if m.Exists(context.Background(), "ood") {
		t.Error("Expected a prefix of an instance name not to match")
	}
}

func TestMultipassSnapshotSequenceAndStepFailure(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestMultipass(runner)

	if err := m.Snapshot(context.Background(), "n1", "clean"); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	var subcommands []string
	for _, call := range runner.calls {
		subcommands = append(subcommands, call[1])
	}
	if fmt.Sprint(subcommands) != fmt.Sprint([]string{"stop", "snapshot", "start"}) {
		t.Errorf("Unexpected snapshot sequence: %v", subcommands)
	}

	// A failing middle step aborts without running the rest; the error
	// names the step so the caller can decide on remediation.
	runner = &fakeRunner{failOn: map[string]string{"snapshot": "snapshot not supported"}}
	m = newTestMultipass(runner)
	err := m.Snapshot(context.Background(), "n1", "clean")
	if err == nil {
		t.Fatal("Expected snapshot to fail")
	}
	var step *StepError
	if !errors.As(err, &step) {
		t.Fatalf("Expected StepError, got %T", err)
	}
	if step.Step != "snapshot" {
		t.Errorf("Expected failing step %q, got %q", "snapshot", step.Step)
	}
	if len(runner.calls) != 2 {
		t.Errorf("Expected the sequence to abort after the failing step, got %d calls", len(runner.calls))
	}
}

func TestMultipassRestoreUsesDottedSnapshotName(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestMultipass(runner)

	if err := m.Restore(context.Background(), "n1", "clean"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	restore := runner.calls[1]
	if restore[1] != "restore" || restore[2] != "n1.clean" || restore[3] != "-d" {
		t.Errorf("Unexpected restore call: %v", restore)
	}
}

func TestMultipassPushDirCopiesContents(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestMultipass(runner)

	if err := m.PushDir(context.Background(), "n1", "/src/app", "/opt/app"); err != nil {
		t.Fatalf("PushDir failed: %v", err)
	}

	// First the target directory is created, then a recursive transfer of
	// the source contents follows.
	mkdir := runner.calls[0]
	if mkdir[1] != "exec" || mkdir[len(mkdir)-1] != "mkdir -p /opt/app" {
		t.Errorf("Expected a mkdir exec first, got %v", mkdir)
	}
	transfer := runner.lastCall()
	joined := strings.Join(transfer, " ")
	if !strings.Contains(joined, "transfer -r /src/app/. n1:/opt/app") {
		t.Errorf("Expected a contents transfer, got %q", joined)
	}
}

func TestMultipassExecTimeoutYieldsSyntheticStderr(t *testing.T) {
	runner := &fakeRunner{blockOnCtx: true}
	m := newTestMultipass(runner)
	m.execTimeout = 10 * time.Millisecond

	stdout, stderr, err := m.Exec(context.Background(), "n1", "sleep 600")
	if err != nil {
		t.Fatalf("Expected a timeout to be reported via stderr, got error: %v", err)
	}
	if stdout != "" {
		t.Errorf("Expected empty stdout, got %q", stdout)
	}
	if stderr != "command execution timed out" {
		t.Errorf("Unexpected synthetic stderr: %q", stderr)
	}
}

func TestMultipassClassifyPath(t *testing.T) {
	for output, want := range map[string]PathClass{
		"directory\n": PathDirectory,
		"file\n":      PathFile,
		"missing\n":   PathMissing,
	} {
		runner := &fakeRunner{stdout: map[string]string{"exec": output}}
		m := newTestMultipass(runner)
		got, err := m.ClassifyPath(context.Background(), "n1", "/var/log/nodeos")
		if err != nil {
			t.Fatalf("ClassifyPath failed: %v", err)
		}
		if got != want {
			t.Errorf("ClassifyPath(%q) = %v, want %v", strings.TrimSpace(output), got, want)
		}
	}
}
