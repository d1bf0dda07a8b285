package runner

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neutron/internal/dispatch"
	"neutron/internal/errors"
	"neutron/internal/inventory"
	"neutron/internal/output"
	"neutron/internal/stats"
	"neutron/internal/target"
	"neutron/internal/task"
	"neutron/internal/transport"
)

// echoTransport answers every command with the line it received
type echoTransport struct {
	delay map[string]time.Duration

	mu       sync.Mutex
	lines    []string
	finished []string
}

func (e *echoTransport) Connect(_ context.Context, t target.Target, _ target.Credential) (transport.Conn, error) {
	return &echoConn{e: e, t: t}, nil
}

func (e *echoTransport) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.lines...)
}

type echoConn struct {
	e *echoTransport
	t target.Target
}

func (c *echoConn) Execute(ctx context.Context, line string) (*transport.Output, error) {
	c.e.mu.Lock()
	c.e.lines = append(c.e.lines, c.t.Host+": "+line)
	c.e.mu.Unlock()

	if d := c.e.delay[c.t.Host]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.e.mu.Lock()
	c.e.finished = append(c.e.finished, c.t.Host)
	c.e.mu.Unlock()
	if strings.HasSuffix(line, "true") {
		return &transport.Output{}, nil
	}
	return &transport.Output{Stdout: line + "\n"}, nil
}

func (c *echoConn) Close() error { return nil }

var (
	linux   = target.Target{Host: "linux1", Port: 22, Kind: target.KindSSH}
	windows = target.Target{Host: "win1", Port: 5985, Kind: target.KindWinRM}
)

type fixture struct {
	session   *Session
	transport *echoTransport
	report    *bytes.Buffer
	stats     *stats.Tracker
}

func newFixture(t *testing.T, dryRun bool, targets ...target.Target) *fixture {
	t.Helper()

	echo := &echoTransport{}
	d := dispatch.New(
		transport.Registry{target.KindSSH: echo, target.KindWinRM: echo},
		map[target.Kind]target.Credential{
			target.KindSSH:   {User: "ops", Password: "pw"},
			target.KindWinRM: {User: "admin", Password: "pw"},
		},
		nil,
	)
	d.SetConfig(dispatch.Config{Timeout: time.Second})

	report := &bytes.Buffer{}
	tracker := stats.NewTracker()
	s := NewSession(targets, d, output.NewFormatter(output.TextMode, report, false), Options{DryRun: dryRun, Stats: tracker})
	return &fixture{session: s, transport: echo, report: report, stats: tracker}
}

func TestInteractiveSessionTracksDirectories(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, linux, windows)
	in := strings.NewReader("cd /a\n\n   \ncd b\npwd\nEXIT\nhostname\n")
	var out bytes.Buffer

	require.NoError(t, f.session.RunInteractive(context.Background(), in, &out))

	assert.ElementsMatch(t, []string{
		"linux1: cd /a && cd b && pwd",
		"win1: cd /d /a && cd /d b && pwd",
	}, f.transport.executed())
	assert.Equal(t, 6, strings.Count(out.String(), Prompt))

	// linux1 renders before win1 regardless of completion order
	report := f.report.String()
	assert.Less(t, strings.Index(report, "linux1:22 (ssh)"), strings.Index(report, "win1:5985 (winrm)"))
	assert.Contains(t, report, "$ pwd")
	assert.NotContains(t, report, "hostname")

	s := f.stats.Statistics()
	assert.Equal(t, 3, s.Commands)
	assert.Equal(t, 2, s.DirectoryChanges)
}

func TestReportFollowsDeclarationOrder(t *testing.T) {
	t.Parallel()

	first := target.Target{Host: "db1", Port: 22, Kind: target.KindSSH}
	second := target.Target{Host: "db2", Port: 22, Kind: target.KindSSH}
	f := newFixture(t, false, first, second, windows)
	f.transport.delay = map[string]time.Duration{"db1": 150 * time.Millisecond}

	require.NoError(t, f.session.Execute(context.Background(), "uptime", nil))

	f.transport.mu.Lock()
	finished := append([]string(nil), f.transport.finished...)
	f.transport.mu.Unlock()
	require.Len(t, finished, 3)
	assert.Equal(t, "db1", finished[2])

	report := f.report.String()
	db1 := strings.Index(report, "db1:22 (ssh)")
	db2 := strings.Index(report, "db2:22 (ssh)")
	win := strings.Index(report, "win1:5985 (winrm)")
	require.NotEqual(t, -1, db1)
	assert.Less(t, db1, db2)
	assert.Less(t, db2, win)
}

func TestInteractiveEndsOnEOF(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, linux)
	require.NoError(t, f.session.RunInteractive(context.Background(), strings.NewReader("true"), io.Discard))

	assert.Equal(t, []string{"linux1: true"}, f.transport.executed())
	assert.Contains(t, f.report.String(), output.NoOutput)
}

func TestInteractiveEndsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, linux)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.session.RunInteractive(ctx, pr, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("interactive session did not stop on cancellation")
	}
}

func TestInteractivePrintsBanner(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, linux)
	f.session.banner = "NEUTRON"

	var out bytes.Buffer
	require.NoError(t, f.session.RunInteractive(context.Background(), strings.NewReader("quit\n"), &out))
	assert.True(t, strings.HasPrefix(out.String(), "NEUTRON\n"+Prompt))
}

func TestBatchRoutesTypedCommands(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, linux, windows)
	file, err := task.Parse([]byte(`
commands:
  - cd /srv
  - type: winrm
    command: ipconfig
  - type: ssh
    command: df -h
  - hostname
`))
	require.NoError(t, err)

	require.NoError(t, f.session.RunBatch(context.Background(), file))

	assert.ElementsMatch(t, []string{
		"win1: cd /d /srv && ipconfig",
		"linux1: cd /srv && df -h",
		"linux1: cd /srv && hostname",
		"win1: cd /d /srv && hostname",
	}, f.transport.executed())
}

func TestBatchStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, linux)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	file := &task.File{Commands: []task.Command{{Command: "uptime"}}}
	require.NoError(t, f.session.RunBatch(ctx, file))
	assert.Empty(t, f.transport.executed())
}

func TestBatchSurfacesConfigErrors(t *testing.T) {
	t.Parallel()

	echo := &echoTransport{}
	d := dispatch.New(transport.Registry{target.KindSSH: echo}, map[target.Kind]target.Credential{
		target.KindSSH: {User: "ops", Password: "pw"},
	}, nil)
	s := NewSession([]target.Target{windows}, d, output.NewFormatter(output.TextMode, io.Discard, false), Options{})

	err := s.RunBatch(context.Background(), &task.File{Commands: []task.Command{{Command: "ver"}}})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestDryRunDoesNotExecute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, linux)
	require.NoError(t, f.session.Execute(context.Background(), "cd /var/log", nil))
	require.NoError(t, f.session.Execute(context.Background(), "ls", nil))

	assert.Empty(t, f.transport.executed())
	assert.Contains(t, f.report.String(), "would run: cd /var/log && ls")
}

func TestEmptyInventoryNeverDispatches(t *testing.T) {
	t.Parallel()

	_, err := inventory.LoadRegistry(inventory.NewStaticInventory(), target.DefaultDefaults())
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))

	_, err = inventory.LoadRegistry(inventory.NewStaticInventory(map[string]any{"port": 22}), target.DefaultDefaults())
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestExecuteWithoutMatchingTargets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false, linux)
	kind := target.KindWinRM
	require.NoError(t, f.session.Execute(context.Background(), "ver", &kind))
	assert.Empty(t, f.transport.executed())
	assert.Empty(t, f.report.String())
}
