package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neutron/internal/dispatch"
	"neutron/internal/errors"
	"neutron/internal/target"
)

var (
	alpha = target.Target{Host: "alpha", Port: 22, Kind: target.KindSSH}
	beta  = target.Target{Host: "beta", Port: 2222, Kind: target.KindSSH}
	gamma = target.Target{Host: "gamma", Port: 5985, Kind: target.KindWinRM}
)

func sampleResults() dispatch.Results {
	return dispatch.Results{
		gamma: {Target: gamma, Outcome: dispatch.Success, Stdout: "C:\\Users\\ops\r\n"},
		alpha: {Target: alpha, Outcome: dispatch.Success, Stdout: "one\ntwo\n", Stderr: "warn\n"},
		beta:  {Target: beta, Outcome: dispatch.Failure, ErrorDetail: "failed to connect to beta:2222: connection refused", ErrorType: errors.ConnectErrorType},
	}
}

func TestRenderFollowsDeclarationOrder(t *testing.T) {
	t.Parallel()

	order := []target.Target{beta, gamma, alpha}
	text := String(Render("whoami", sampleResults(), order))

	expected := strings.Join([]string{
		"beta:2222 (ssh)",
		"$ whoami",
		"error: failed to connect to beta:2222: connection refused",
		"",
		"gamma:5985 (winrm)",
		"$ whoami",
		"C:\\Users\\ops",
		"",
		"alpha:22 (ssh)",
		"$ whoami",
		"one",
		"two",
		"warn",
		"",
	}, "\n")
	assert.Equal(t, expected, text)
}

func TestRenderIsStableAcrossCalls(t *testing.T) {
	t.Parallel()

	order := []target.Target{alpha, beta, gamma}
	first := Render("id", sampleResults(), order)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Render("id", sampleResults(), order))
	}
}

func TestRenderMarkers(t *testing.T) {
	t.Parallel()

	results := dispatch.Results{
		alpha: {Target: alpha, Outcome: dispatch.Success},
		beta:  {Target: beta, Outcome: dispatch.Success, Stderr: "boom", ExitCode: 2, ErrorType: errors.RemoteExecutionErrorType},
	}

	lines := Render("true", results, []target.Target{alpha, beta, gamma})

	assert.Contains(t, lines, Line{Kind: EmptyLine, Text: NoOutput})
	assert.Contains(t, lines, Line{Kind: StderrLine, Text: "boom"})
	assert.Contains(t, lines, Line{Kind: ErrorLine, Text: "error: exit status 2"})
	// gamma was never dispatched
	assert.Equal(t, Line{Kind: ErrorLine, Text: "error: no result"}, lines[len(lines)-1])
}

func TestFormatterText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := NewFormatter(TextMode, &buf, false)

	require.NoError(t, f.WriteResults("whoami", sampleResults(), []target.Target{alpha}))
	assert.Equal(t, "alpha:22 (ssh)\n$ whoami\none\ntwo\nwarn\n", buf.String())
}

func TestFormatterTextWithColorKeepsContent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := NewFormatter(TextMode, &buf, true)

	require.NoError(t, f.WriteResults("ls", dispatch.Results{
		alpha: {Target: alpha, Outcome: dispatch.Success, Stdout: "a\tb\n"},
	}, []target.Target{alpha}))
	assert.Contains(t, buf.String(), "a\tb")
}

func TestFormatterJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := NewFormatter(JSONMode, &buf, false)

	order := []target.Target{gamma, beta, alpha, {Host: "delta", Port: 22, Kind: target.KindSSH}}
	require.NoError(t, f.WriteResults("whoami", sampleResults(), order))

	var records []ResultRecord
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var r ResultRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		records = append(records, r)
	}
	require.Len(t, records, 4)

	assert.Equal(t, "gamma", records[0].Host)
	assert.Equal(t, "winrm", records[0].Kind)
	assert.Equal(t, "success", records[0].Outcome)

	assert.Equal(t, "beta", records[1].Host)
	assert.Equal(t, "failure", records[1].Outcome)
	assert.Equal(t, "connect", records[1].ErrorType)

	assert.Equal(t, "alpha", records[2].Host)
	assert.Equal(t, "warn\n", records[2].Stderr)

	assert.Equal(t, "no result", records[3].Error)
}

func TestFormatterPlan(t *testing.T) {
	t.Parallel()

	plan := []dispatch.Planned{
		{Target: alpha, Line: "cd /srv && ls"},
		{Target: beta, Err: fmt.Errorf("bad template")},
	}

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(TextMode, &buf, false).WritePlan("ls", plan))
	assert.Equal(t, "alpha:22 (ssh)\n$ ls\nwould run: cd /srv && ls\n\nbeta:2222 (ssh)\n$ ls\nerror: bad template\n", buf.String())

	buf.Reset()
	require.NoError(t, NewFormatter(JSONMode, &buf, false).WritePlan("ls", plan[:1]))
	var record PlanRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.True(t, record.DryRun)
	assert.Equal(t, "cd /srv && ls", record.Line)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseMode("json")
	require.NoError(t, err)
	assert.Equal(t, JSONMode, mode)

	mode, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, TextMode, mode)

	_, err = ParseMode("streamed")
	assert.True(t, errors.IsConfig(err))
}
