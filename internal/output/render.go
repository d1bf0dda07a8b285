// Package output turns dispatch results into a host-ordered report.
package output

import (
	"fmt"
	"strings"

	"neutron/internal/dispatch"
	"neutron/internal/target"
)

// LineKind tells the formatter how to present a rendered line
type LineKind int

const (
	HeaderLine LineKind = iota
	CommandLine
	StdoutLine
	StderrLine
	ErrorLine
	EmptyLine // The "(no output)" marker
	SeparatorLine
)

// NoOutput marks a successful command that printed nothing
const NoOutput = "(no output)"

// Line is one line of the report
type Line struct {
	Kind LineKind
	Text string
}

// Render lays out one block per target in order, never in completion order.
// A target in order with no entry in results renders "error: no result".
func Render(command string, results dispatch.Results, order []target.Target) []Line {
	var lines []Line
	for i, t := range order {
		if i > 0 {
			lines = append(lines, Line{Kind: SeparatorLine})
		}
		lines = append(lines, renderBlock(command, t, results[t])...)
	}
	return lines
}

func renderBlock(command string, t target.Target, r *dispatch.Result) []Line {
	lines := []Line{
		{Kind: HeaderLine, Text: t.String()},
		{Kind: CommandLine, Text: "$ " + command},
	}

	if r == nil {
		return append(lines, Line{Kind: ErrorLine, Text: "error: no result"})
	}

	if r.Outcome == dispatch.Failure {
		return append(lines, Line{Kind: ErrorLine, Text: "error: " + r.ErrorDetail})
	}

	lines = appendStream(lines, StdoutLine, r.Stdout)
	lines = appendStream(lines, StderrLine, r.Stderr)

	if r.ExitCode != 0 {
		lines = append(lines, Line{Kind: ErrorLine, Text: fmt.Sprintf("error: exit status %d", r.ExitCode)})
	}

	if r.Stdout == "" && r.Stderr == "" && r.ExitCode == 0 {
		lines = append(lines, Line{Kind: EmptyLine, Text: NoOutput})
	}

	return lines
}

// appendStream splits output into lines, dropping one trailing newline and
// carriage returns from Windows hosts
func appendStream(lines []Line, kind LineKind, stream string) []Line {
	if stream == "" {
		return lines
	}
	stream = strings.ReplaceAll(stream, "\r\n", "\n")
	stream = strings.TrimSuffix(stream, "\n")
	for _, text := range strings.Split(stream, "\n") {
		lines = append(lines, Line{Kind: kind, Text: text})
	}
	return lines
}

// String joins rendered lines as plain text
func String(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
