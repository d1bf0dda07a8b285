package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"neutron/internal/dispatch"
	"neutron/internal/errors"
	"neutron/internal/target"
)

// Mode defines the available output formatting modes
type Mode string

const (
	// TextMode prints one block per target, styled when the writer is a terminal
	TextMode Mode = "text"

	// JSONMode emits one NDJSON object per target
	JSONMode Mode = "json"
)

// ParseMode validates an output mode setting
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case TextMode, JSONMode:
		return Mode(s), nil
	case "":
		return TextMode, nil
	default:
		return "", errors.NewConfigError(fmt.Sprintf("invalid output mode '%s': must be text or json", s), nil)
	}
}

// Formatter writes reports in declaration order
type Formatter struct {
	mode   Mode
	writer io.Writer
	styles *styles // nil prints text unstyled
	mu     sync.Mutex
}

// NewFormatter creates a formatter for mode. Styling is applied only when
// color is true and the writer supports it.
func NewFormatter(mode Mode, writer io.Writer, color bool) *Formatter {
	if writer == nil {
		writer = os.Stdout
	}

	f := &Formatter{mode: mode, writer: writer}
	if color {
		s := newStyles(lipgloss.NewRenderer(writer))
		f.styles = &s
	}
	return f
}

// WriteResults prints the results of one command for every target in order
func (f *Formatter) WriteResults(command string, results dispatch.Results, order []target.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mode == JSONMode {
		for _, t := range order {
			if err := f.writeJSON(newResultRecord(command, t, results[t])); err != nil {
				return err
			}
		}
		return nil
	}

	return f.writeLines(Render(command, results, order))
}

// WritePlan prints the lines a command would run without running them
func (f *Formatter) WritePlan(command string, plan []dispatch.Planned) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mode == JSONMode {
		for _, p := range plan {
			record := PlanRecord{
				Host:    p.Target.Host,
				Port:    p.Target.Port,
				Kind:    p.Target.Kind.String(),
				Command: command,
				Line:    p.Line,
				DryRun:  true,
			}
			if p.Err != nil {
				record.Error = p.Err.Error()
			}
			if err := f.writeJSON(record); err != nil {
				return err
			}
		}
		return nil
	}

	var lines []Line
	for i, p := range plan {
		if i > 0 {
			lines = append(lines, Line{Kind: SeparatorLine})
		}
		lines = append(lines,
			Line{Kind: HeaderLine, Text: p.Target.String()},
			Line{Kind: CommandLine, Text: "$ " + command},
		)
		if p.Err != nil {
			lines = append(lines, Line{Kind: ErrorLine, Text: "error: " + p.Err.Error()})
		} else {
			lines = append(lines, Line{Kind: StdoutLine, Text: "would run: " + p.Line})
		}
	}
	return f.writeLines(lines)
}

// WriteSummary prints a free-form summary block in text mode and a single
// {"summary": ...} object in JSON mode
func (f *Formatter) WriteSummary(summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mode == JSONMode {
		return f.writeJSON(struct {
			Summary string `json:"summary"`
		}{summary})
	}

	if f.styles != nil {
		summary = f.styles.summary.Render(summary)
	}
	if _, err := fmt.Fprintln(f.writer, summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func (f *Formatter) writeLines(lines []Line) error {
	for _, line := range lines {
		text := line.Text
		if f.styles != nil && text != "" {
			text = f.styles.forKind(line.Kind).Render(text)
		}
		if _, err := fmt.Fprintln(f.writer, text); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func (f *Formatter) writeJSON(v any) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := fmt.Fprintf(f.writer, "%s\n", jsonBytes); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

// ResultRecord is the NDJSON shape of one target's result
type ResultRecord struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Kind       string `json:"kind"`
	Command    string `json:"command"`
	Line       string `json:"line,omitempty"`
	Outcome    string `json:"outcome"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	ErrorType  string `json:"error_type,omitempty"`
}

// PlanRecord is the NDJSON shape of one dry-run line
type PlanRecord struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Kind    string `json:"kind"`
	Command string `json:"command"`
	Line    string `json:"line"`
	DryRun  bool   `json:"dry_run"`
	Error   string `json:"error,omitempty"`
}

func newResultRecord(command string, t target.Target, r *dispatch.Result) ResultRecord {
	record := ResultRecord{
		Host:    t.Host,
		Port:    t.Port,
		Kind:    t.Kind.String(),
		Command: command,
	}

	if r == nil {
		record.Outcome = dispatch.Failure.String()
		record.Error = "no result"
		return record
	}

	record.Line = r.Line
	record.Outcome = r.Outcome.String()
	record.Stdout = r.Stdout
	record.Stderr = r.Stderr
	record.ExitCode = r.ExitCode
	record.DurationMs = r.Duration.Milliseconds()

	switch {
	case r.Outcome == dispatch.Failure:
		record.Error = r.ErrorDetail
		record.ErrorType = r.ErrorType.String()
	case r.ExitCode != 0:
		record.Error = fmt.Sprintf("exit status %d", r.ExitCode)
		record.ErrorType = r.ErrorType.String()
	}
	return record
}
