// Package runner feeds commands to the dispatcher, one at a time, from an
// interactive prompt or a task file.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"neutron/internal/dispatch"
	"neutron/internal/logging"
	"neutron/internal/output"
	"neutron/internal/session"
	"neutron/internal/stats"
	"neutron/internal/target"
	"neutron/internal/task"
)

// Prompt is printed before every interactive command
const Prompt = "neutron> "

// Options tune a Session
type Options struct {
	DryRun bool           // Print per-target lines instead of executing
	Stats  *stats.Tracker // Optional run statistics
	Logger *logging.Logger
	Banner string // Printed once when an interactive session starts
}

// Session owns the per-target directory state for one run and renders every
// command fully before the next one starts.
type Session struct {
	targets    []target.Target
	dispatcher *dispatch.Dispatcher
	formatter  *output.Formatter
	state      *session.Tracker
	stats      *stats.Tracker
	logger     *logging.Logger
	dryRun     bool
	banner     string
}

// NewSession creates a session over targets in declaration order
func NewSession(targets []target.Target, d *dispatch.Dispatcher, f *output.Formatter, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Session{
		targets:    targets,
		dispatcher: d,
		formatter:  f,
		state:      session.NewTracker(),
		stats:      opts.Stats,
		logger:     logger,
		dryRun:     opts.DryRun,
		banner:     opts.Banner,
	}
}

// Targets returns the session's targets, optionally restricted to one kind
func (s *Session) Targets(kind *target.Kind) []target.Target {
	if kind == nil {
		return s.targets
	}
	subset := make([]target.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if t.Kind == *kind {
			subset = append(subset, t)
		}
	}
	return subset
}

// Execute dispatches command to every target, or to the targets of kind when
// it is non-nil, and writes the report. The error is non-nil only for
// configuration problems and output failures; per-target failures are part of
// the report.
func (s *Session) Execute(ctx context.Context, command string, kind *target.Kind) error {
	targets := s.Targets(kind)
	if len(targets) == 0 {
		s.logger.Warn("no targets for command", "kind", kindName(kind))
		return nil
	}

	if s.dryRun {
		plan := s.dispatcher.Plan(command, targets, s.state)
		if plan == nil {
			s.recordDirectoryChange()
			return nil
		}
		return s.formatter.WritePlan(command, plan)
	}

	results, err := s.dispatcher.Dispatch(ctx, command, targets, s.state)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		s.recordDirectoryChange()
		return nil
	}

	if s.stats != nil {
		s.stats.Record(results)
	}
	return s.formatter.WriteResults(command, results, targets)
}

func (s *Session) recordDirectoryChange() {
	if s.stats != nil {
		s.stats.RecordDirectoryChange()
	}
}

func kindName(kind *target.Kind) string {
	if kind == nil {
		return "all"
	}
	return kind.String()
}

// isQuit reports whether line ends an interactive session
func isQuit(line string) bool {
	switch strings.ToLower(line) {
	case "exit", "quit":
		return true
	}
	return false
}

// RunInteractive reads one command per line from in until exit, quit, EOF
// or ctx cancellation, all of which return nil. Prompts and command errors go
// to out; reports go to the session formatter.
func (s *Session) RunInteractive(ctx context.Context, in io.Reader, out io.Writer) error {
	if s.banner != "" {
		fmt.Fprintln(out, s.banner)
	}

	// The scanner blocks in Read, so it runs on its own goroutine and the
	// loop selects between the next line and cancellation.
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, Prompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			s.logger.Info("session interrupted")
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("failed to read command: %w", err)
					}
				default:
				}
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if isQuit(line) {
			return nil
		}

		if err := s.Execute(ctx, line, nil); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			s.logger.Info("session interrupted")
			return nil
		}
	}
}

// RunBatch plays every command of f in order. Typed commands only reach
// targets of their kind. Cancellation stops the batch between commands and
// is not an error.
func (s *Session) RunBatch(ctx context.Context, f *task.File) error {
	for i, cmd := range f.Commands {
		if ctx.Err() != nil {
			s.logger.Info("batch interrupted", "completed", i, "total", len(f.Commands))
			return nil
		}

		s.logger.Debug("running task command", "index", i+1, "total", len(f.Commands), "kind", kindName(cmd.Kind))
		if err := s.Execute(ctx, cmd.Command, cmd.Kind); err != nil {
			return fmt.Errorf("command %d: %w", i+1, err)
		}
	}
	return nil
}
