// Package stats accumulates run statistics across every dispatched command.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"neutron/internal/dispatch"
	"neutron/internal/errors"
)

// Statistics is a snapshot of the run so far
type Statistics struct {
	StartTime        time.Time
	Commands         int // Commands that reached the dispatcher, directory changes included
	DirectoryChanges int
	Executions       int // Target results across all commands
	Successful       int // Results whose command ran and exited zero
	NonZeroExit      int // Results whose command ran and exited non-zero
	Failed           int // Results whose command never ran
	BytesReceived    int64
	Elapsed          time.Duration
}

// Tracker records results as a session progresses
type Tracker struct {
	mu     sync.Mutex
	stats  Statistics
	errors *errors.ErrorCollector
}

// NewTracker creates a tracker started now
func NewTracker() *Tracker {
	return &Tracker{
		stats:  Statistics{StartTime: time.Now()},
		errors: errors.NewErrorCollector(),
	}
}

// RecordDirectoryChange counts a command that only updated session state
func (t *Tracker) RecordDirectoryChange() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Commands++
	t.stats.DirectoryChanges++
}

// Record counts the results of one dispatched command
func (t *Tracker) Record(results dispatch.Results) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Commands++
	for _, r := range results {
		t.stats.Executions++
		t.stats.BytesReceived += int64(len(r.Stdout) + len(r.Stderr))

		switch {
		case r.Outcome == dispatch.Failure:
			t.stats.Failed++
		case r.ExitCode != 0:
			t.stats.NonZeroExit++
		default:
			t.stats.Successful++
		}

		if r.HasError() {
			t.errors.Add(r.Err)
		}
	}
}

// Statistics returns a copy of the current statistics
func (t *Tracker) Statistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats
	s.Elapsed = time.Since(s.StartTime)
	return s
}

// Errors returns a summary of errors by type, empty when there were none
func (t *Tracker) Errors() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.errors.HasErrors() {
		return ""
	}
	return t.errors.Summary()
}

// Summary renders the final statistics block
func (t *Tracker) Summary() string {
	s := t.Statistics()
	errSummary := t.Errors()

	var b strings.Builder
	fmt.Fprintf(&b, "Run statistics:\n")
	fmt.Fprintf(&b, "  Commands: %d (%d directory changes)\n", s.Commands, s.DirectoryChanges)
	fmt.Fprintf(&b, "  Executions: %d\n", s.Executions)
	if s.Executions > 0 {
		fmt.Fprintf(&b, "  Successful: %d (%.1f%%)\n", s.Successful, percent(s.Successful, s.Executions))
		fmt.Fprintf(&b, "  Non-zero exit: %d (%.1f%%)\n", s.NonZeroExit, percent(s.NonZeroExit, s.Executions))
		fmt.Fprintf(&b, "  Failed: %d (%.1f%%)\n", s.Failed, percent(s.Failed, s.Executions))
	}
	fmt.Fprintf(&b, "  Output received: %s\n", formatBytes(s.BytesReceived))
	if errSummary != "" {
		fmt.Fprintf(&b, "  Errors: %s\n", errSummary)
	}
	fmt.Fprintf(&b, "  Elapsed: %v", s.Elapsed.Round(time.Millisecond))
	return b.String()
}

func percent(n, total int) float64 {
	return float64(n) / float64(total) * 100
}

// formatBytes formats byte count in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
