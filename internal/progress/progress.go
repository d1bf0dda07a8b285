// Package progress draws a completion bar while a fan-out is in flight.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"neutron/internal/dispatch"
)

const barWidth = 30

// Bar tracks targets completed during one dispatch and redraws a single line
type Bar struct {
	mu        sync.Mutex
	writer    io.Writer
	total     int
	completed int
	failed    int
	startTime time.Time
	lastDraw  time.Time
	throttle  time.Duration

	filled lipgloss.Style
	empty  lipgloss.Style
}

// New creates a bar writing to w, usually stderr
func New(w io.Writer) *Bar {
	r := lipgloss.NewRenderer(w)
	return &Bar{
		writer:   w,
		throttle: 100 * time.Millisecond,
		filled:   r.NewStyle().Foreground(lipgloss.Color("39")),
		empty:    r.NewStyle().Foreground(lipgloss.Color("238")),
	}
}

// Started resets the counters for a new dispatch
func (b *Bar) Started(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total = total
	b.completed = 0
	b.failed = 0
	b.startTime = time.Now()
	b.lastDraw = time.Time{}
}

// Completed counts one finished target
func (b *Bar) Completed(r *dispatch.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.Outcome == dispatch.Success {
		b.completed++
	} else {
		b.failed++
	}

	now := time.Now()
	if now.Sub(b.lastDraw) < b.throttle {
		return
	}
	b.lastDraw = now
	b.draw()
}

// Finished clears the bar so the report starts on a clean line
func (b *Bar) Finished() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total == 0 {
		return
	}
	fmt.Fprintf(b.writer, "\r%s\r", strings.Repeat(" ", barWidth+40))
}

// Counts returns the current success and failure counts
func (b *Bar) Counts() (completed, failed, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed, b.failed, b.total
}

func (b *Bar) draw() {
	if b.total == 0 {
		return
	}

	done := b.completed + b.failed
	filled := barWidth * done / b.total

	// [██████░░░░] 3/5 ✓2 ✗1 [1s]
	fmt.Fprintf(b.writer, "\r[%s%s] %d/%d ✓%d ✗%d [%v]",
		b.filled.Render(strings.Repeat("█", filled)),
		b.empty.Render(strings.Repeat("░", barWidth-filled)),
		done, b.total, b.completed, b.failed,
		time.Since(b.startTime).Round(time.Second))
}

var _ dispatch.Observer = (*Bar)(nil)
