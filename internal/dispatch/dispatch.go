// Package dispatch fans one command out to many targets concurrently and
// collects exactly one Result per target.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"neutron/internal/errors"
	"neutron/internal/logging"
	"neutron/internal/session"
	"neutron/internal/target"
	"neutron/internal/template"
	"neutron/internal/transport"
)

const (
	// AutoConcurrencyLimit caps the worker count in auto mode
	AutoConcurrencyLimit = 32
	// MaxConcurrency is the highest accepted explicit concurrency
	MaxConcurrency = 1000
	// DefaultTimeout bounds a single target's connect plus execute
	DefaultTimeout = 60 * time.Second
)

// Error details reported for results that never produced output
const (
	DetailTimeout     = "timeout"
	DetailInterrupted = "interrupted"
)

// Config holds fan-out parameters
type Config struct {
	Concurrency int           // Maximum number of concurrent targets (0 for auto)
	Timeout     time.Duration // Per-target deadline covering connect and execute
	Templates   bool          // Expand inline {{...}} placeholders per target
}

// DefaultConfig returns auto concurrency and the default per-target timeout
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout}
}

// ParseConcurrency parses a concurrency setting; "auto" and "" select auto mode
func ParseConcurrency(concurrencyStr string) (int, error) {
	if concurrencyStr == "" || concurrencyStr == "auto" {
		return 0, nil
	}

	concurrency, err := strconv.Atoi(concurrencyStr)
	if err != nil {
		return 0, errors.NewConfigError(fmt.Sprintf("invalid concurrency value '%s': must be a number or 'auto'", concurrencyStr), nil)
	}
	if concurrency < 1 {
		return 0, errors.NewConfigError(fmt.Sprintf("concurrency must be at least 1, got %d", concurrency), nil)
	}
	if concurrency > MaxConcurrency {
		return 0, errors.NewConfigError(fmt.Sprintf("concurrency too high: %d (maximum %d)", concurrency, MaxConcurrency), nil)
	}

	return concurrency, nil
}

// Dispatcher runs commands on targets through the transport registered for
// each target's kind.
type Dispatcher struct {
	transports  transport.Registry
	credentials map[target.Kind]target.Credential
	templates   *template.Engine
	logger      *logging.Logger

	mu       sync.RWMutex
	config   Config
	observer Observer
}

// Observer is notified as a fan-out progresses. Completed is called from
// worker goroutines.
type Observer interface {
	Started(total int)
	Completed(r *Result)
	Finished()
}

// New creates a dispatcher with the default configuration
func New(transports transport.Registry, credentials map[target.Kind]target.Credential, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		transports:  transports,
		credentials: credentials,
		templates:   template.NewEngine(),
		logger:      logger,
		config:      DefaultConfig(),
	}
}

// SetConfig updates the dispatcher configuration
func (d *Dispatcher) SetConfig(config Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = config
}

// SetObserver installs an observer for subsequent dispatches; nil removes it
func (d *Dispatcher) SetObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = o
}

// Templates returns the engine used to expand commands, for registering snippets
func (d *Dispatcher) Templates() *template.Engine {
	return d.templates
}

// Planned is the literal command line a target would run. Err is set when
// the command could not be rendered for that target.
type Planned struct {
	Target target.Target
	Line   string
	Err    error
}

// Plan applies a directory change or renders the literal per-target lines.
// A directory change updates state and returns no lines. Nothing is executed.
func (d *Dispatcher) Plan(command string, targets []target.Target, state *session.Tracker) []Planned {
	if change, ok := session.Classify(command); ok {
		for _, t := range targets {
			state.Apply(t, change)
		}
		if len(targets) > 0 {
			d.logger.LogDirectoryChange(len(targets), change.IsAbsolute(targets[0].Kind))
		}
		return nil
	}

	d.mu.RLock()
	inline := d.config.Templates
	d.mu.RUnlock()

	plan := make([]Planned, len(targets))
	prepared, err := d.templates.Prepare(command, inline)
	for i, t := range targets {
		plan[i].Target = t
		if err != nil {
			plan[i].Err = err
			continue
		}

		rendered := command
		if prepared.Templated() {
			var renderErr error
			rendered, renderErr = prepared.Render(template.NewContext(t, d.credentials[t.Kind].User))
			if renderErr != nil {
				plan[i].Err = renderErr
				continue
			}
		}
		plan[i].Line = state.Build(t, rendered)
	}
	return plan
}

// Dispatch executes command on every target and returns once every target has
// a result. A pure directory change only updates state and returns an empty
// Results. The error is non-nil only when a target's kind has no transport or
// no credential; nothing is executed in that case.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, targets []target.Target, state *session.Tracker) (Results, error) {
	if _, isChange := session.Classify(command); !isChange {
		if err := d.check(targets); err != nil {
			return nil, err
		}
	}

	plan := d.Plan(command, targets, state)
	if plan == nil {
		return Results{}, nil
	}

	d.mu.RLock()
	config := d.config
	observer := d.observer
	d.mu.RUnlock()

	concurrency := calculateConcurrency(config.Concurrency, len(plan))
	d.logger.LogDispatchStart(len(plan), concurrency)
	startTime := time.Now()
	if observer != nil {
		observer.Started(len(plan))
	}

	// Each task owns one slot; the map is built after the barrier
	slots := make([]*Result, len(plan))

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for i, p := range plan {
		g.Go(func() error {
			slots[i] = d.runWithDeadline(ctx, command, p, config.Timeout)
			if observer != nil {
				observer.Completed(slots[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	if observer != nil {
		observer.Finished()
	}

	results := make(Results, len(slots))
	successCount := 0
	for _, r := range slots {
		results[r.Target] = r
		if r.Outcome == Success {
			successCount++
		}
	}
	d.logger.LogDispatchComplete(len(slots), successCount, len(slots)-successCount, time.Since(startTime))

	return results, nil
}

// check resolves a transport and a credential for every kind in targets
func (d *Dispatcher) check(targets []target.Target) error {
	seen := make(map[target.Kind]bool)
	for _, t := range targets {
		if seen[t.Kind] {
			continue
		}
		seen[t.Kind] = true

		if _, err := d.transports.Lookup(t.Kind); err != nil {
			return err
		}
		if _, ok := d.credentials[t.Kind]; !ok {
			return errors.NewConfigError(fmt.Sprintf("no credential configured for %s", t.Kind), nil)
		}
	}
	return nil
}

// runWithDeadline bounds one target. A transport that ignores its context is
// abandoned at the deadline; its goroutine still closes the connection when
// the transport eventually returns.
func (d *Dispatcher) runWithDeadline(parent context.Context, command string, p Planned, timeout time.Duration) *Result {
	startTime := time.Now()

	if p.Err != nil {
		r := newResult(command, p)
		r.fail(p.Err, p.Err.Error())
		return r
	}

	// every target is bounded; an unset timeout means the default
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan *Result, 1)
	go func() {
		done <- d.run(ctx, parent, command, p)
	}()

	var r *Result
	select {
	case r = <-done:
	case <-ctx.Done():
		select {
		case r = <-done:
		default:
			r = newResult(command, p)
			r.fail(ctx.Err(), interruptionDetail(parent))
		}
	}

	r.Duration = time.Since(startTime)
	return r
}

// run connects, executes once and closes
func (d *Dispatcher) run(ctx, parent context.Context, command string, p Planned) *Result {
	r := newResult(command, p)

	// check guarantees both lookups succeed
	tr, _ := d.transports.Lookup(p.Target.Kind)
	cred := d.credentials[p.Target.Kind]

	conn, err := tr.Connect(ctx, p.Target, cred)
	if err != nil {
		r.failFrom(ctx, parent, err)
		return r
	}
	defer conn.Close()

	out, err := conn.Execute(ctx, p.Line)
	if err != nil {
		r.failFrom(ctx, parent, err)
		return r
	}

	r.succeed(out)
	return r
}

func interruptionDetail(parent context.Context) string {
	if parent.Err() != nil {
		return DetailInterrupted
	}
	return DetailTimeout
}

// calculateConcurrency determines the actual concurrency based on configuration and target count
func calculateConcurrency(configConcurrency int, targetCount int) int {
	if configConcurrency < 0 {
		return 1
	}

	if configConcurrency == 0 {
		// Auto mode: min(32, num_hosts)
		if targetCount <= 0 {
			return 1
		}
		return min(targetCount, AutoConcurrencyLimit)
	}

	effective := min(configConcurrency, MaxConcurrency)
	if targetCount > 0 && effective > targetCount {
		return targetCount
	}
	return effective
}
