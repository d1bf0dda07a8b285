package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"neutron/internal/errors"
	"neutron/internal/target"
	"neutron/internal/transport"
)

// Outcome tells whether the remote command ran
type Outcome int

const (
	// Success means the command ran, whatever its exit status
	Success Outcome = iota
	// Failure means the command never produced output
	Failure
)

// String returns a string representation of the outcome
func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// Result is the outcome of running one command on one target
type Result struct {
	Target      target.Target
	Command     string // As typed by the operator
	Line        string // Literal line sent to the target, including the directory chain
	Outcome     Outcome
	Stdout      string
	Stderr      string
	ExitCode    int
	ErrorDetail string
	ErrorType   errors.ErrorType
	Err         error // Classified cause; nil for a clean zero exit
	Duration    time.Duration
}

// Results maps every dispatched target to its result
type Results map[target.Target]*Result

// Counts returns the number of successful and failed results
func (rs Results) Counts() (success, failure int) {
	for _, r := range rs {
		if r.Outcome == Success {
			success++
		} else {
			failure++
		}
	}
	return success, failure
}

func newResult(command string, p Planned) *Result {
	return &Result{
		Target:    p.Target,
		Command:   command,
		Line:      p.Line,
		ErrorType: errors.UnknownErrorType,
	}
}

// HasError reports whether the result carries a failure or a non-zero exit
func (r *Result) HasError() bool {
	return r.Err != nil
}

func (r *Result) succeed(out *transport.Output) {
	r.Outcome = Success
	r.Stdout = out.Stdout
	r.Stderr = out.Stderr
	r.ExitCode = out.ExitCode
	if out.ExitCode != 0 {
		r.Err = errors.NewRemoteExecutionError(fmt.Sprintf("exit status %d", out.ExitCode), nil)
		r.ErrorType = errors.RemoteExecutionErrorType
	}
}

func (r *Result) fail(err error, detail string) {
	r.Outcome = Failure
	r.ErrorDetail = detail
	r.Err = err

	switch {
	case detail == DetailTimeout:
		r.ErrorType = errors.TimeoutErrorType
		r.Err = errors.NewTimeoutError("per-target deadline exceeded", err)
	case detail == DetailInterrupted:
		r.ErrorType = errors.UnknownErrorType
		r.Err = &errors.ClassifiedError{Type: errors.UnknownErrorType, Message: DetailInterrupted, Original: err}
	default:
		r.ErrorType = errors.TypeOf(err)
	}
}

// failFrom records a transport error, reporting deadline and cancellation
// by their cause rather than by the transport's wording.
func (r *Result) failFrom(ctx, parent context.Context, err error) {
	switch {
	case parent.Err() != nil:
		r.fail(err, DetailInterrupted)
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		r.fail(err, DetailTimeout)
	default:
		r.fail(err, err.Error())
	}
}
