// Package transport defines the remote execution capability shared by every
// transport kind. A Transport opens a Conn to one target; a Conn runs single,
// independent command lines and must be closed exactly once.
package transport

import (
	"context"
	"fmt"

	"neutron/internal/errors"
	"neutron/internal/target"
)

// Output is what one remote execution produced
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Conn is an open connection or session to a single target
type Conn interface {
	// Execute runs one command line. It retains no shell state between calls.
	// A non-zero exit status is reported through Output, not as an error.
	Execute(ctx context.Context, commandLine string) (*Output, error)

	// Close releases the connection
	Close() error
}

// Transport opens connections for one transport kind
type Transport interface {
	// Connect establishes a connection to t authenticated with cred.
	// Errors are classified as auth, connect, protocol or timeout errors.
	Connect(ctx context.Context, t target.Target, cred target.Credential) (Conn, error)
}

// Func adapts a plain function to the Transport interface
type Func func(ctx context.Context, t target.Target, cred target.Credential) (Conn, error)

// Connect calls f
func (f Func) Connect(ctx context.Context, t target.Target, cred target.Credential) (Conn, error) {
	return f(ctx, t, cred)
}

// Registry maps each transport kind to its implementation
type Registry map[target.Kind]Transport

// Lookup returns the transport registered for kind
func (r Registry) Lookup(kind target.Kind) (Transport, error) {
	tr, ok := r[kind]
	if !ok || tr == nil {
		return nil, errors.NewConfigError(fmt.Sprintf("no transport registered for %s", kind), nil)
	}
	return tr, nil
}

// Classify wraps err with the given type unless it already carries a classification
// or is a deadline expiry.
func Classify(err error, fallback func(string, error) *errors.ClassifiedError, message string) error {
	if err == nil {
		return nil
	}
	if errors.IsTimeout(err) {
		return errors.NewTimeoutError(message, err)
	}
	switch errors.TypeOf(err) {
	case errors.AuthErrorType:
		return errors.NewAuthError(message, err)
	case errors.ConnectErrorType:
		return errors.NewConnectError(message, err)
	case errors.ProtocolErrorType:
		return errors.NewProtocolError(message, err)
	}
	return fallback(message, err)
}
