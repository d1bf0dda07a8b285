// Package errors provides error classification and handling for neutron.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

// ErrorType is the failure class of an error
type ErrorType int

const (
	// ConfigErrorType represents malformed or missing inventory, credentials or settings.
	// Config errors are fatal and abort the run before any dispatch.
	ConfigErrorType ErrorType = iota

	// AuthErrorType represents rejected credentials
	AuthErrorType

	// ConnectErrorType represents network failures while reaching a target
	ConnectErrorType

	// ProtocolErrorType represents handshake or transport protocol failures
	ProtocolErrorType

	// RemoteExecutionErrorType represents a remote command that exited non-zero
	RemoteExecutionErrorType

	// TimeoutErrorType represents a per-target deadline that expired
	TimeoutErrorType

	// UnknownErrorType represents unclassified errors
	UnknownErrorType
)

func (et ErrorType) String() string {
	switch et {
	case ConfigErrorType:
		return "config"
	case AuthErrorType:
		return "auth"
	case ConnectErrorType:
		return "connect"
	case ProtocolErrorType:
		return "protocol"
	case RemoteExecutionErrorType:
		return "remote"
	case TimeoutErrorType:
		return "timeout"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this type stop the whole run.
// Only configuration problems are fatal; everything else degrades a single target.
func (et ErrorType) Fatal() bool {
	return et == ConfigErrorType
}

// ClassifiedError is an error tagged with its failure class
type ClassifiedError struct {
	Type     ErrorType
	Original error
	Message  string
}

func (ce *ClassifiedError) Error() string {
	switch {
	case ce.Message != "" && ce.Original != nil:
		return fmt.Sprintf("%s: %v", ce.Message, ce.Original)
	case ce.Message != "":
		return ce.Message
	case ce.Original != nil:
		return ce.Original.Error()
	}
	return "unknown error"
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Original
}

// TypeOf returns the classification of err. Errors built by this package keep
// their type through wrapping; foreign errors are classified heuristically.
func TypeOf(err error) ErrorType {
	if err == nil {
		return UnknownErrorType
	}
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Type
	}
	return ClassifyError(err).Type
}

// IsConfig reports whether err is a configuration error
func IsConfig(err error) bool {
	var ce *ClassifiedError
	return stderrors.As(err, &ce) && ce.Type == ConfigErrorType
}

// IsTimeout reports whether err is (or wraps) a deadline expiry
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ce *ClassifiedError
	if stderrors.As(err, &ce) && ce.Type == TimeoutErrorType {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyError tags a foreign error by matching well-known message fragments
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce
	}

	if IsTimeout(err) {
		return &ClassifiedError{Type: TimeoutErrorType, Original: err}
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case isAuthenticationError(errStr):
		return &ClassifiedError{Type: AuthErrorType, Original: err}
	case isTimeoutError(errStr):
		return &ClassifiedError{Type: TimeoutErrorType, Original: err}
	case isConnectionError(errStr):
		return &ClassifiedError{Type: ConnectErrorType, Original: err}
	case isProtocolError(errStr):
		return &ClassifiedError{Type: ProtocolErrorType, Original: err}
	}

	return &ClassifiedError{Type: UnknownErrorType, Original: err}
}

// isAuthenticationError checks if an error is related to authentication
func isAuthenticationError(errStr string) bool {
	authKeywords := []string{
		"authentication failed",
		"auth fail",
		"permission denied (publickey)",
		"no supported authentication methods",
		"unable to authenticate",
		"invalid user",
		"access denied",
		"login incorrect",
		"http response error: 401",
		"401 unauthorized",
	}

	for _, keyword := range authKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

func isTimeoutError(errStr string) bool {
	timeoutKeywords := []string{
		"timeout",
		"timed out",
		"deadline exceeded",
	}

	for _, keyword := range timeoutKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

func isConnectionError(errStr string) bool {
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"connection lost",
		"network unreachable",
		"network is unreachable",
		"no route to host",
		"host unreachable",
		"no such host",
		"broken pipe",
		"connection aborted",
		"dial tcp",
	}

	for _, keyword := range connectionKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isProtocolError checks if an error came from a broken handshake or envelope
func isProtocolError(errStr string) bool {
	protocolKeywords := []string{
		"handshake failed",
		"protocol error",
		"unexpected eof",
		"unexpected packet",
		"soap",
		"http response error",
	}

	for _, keyword := range protocolKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: ConfigErrorType, Original: original, Message: message}
}

// NewAuthError creates a new authentication error
func NewAuthError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: AuthErrorType, Original: original, Message: message}
}

// NewConnectError creates a new connection error
func NewConnectError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: ConnectErrorType, Original: original, Message: message}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: ProtocolErrorType, Original: original, Message: message}
}

// NewRemoteExecutionError creates a new remote execution error
func NewRemoteExecutionError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: RemoteExecutionErrorType, Original: original, Message: message}
}

// NewTimeoutError reports a deadline that fired before a target answered
func NewTimeoutError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: TimeoutErrorType, Original: original, Message: message}
}

// ErrorCollector tallies per-target failures by class for the run summary
type ErrorCollector struct {
	errors map[ErrorType][]error
	count  int
}

func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[ErrorType][]error),
	}
}

// Add records err under its type; nil is ignored
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}

	errType := TypeOf(err)
	ec.errors[errType] = append(ec.errors[errType], err)
	ec.count++
}

// Count is the number of recorded errors
func (ec *ErrorCollector) Count() int {
	return ec.count
}

// CountByType is the number of recorded errors of one class
func (ec *ErrorCollector) CountByType(errorType ErrorType) int {
	return len(ec.errors[errorType])
}

func (ec *ErrorCollector) HasErrors() bool {
	return ec.count > 0
}

// Summary renders the tally with classes in declaration order
func (ec *ErrorCollector) Summary() string {
	if ec.count == 0 {
		return "no errors"
	}

	types := make([]ErrorType, 0, len(ec.errors))
	for errorType := range ec.errors {
		types = append(types, errorType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	parts := make([]string, 0, len(types))
	for _, errorType := range types {
		parts = append(parts, fmt.Sprintf("%d %s", len(ec.errors[errorType]), errorType))
	}

	return fmt.Sprintf("total: %d errors (%s)", ec.count, strings.Join(parts, ", "))
}
