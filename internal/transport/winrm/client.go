// Package winrm implements the WinRM transport on top of github.com/masterzen/winrm.
package winrm

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/masterzen/winrm"

	"neutron/internal/errors"
	"neutron/internal/logging"
	"neutron/internal/target"
	"neutron/internal/transport"
)

// DefaultTimeout bounds the reachability dial and each SOAP round trip
const DefaultTimeout = 60 * time.Second

// commandRunner is the subset of *winrm.Client the transport relies on
type commandRunner interface {
	RunWithContextWithString(ctx context.Context, command string, stdin string) (string, string, int, error)
}

// Transport opens WinRM shells over HTTP or HTTPS
type Transport struct {
	Timeout  time.Duration
	HTTPS    bool
	Insecure bool // Skip TLS certificate verification
	Logger   *logging.Logger

	newClient func(endpoint *winrm.Endpoint, user, password string) (commandRunner, error)
}

// NewTransport creates a new WinRM transport
func NewTransport(timeout time.Duration, https, insecure bool, logger *logging.Logger) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Transport{
		Timeout:  timeout,
		HTTPS:    https,
		Insecure: insecure,
		Logger:   logger,
		newClient: func(endpoint *winrm.Endpoint, user, password string) (commandRunner, error) {
			return winrm.NewClient(endpoint, user, password)
		},
	}
}

// Conn is a WinRM client bound to one target. Every Execute opens and
// deletes its own remote shell, so nothing is held between calls.
type Conn struct {
	client commandRunner
	target target.Target
	logger *logging.Logger
}

// Connect validates the credential, dials the endpoint once and builds a client.
// WinRM is plain HTTP underneath, so that dial is what surfaces network
// failures as connect errors before any command is sent.
func (tr *Transport) Connect(ctx context.Context, t target.Target, cred target.Credential) (transport.Conn, error) {
	startTime := time.Now()

	if cred.Password == "" {
		err := errors.NewAuthError("winrm requires password authentication", nil)
		tr.Logger.LogConnectionError(t, err)
		return nil, err
	}

	dialer := &net.Dialer{Timeout: tr.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Key())
	if err != nil {
		err = transport.Classify(err, errors.NewConnectError, fmt.Sprintf("failed to connect to %s", t.Key()))
		tr.Logger.LogConnectionError(t, err)
		return nil, err
	}
	conn.Close()

	endpoint := winrm.NewEndpoint(t.Host, t.Port, tr.HTTPS, tr.Insecure, nil, nil, nil, tr.Timeout)
	client, err := tr.newClient(endpoint, cred.User, cred.Password)
	if err != nil {
		err = errors.NewProtocolError(fmt.Sprintf("failed to create winrm client for %s", t.Key()), err)
		tr.Logger.LogConnectionError(t, err)
		return nil, err
	}

	tr.Logger.LogConnection(t, time.Since(startTime))

	return &Conn{client: client, target: t, logger: tr.Logger}, nil
}

// Execute runs a command through cmd.exe on the remote host
func (c *Conn) Execute(ctx context.Context, command string) (*transport.Output, error) {
	if c.client == nil {
		return nil, errors.NewConnectError("not connected to any host", nil)
	}

	startTime := time.Now()

	stdout, stderr, exitCode, err := c.client.RunWithContextWithString(ctx, command, "")
	if err != nil {
		if ctx.Err() != nil {
			err = errors.NewTimeoutError("command execution timeout", ctx.Err())
		} else {
			err = transport.Classify(err, errors.NewProtocolError, "WinRM execution error")
		}
		c.logger.LogExecutionError(c.target, err)
		return nil, err
	}

	c.logger.LogExecution(c.target, exitCode, time.Since(startTime))

	return &transport.Output{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}, nil
}

// Close drops the client; WinRM keeps no connection open between commands
func (c *Conn) Close() error {
	c.client = nil
	return nil
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.Conn = (*Conn)(nil)
