package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"neutron/internal/errors"
	"neutron/internal/logging"
	"neutron/internal/target"
	"neutron/internal/transport"
)

// DefaultDialTimeout bounds the TCP dial and handshake when no timeout is configured
const DefaultDialTimeout = 30 * time.Second

// Transport opens SSH connections using golang.org/x/crypto/ssh
type Transport struct {
	DialTimeout     time.Duration       // Connection timeout (TCP dial plus handshake)
	UseAgent        bool                // Offer keys from SSH_AUTH_SOCK in addition to the credential
	HostKeyCallback ssh.HostKeyCallback // Overrides known_hosts lookup when set
	AgentSocket     string              // Agent socket path; SSH_AUTH_SOCK when empty
	Logger          *logging.Logger
}

// NewTransport creates a new SSH transport
func NewTransport(dialTimeout time.Duration, logger *logging.Logger) *Transport {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Transport{
		DialTimeout: dialTimeout,
		Logger:      logger,
	}
}

// Conn is an established SSH client connection
type Conn struct {
	client *ssh.Client
	target target.Target
	logger *logging.Logger
}

// Connect establishes an SSH connection to the target host
func (tr *Transport) Connect(ctx context.Context, t target.Target, cred target.Credential) (transport.Conn, error) {
	startTime := time.Now()

	config, agentConn, err := tr.buildSSHConfig(cred)
	if err != nil {
		tr.Logger.LogConnectionError(t, err)
		return nil, err
	}
	if agentConn != nil {
		// signers are only requested during the handshake
		defer agentConn.Close()
	}

	address := t.Key()

	dialer := &net.Dialer{
		Timeout: tr.DialTimeout,
	}

	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		err = transport.Classify(err, errors.NewConnectError, fmt.Sprintf("failed to connect to %s", address))
		tr.Logger.LogConnectionError(t, err)
		return nil, err
	}

	// The handshake has no context support; bound it with a deadline and
	// close the socket if the caller gives up first.
	deadline := time.Now().Add(tr.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = netConn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { _ = netConn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if !stop() && err == nil {
		// ctx fired after the handshake completed; the socket is already closed
		sshConn.Close()
		err = ctx.Err()
	}
	if err != nil {
		netConn.Close()
		err = classifyHandshake(ctx, address, err)
		tr.Logger.LogConnectionError(t, err)
		return nil, err
	}
	_ = netConn.SetDeadline(time.Time{})

	tr.Logger.LogConnection(t, time.Since(startTime))

	return &Conn{
		client: ssh.NewClient(sshConn, chans, reqs),
		target: t,
		logger: tr.Logger,
	}, nil
}

func classifyHandshake(ctx context.Context, address string, err error) error {
	message := fmt.Sprintf("SSH handshake failed for %s", address)
	if ctx.Err() != nil {
		return errors.NewTimeoutError(message, ctx.Err())
	}
	if strings.Contains(err.Error(), "unable to authenticate") || strings.Contains(err.Error(), "no supported methods remain") {
		return errors.NewAuthError(fmt.Sprintf("authentication rejected by %s", address), err)
	}
	return transport.Classify(err, errors.NewProtocolError, message)
}

// Execute runs a command on the connected host and returns its output
func (c *Conn) Execute(ctx context.Context, command string) (*transport.Output, error) {
	if c.client == nil {
		return nil, errors.NewConnectError("not connected to any host", nil)
	}

	startTime := time.Now()

	session, err := c.client.NewSession()
	if err != nil {
		err = transport.Classify(err, errors.NewProtocolError, "failed to create session")
		c.logger.LogExecutionError(c.target, err)
		return nil, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		output := &transport.Output{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}

		if err != nil {
			switch e := err.(type) {
			case *ssh.ExitError:
				// A non-zero exit is a remote result, not a transport failure
				output.ExitCode = e.ExitStatus()
			case *ssh.ExitMissingError:
				output.ExitCode = -1
			default:
				err = transport.Classify(err, errors.NewProtocolError, "SSH execution error")
				c.logger.LogExecutionError(c.target, err)
				return nil, err
			}
		}

		c.logger.LogExecution(c.target, output.ExitCode, time.Since(startTime))
		return output, nil

	case <-ctx.Done():
		// Try to terminate the remote process before giving up on it
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = session.Signal(ssh.SIGKILL)
		}

		err := errors.NewTimeoutError("command execution timeout", ctx.Err())
		c.logger.LogExecutionError(c.target, err)
		return nil, err
	}
}

// Close terminates the SSH connection
func (c *Conn) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		// Close errors are not critical; the result has already been collected
		c.logger.Debug("SSH connection close error", "error", err, "host", c.target.Host)
	}
	return nil
}

// buildSSHConfig creates an SSH client configuration with authentication
// methods. The returned agent connection, if any, is owned by the caller.
func (tr *Transport) buildSSHConfig(cred target.Credential) (*ssh.ClientConfig, io.Closer, error) {
	authMethods, agentConn, err := tr.getAuthMethods(cred)
	if err != nil {
		return nil, nil, err
	}

	hostKeyCallback := tr.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = tr.getHostKeyCallback()
	}

	return &ssh.ClientConfig{
		User:            cred.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         tr.DialTimeout,
	}, agentConn, nil
}

// getAuthMethods returns available authentication methods in order of preference
func (tr *Transport) getAuthMethods(cred target.Credential) ([]ssh.AuthMethod, io.Closer, error) {
	var authMethods []ssh.AuthMethod

	if cred.KeyPath != "" {
		keyAuth, err := getKeyAuth(cred.KeyPath)
		if err != nil {
			return nil, nil, errors.NewAuthError(fmt.Sprintf("failed to load private key %s", cred.KeyPath), err)
		}
		authMethods = append(authMethods, keyAuth)
	}

	if cred.Password != "" {
		authMethods = append(authMethods,
			ssh.Password(cred.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cred.Password
				}
				return answers, nil
			}),
		)
	}

	var agentConn io.Closer
	if tr.UseAgent {
		socket := tr.AgentSocket
		if socket == "" {
			socket = os.Getenv("SSH_AUTH_SOCK")
		}
		if conn := dialAgent(socket); conn != nil {
			authMethods = append(authMethods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			agentConn = conn
		}
	}

	if len(authMethods) == 0 {
		return nil, nil, errors.NewAuthError("no authentication methods available", nil)
	}

	return authMethods, agentConn, nil
}

// dialAgent connects to the SSH agent socket, nil when unavailable
func dialAgent(socket string) net.Conn {
	if socket == "" {
		return nil
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}
	return conn
}

// getKeyAuth returns public key authentication using the specified private key file
func getKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	keyBytes, err := os.ReadFile(ExpandHome(keyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// ExpandHome replaces a leading "~" with the current user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// getHostKeyCallback returns a host key callback that tries known_hosts first,
// then falls back to a warning-based insecure callback
func (tr *Transport) getHostKeyCallback() ssh.HostKeyCallback {
	var files []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(homeDir, ".ssh", "known_hosts"))
	}
	files = append(files, "/etc/ssh/ssh_known_hosts")

	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}

	if len(existing) > 0 {
		if hostKeyCallback, err := knownhosts.New(existing...); err == nil {
			return hostKeyCallback
		}
	}

	// Inventories routinely contain hosts that were never added to known_hosts
	return ssh.HostKeyCallback(func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		tr.Logger.LogConnectionWarning(hostname, "host key verification disabled: no usable known_hosts file")
		return nil
	})
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.Conn = (*Conn)(nil)
