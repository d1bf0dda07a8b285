package target

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"neutron/internal/errors"
)

// Kind identifies the transport a target is reached through
type Kind int

const (
	KindSSH Kind = iota
	KindWinRM
)

// Default ports used when neither the entry nor the configuration names one
const (
	DefaultSSHPort   = 22
	DefaultWinRMPort = 5985
)

// String returns the inventory spelling of the kind
func (k Kind) String() string {
	switch k {
	case KindSSH:
		return "ssh"
	case KindWinRM:
		return "winrm"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses an inventory or task-file "type" value
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ssh":
		return KindSSH, nil
	case "winrm":
		return KindWinRM, nil
	default:
		return 0, errors.NewConfigError(fmt.Sprintf("unknown transport type %q: must be 'ssh' or 'winrm'", s), nil)
	}
}

// Kinds lists every supported transport kind
func Kinds() []Kind {
	return []Kind{KindSSH, KindWinRM}
}

// Target represents one remote endpoint the dispatcher can address
type Target struct {
	Host string // Hostname or IP address
	Port int    // Transport port
	Kind Kind   // Transport used to reach the host
}

// Key returns the identity of the target (host:port)
func (t Target) Key() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns the key together with the transport kind
func (t Target) String() string {
	return fmt.Sprintf("%s (%s)", t.Key(), t.Kind)
}

// Validate validates a target for correctness
func (t Target) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return errors.NewConfigError("host cannot be empty", nil)
	}
	if strings.ContainsAny(t.Host, " \t\r\n/") {
		return errors.NewConfigError(fmt.Sprintf("invalid host %q", t.Host), nil)
	}
	if t.Port < 1 || t.Port > 65535 {
		return errors.NewConfigError(fmt.Sprintf("port number %d out of valid range (1-65535)", t.Port), nil)
	}
	if t.Kind != KindSSH && t.Kind != KindWinRM {
		return errors.NewConfigError(fmt.Sprintf("unsupported transport %s", t.Kind), nil)
	}
	return nil
}

// Credential holds the login used for every target of one transport kind
type Credential struct {
	User     string
	Password string
	KeyPath  string // Path to a private key file (SSH only)
}

// Validate checks that exactly one secret is configured
func (c Credential) Validate() error {
	if strings.TrimSpace(c.User) == "" {
		return errors.NewConfigError("user is not defined", nil)
	}
	if c.Password != "" && c.KeyPath != "" {
		return errors.NewConfigError("provide either key_path or password, not both", nil)
	}
	if c.Password == "" && c.KeyPath == "" {
		return errors.NewConfigError("one of key_path or password is required", nil)
	}
	return nil
}

// Defaults carries the per-kind default ports applied during normalization
type Defaults struct {
	SSHPort   int
	WinRMPort int
}

// DefaultDefaults returns the well-known ports for both transports
func DefaultDefaults() Defaults {
	return Defaults{SSHPort: DefaultSSHPort, WinRMPort: DefaultWinRMPort}
}

// PortFor returns the default port for kind
func (d Defaults) PortFor(kind Kind) int {
	switch kind {
	case KindWinRM:
		if d.WinRMPort > 0 {
			return d.WinRMPort
		}
		return DefaultWinRMPort
	default:
		if d.SSHPort > 0 {
			return d.SSHPort
		}
		return DefaultSSHPort
	}
}

// ParseHostSpec parses a bare host entry in the format "host", "host:port" or "[v6]:port".
// An absent port is reported as 0 so the caller can apply the kind default.
func ParseHostSpec(spec string) (string, int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", 0, errors.NewConfigError("empty host specification", nil)
	}

	var host, portStr string

	// Handle IPv6 addresses in brackets
	if strings.HasPrefix(spec, "[") {
		closeBracket := strings.Index(spec, "]")
		if closeBracket == -1 {
			return "", 0, errors.NewConfigError(fmt.Sprintf("invalid IPv6 address %q: missing closing bracket", spec), nil)
		}
		host = spec[1:closeBracket]
		remainder := spec[closeBracket+1:]
		if strings.HasPrefix(remainder, ":") {
			portStr = remainder[1:]
		} else if remainder != "" {
			return "", 0, errors.NewConfigError(fmt.Sprintf("invalid host specification %q", spec), nil)
		}
	} else if strings.Count(spec, ":") == 1 {
		parts := strings.SplitN(spec, ":", 2)
		host, portStr = parts[0], parts[1]
	} else {
		// Hostname, IPv4 or bare IPv6 without port
		host = spec
	}

	if host == "" {
		return "", 0, errors.NewConfigError(fmt.Sprintf("host cannot be empty in %q", spec), nil)
	}

	if portStr == "" {
		return host, 0, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.NewConfigError(fmt.Sprintf("invalid port number %q", portStr), err)
	}
	if port < 1 || port > 65535 {
		return "", 0, errors.NewConfigError(fmt.Sprintf("port number %d out of valid range (1-65535)", port), nil)
	}
	return host, port, nil
}
