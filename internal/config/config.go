// Package config provides configuration management for neutron.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"neutron/internal/dispatch"
	"neutron/internal/errors"
	"neutron/internal/output"
	"neutron/internal/target"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "NEUTRON"

// Credentials is one per-kind section ("ssh:" or "winrm:") of the config file
type Credentials struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	KeyPath  string `mapstructure:"key_path"`
	Port     int    `mapstructure:"port"`     // Default port for inventory entries of this kind
	Timeout  int    `mapstructure:"timeout"`  // Connect timeout in seconds
	Agent    bool   `mapstructure:"agent"`    // SSH only: also offer keys from SSH_AUTH_SOCK
	HTTPS    bool   `mapstructure:"https"`    // WinRM only
	Insecure bool   `mapstructure:"insecure"` // WinRM only: skip TLS verification
}

// Credential returns the authentication part of the section
func (c *Credentials) Credential() target.Credential {
	return target.Credential{User: c.User, Password: c.Password, KeyPath: c.KeyPath}
}

// ConnectTimeout returns the configured connect timeout, zero for the transport default
func (c *Credentials) ConnectTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Config represents the application configuration structure
type Config struct {
	Inventory    string        `mapstructure:"inventory"`   // Path to the server list
	Concurrency  string        `mapstructure:"concurrency"` // Concurrency limit ("auto" or number)
	CmdTimeout   time.Duration `mapstructure:"cmd-timeout"` // Per-target timeout covering connect and execute
	Output       string        `mapstructure:"output"`      // Output format (text, json)
	Quiet        bool          `mapstructure:"quiet"`       // Suppress non-error logs
	DryRun       bool          `mapstructure:"dry-run"`     // Show execution plan without connecting
	LogLevel     string        `mapstructure:"log-level"`   // Log level (debug, info, error)
	LogFormat    string        `mapstructure:"log-format"`  // Log format (json, text)
	Filter       string        `mapstructure:"filter"`      // Host filter expression
	ShowProgress bool          `mapstructure:"progress"`    // Show a progress bar during fan-out
	ShowStats    bool          `mapstructure:"stats"`       // Print run statistics at the end
	NoColor      bool          `mapstructure:"no-color"`    // Disable styled text output
	Templates    bool          `mapstructure:"templates"`   // Expand {{...}} placeholders per target

	SSH   *Credentials `mapstructure:"ssh"`
	WinRM *Credentials `mapstructure:"winrm"`

	// Source is the config file that was read, empty when none was found
	Source string `mapstructure:"-"`
}

// Section returns the credential section for kind, nil when absent
func (c *Config) Section(kind target.Kind) *Credentials {
	switch kind {
	case target.KindSSH:
		return c.SSH
	case target.KindWinRM:
		return c.WinRM
	default:
		return nil
	}
}

// Credentials returns the credential of every configured kind
func (c *Config) Credentials() map[target.Kind]target.Credential {
	creds := make(map[target.Kind]target.Credential)
	for _, kind := range target.Kinds() {
		if section := c.Section(kind); section != nil {
			creds[kind] = section.Credential()
		}
	}
	return creds
}

// Defaults returns the per-kind default ports, honoring section overrides
func (c *Config) Defaults() target.Defaults {
	d := target.DefaultDefaults()
	if c.SSH != nil && c.SSH.Port > 0 {
		d.SSHPort = c.SSH.Port
	}
	if c.WinRM != nil && c.WinRM.Port > 0 {
		d.WinRMPort = c.WinRM.Port
	}
	return d
}

// RequireCredentials fails unless every kind has a credential section
func (c *Config) RequireCredentials(kinds []target.Kind) error {
	for _, kind := range kinds {
		if c.Section(kind) == nil {
			return errors.NewConfigError(fmt.Sprintf("inventory contains %s targets but the config has no '%s' section", kind, kind), nil)
		}
	}
	return nil
}

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads configuration from all sources (files, env vars)
	Load() (*Config, error)

	// SetDefaults establishes default configuration values
	SetDefaults()

	// Validate ensures configuration values are valid and consistent
	Validate(config *Config) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v          *viper.Viper
	configFile string
	paths      []string
}

// NewManager creates a manager that searches the default locations.
// A non-empty configFile is read instead of searching.
func NewManager(configFile string) *ViperManager {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "neutron"))
	}
	paths = append(paths, "/etc/neutron")

	return &ViperManager{
		v:          viper.New(),
		configFile: configFile,
		paths:      paths,
	}
}

// Viper exposes the underlying instance so the CLI can bind flags
func (m *ViperManager) Viper() *viper.Viper {
	return m.v
}

// SetDefaults establishes default configuration values
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("inventory", "source.yaml")
	m.v.SetDefault("concurrency", "auto")
	m.v.SetDefault("cmd-timeout", dispatch.DefaultTimeout)
	m.v.SetDefault("output", string(output.TextMode))
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("dry-run", false)
	m.v.SetDefault("log-level", "info")
	m.v.SetDefault("log-format", "text")
	m.v.SetDefault("filter", "")
	m.v.SetDefault("progress", false)
	m.v.SetDefault("stats", false)
	m.v.SetDefault("no-color", false)
	m.v.SetDefault("templates", false)
}

// configFormats are tried in order in every search path; "cfg" files are YAML
var configFormats = []string{"yaml", "yml", "json", "toml", "cfg"}

// Load reads configuration from all sources with proper precedence
func (m *ViperManager) Load() (*Config, error) {
	m.SetDefaults()

	m.v.SetEnvPrefix(EnvPrefix)
	m.v.SetEnvKeyReplacer(envKeyReplacer)
	m.v.AutomaticEnv()
	for _, key := range envKeys {
		if strings.Contains(key, ".") {
			_ = m.v.BindEnv(key)
		}
	}

	source, err := m.readConfigFile()
	if err != nil {
		return nil, err
	}

	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError("error unmarshaling config", err)
	}
	config.Source = source

	if err := m.Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// readConfigFile loads the explicit file or the first match in the search paths
func (m *ViperManager) readConfigFile() (string, error) {
	path := m.configFile
	if path == "" {
		path = m.find()
	}
	if path == "" {
		return "", nil
	}

	m.v.SetConfigFile(path)
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "cfg" || ext == "" {
		m.v.SetConfigType("yaml")
	}

	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if stderrors.As(err, &notFound) || stderrors.Is(err, os.ErrNotExist) {
			return "", errors.NewConfigError(fmt.Sprintf("config file %s not found", path), err)
		}
		return "", errors.NewConfigError(fmt.Sprintf("error reading config file %s", path), err)
	}
	return path, nil
}

// find returns the first config.<format> in the search paths
func (m *ViperManager) find() string {
	for _, dir := range m.paths {
		for _, format := range configFormats {
			candidate := filepath.Join(dir, "config."+format)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}

// Validate ensures configuration values are valid and consistent
func (m *ViperManager) Validate(config *Config) error {
	if _, err := dispatch.ParseConcurrency(config.Concurrency); err != nil {
		return err
	}

	if config.CmdTimeout <= 0 {
		return errors.NewConfigError(fmt.Sprintf("cmd-timeout must be positive, got %v", config.CmdTimeout), nil)
	}

	if _, err := output.ParseMode(config.Output); err != nil {
		return err
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "error": true}
	if !validLogLevels[config.LogLevel] {
		return errors.NewConfigError(fmt.Sprintf("invalid log level '%s': must be one of 'debug', 'info' or 'error'", config.LogLevel), nil)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.LogFormat] {
		return errors.NewConfigError(fmt.Sprintf("invalid log format '%s': must be one of 'json' or 'text'", config.LogFormat), nil)
	}

	if strings.TrimSpace(config.Inventory) == "" {
		return errors.NewConfigError("inventory path must not be empty", nil)
	}

	if config.SSH == nil && config.WinRM == nil {
		return errors.NewConfigError("no credentials configured: add an 'ssh' or 'winrm' section", nil)
	}

	if config.SSH != nil {
		if err := validateSection(target.KindSSH, config.SSH); err != nil {
			return err
		}
	}
	if config.WinRM != nil {
		if err := validateSection(target.KindWinRM, config.WinRM); err != nil {
			return err
		}
		if config.WinRM.KeyPath != "" {
			return errors.NewConfigError("winrm: key_path is not supported, use password", nil)
		}
	}

	return nil
}

func validateSection(kind target.Kind, c *Credentials) error {
	if err := c.Credential().Validate(); err != nil {
		return errors.NewConfigError(fmt.Sprintf("%s credentials", kind), err)
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.NewConfigError(fmt.Sprintf("%s: invalid port %d", kind, c.Port), nil)
	}
	if c.Timeout < 0 {
		return errors.NewConfigError(fmt.Sprintf("%s: timeout must be non-negative, got %d", kind, c.Timeout), nil)
	}
	return nil
}

// envKeys lists every setting that can be overridden from the environment.
// Credential keys are bound explicitly so that a section can come from the
// environment alone.
var envKeys = []string{
	"inventory", "concurrency", "cmd-timeout", "output", "quiet", "dry-run",
	"log-level", "log-format", "filter", "progress", "stats", "no-color", "templates",
	"ssh.user", "ssh.password", "ssh.key_path", "ssh.port", "ssh.timeout", "ssh.agent",
	"winrm.user", "winrm.password", "winrm.port", "winrm.timeout", "winrm.https", "winrm.insecure",
}

var envKeyReplacer = strings.NewReplacer("-", "_", ".", "_")

// GetEnvVarNames returns a list of all supported environment variable names
func GetEnvVarNames() []string {
	names := make([]string, len(envKeys))
	for i, key := range envKeys {
		names[i] = EnvPrefix + "_" + strings.ToUpper(envKeyReplacer.Replace(key))
	}
	return names
}
