// Package logging is neutron's structured logger. It writes to stderr so that
// reports on stdout stay machine readable, and it never records command text,
// passwords or key material.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"neutron/internal/target"
)

// LogLevel is the minimum severity written
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

// LogFormat selects the slog handler
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel
	Format LogFormat
	Output io.Writer // Defaults to stderr
	Quiet  bool      // Only errors are written
}

// Logger is an slog.Logger with neutron's event helpers
type Logger struct {
	logger *slog.Logger
	quiet  bool
}

// NewLogger builds a logger from config
func NewLogger(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: slogLevel(config.Level)}
	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{logger: slog.New(handler), quiet: config.Quiet}
}

// NewLoggerFromConfig maps the log-level and log-format settings; unknown
// values fall back to info and text
func NewLoggerFromConfig(logLevel, logFormat string, quiet bool) *Logger {
	return NewLogger(Config{
		Level:  LogLevel(logLevel),
		Format: LogFormat(logFormat),
		Quiet:  quiet,
	})
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLogger(Config{Output: io.Discard, Quiet: true})
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsQuiet reports whether non-error records are suppressed
func (l *Logger) IsQuiet() bool {
	return l.quiet
}

func (l *Logger) Debug(msg string, args ...any) {
	if !l.quiet {
		l.logger.Debug(msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...any) {
	if !l.quiet {
		l.logger.Info(msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...any) {
	if !l.quiet {
		l.logger.Warn(msg, args...)
	}
}

// Error is written even in quiet mode
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func targetAttrs(t target.Target, extra ...any) []any {
	return append([]any{"host", t.Host, "port", t.Port, "transport", t.Kind.String()}, extra...)
}

// LogConnection records an established connection
func (l *Logger) LogConnection(t target.Target, duration time.Duration) {
	l.Debug("connected", targetAttrs(t, "duration_ms", duration.Milliseconds())...)
}

// LogConnectionError records a failed connect
func (l *Logger) LogConnectionError(t target.Target, err error) {
	l.Error("connect failed", targetAttrs(t, "error", err.Error())...)
}

// LogExecution records a finished remote command by exit code only
func (l *Logger) LogExecution(t target.Target, exitCode int, duration time.Duration) {
	l.Debug("command finished", targetAttrs(t, "exit_code", exitCode, "duration_ms", duration.Milliseconds())...)
}

// LogExecutionError records a transport failure while a command was running
func (l *Logger) LogExecutionError(t target.Target, err error) {
	l.Error("command failed", targetAttrs(t, "error", err.Error())...)
}

// LogConnectionWarning flags weakened connection security, such as an
// unverified host key or disabled TLS verification
func (l *Logger) LogConnectionWarning(host string, message string) {
	l.Warn("insecure connection", "host", host, "warning", message)
}

// LogDirectoryChange records a cd applied to targetCount targets
func (l *Logger) LogDirectoryChange(targetCount int, absolute bool) {
	l.Debug("directory chain updated", "target_count", targetCount, "absolute", absolute)
}

func (l *Logger) LogDispatchStart(targetCount int, concurrency int) {
	l.Debug("dispatch started", "target_count", targetCount, "concurrency", concurrency)
}

func (l *Logger) LogDispatchComplete(targetCount int, successCount int, failureCount int, duration time.Duration) {
	l.Info("dispatch completed",
		"target_count", targetCount,
		"success_count", successCount,
		"failure_count", failureCount,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogConfigLoad records where settings came from
func (l *Logger) LogConfigLoad(source string) {
	l.Debug("configuration loaded", "source", source)
}

func (l *Logger) LogConfigError(source string, err error) {
	l.Error("invalid configuration", "source", source, "error", err.Error())
}

// LogTargetParsing records the size of a loaded inventory
func (l *Logger) LogTargetParsing(source string, count int) {
	l.Info("inventory loaded", "source", source, "targets", count)
}

func (l *Logger) LogTargetParsingError(source string, err error) {
	l.Error("inventory rejected", "source", source, "error", err.Error())
}
