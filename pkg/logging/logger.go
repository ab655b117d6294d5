// Package logging configures zerolog for the client, the CLI and the proxy.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForTenant returns a component logger that also carries the company the
// work belongs to.
func ForTenant(component, tenant string) zerolog.Logger {
	l := NewLogger(component)
	if tenant == "" {
		return l
	}
	return l.With().Str("tenant", tenant).Logger()
}

// Log Level Guidelines:
//
// Debug: cache hits, conditional requests, page boundaries, token reuse
// Info: token refreshes, completed exports, server startup/shutdown
// Warn: retries, quota throttling, cache or Redis trouble that requests survive
// Error: streams ending on an error, exhausted quota, rejected refresh tokens
//
// Context Fields:
//   - component: client, pagination, retry, ratelimit, auth, proxy, acctctl
//   - endpoint: first path segment of the request (customers, vouchers, ...)
//   - stream: resource name of a pagination stream
//   - page: 0-based page index
//   - attempt: 0-based attempt number inside the retry executor
//   - kind: error kind (transient_network, fatal_client, ...)
//   - status: HTTP status code
//   - tenant: company the request belongs to
