// Package logger configures slog for the service.
package logger

import (
	"log/slog"
	"os"
)

// redactedKeys never reach the log output with their real values.
var redactedKeys = map[string]struct{}{
	"password": {},
	"api_key":  {},
	"token":    {},
	"secret":   {},
}

// Config selects level, format, and source annotation.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	AddSource bool
}

// Logger embeds slog.Logger and adds service conventions on top.
type Logger struct {
	*slog.Logger
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a Logger writing to stdout. Unknown levels fall back to
// info, unknown formats to JSON. Secret-bearing attribute keys are
// redacted at the handler level so no call site can leak them.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if _, sensitive := redactedKeys[a.Key]; sensitive {
				a.Value = slog.StringValue("***REDACTED***")
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Default returns a JSON logger at info level.
func Default() *Logger {
	return New(Config{Level: "info", Format: "json"})
}

// WithComponent tags every record with the owning component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// WithError attaches the error text as a field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With("error", err.Error())}
}

// SetDefault installs this logger as the process-wide slog default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}
