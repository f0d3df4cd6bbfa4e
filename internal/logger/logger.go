// Package logger provides structured logging for estiguard.
// All modules should use this package for consistent logging.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	instance *slog.Logger
	once     sync.Once
)

// Config holds logger configuration.
type Config struct {
	Level     string `json:"level"`     // debug, info, warn, error
	Format    string `json:"format"`    // json, text
	AddSource bool   `json:"addSource"` // include source file/line
	Writer    io.Writer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:     getEnv("ESTIGUARD_LOG_LEVEL", "info"),
		Format:    getEnv("ESTIGUARD_LOG_FORMAT", "json"),
		AddSource: getEnv("ESTIGUARD_LOG_SOURCE", "false") == "true",
		Writer:    os.Stdout,
	}
}

// Init initializes the global logger.
func Init(cfg Config) {
	once.Do(func() {
		var level slog.Level
		switch strings.ToLower(cfg.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.AddSource,
		}

		out := cfg.Writer
		if out == nil {
			out = os.Stdout
		}

		var handler slog.Handler
		if cfg.Format == "text" {
			handler = slog.NewTextHandler(out, opts)
		} else {
			handler = slog.NewJSONHandler(out, opts)
		}

		instance = slog.New(handler)
		slog.SetDefault(instance)
	})
}

// Get returns the global logger instance.
func Get() *slog.Logger {
	if instance == nil {
		Init(DefaultConfig())
	}
	return instance
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	Get().Error(msg, args...)
}

// WithComponent returns a logger with a component attribute.
func WithComponent(component string) *slog.Logger {
	return Get().With("component", component)
}

// WithRequestID returns a logger with a request ID attribute.
func WithRequestID(requestID string) *slog.Logger {
	return Get().With("request_id", requestID)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
