// Package logger provides structured logging with automatic redaction of customer data.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Turn processing logging (topic switches, reference resolution, tool usage)
//   - Persistence failure logging
//   - Automatic redaction of emails, card numbers and credentials in user text
//   - Contextual logging with session and turn tracing
//   - Level-based verbosity control
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// logOutput is where handlers built by this package write.
	logOutput io.Writer = os.Stderr

	// customHandler is set by SetLogger; Configure leaves it alone.
	customHandler slog.Handler
)

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = ParseLevel(envLevel)
	}

	initLoggerWithConfig(level, nil, nil, false)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	handler := slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(NewContextHandler(handler))
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// SetOutput redirects log output to w and rebuilds the default logger at info level.
// Passing nil restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	logOutput = w
	initLoggerWithConfig(slog.LevelInfo, nil, nil, false)
}

// SetLogger replaces the global logger with one built on handler.
// The handler is wrapped so that context fields are still extracted.
// Passing nil restores the default text handler.
func SetLogger(handler slog.Handler) {
	customHandler = handler
	if handler == nil {
		initLoggerWithConfig(slog.LevelInfo, nil, nil, false)
		return
	}
	DefaultLogger = slog.New(NewContextHandler(handler))
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// TurnProcessed logs the outcome of one conversation turn.
func TurnProcessed(ctx context.Context, topic string, tools []string, duration time.Duration, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"topic", topic,
		"tools", tools,
		"duration_ms", duration.Milliseconds(),
	)
	allAttrs = append(allAttrs, attrs...)
	InfoContext(ctx, "turn processed", allAttrs...)
}

// TopicSwitch logs a detected change of conversation topic.
func TopicSwitch(ctx context.Context, from, to string, confidence float64, switches int) {
	InfoContext(ctx, "topic switch",
		"from", from,
		"to", to,
		"confidence", confidence,
		"switch_count", switches,
	)
}

// ReferenceResolved logs a pronoun or demonstrative rewrite at debug level.
// Both strings are redacted before logging.
func ReferenceResolved(ctx context.Context, before, after, entityID string) {
	if !DefaultLogger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	DebugContext(ctx, "reference resolved",
		"before", RedactSensitiveData(before),
		"after", RedactSensitiveData(after),
		"entity_id", entityID,
	)
}

// PersistenceFailure logs a failed commit of a session context.
func PersistenceFailure(ctx context.Context, err error, attempts int, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"error", err,
		"attempts", attempts,
	)
	allAttrs = append(allAttrs, attrs...)
	ErrorContext(ctx, "session context persistence failed", allAttrs...)
}

var (
	// sensitivePatterns contains compiled regular expressions for detecting customer data
	// and credentials that may appear in chat messages.
	sensitivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),                    // Bearer tokens
		regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),                         // API keys
		regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), // Email addresses
		regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),                    // Card numbers
	}
)

// RedactSensitiveData removes credentials and customer identifiers from strings.
//
// Supported patterns:
//   - Bearer tokens: "Bearer [REDACTED]"
//   - API keys (sk-...): first 4 chars kept
//   - Email addresses and card numbers: fully replaced
//
// This function is safe for concurrent use as it only reads from the compiled patterns.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer ") {
				return "Bearer [REDACTED]"
			}
			if strings.HasPrefix(match, "sk-") {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}
