package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LogLevel is the minimum severity a Logger will emit.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	ErrorLevel
)

// Logger is the structured logging contract used throughout the module.
// Callers depend on this interface, never on slog directly, so the sink
// can be swapped without touching call sites.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...any)
	Info(msg string)
	Infof(format string, args ...any)
	Error(msg string)
	Errorf(format string, args ...any)
	With(keyvals ...any) Logger
}

func parseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "dbg":
		return DebugLevel
	case "error", "err":
		return ErrorLevel
	case "info", "inf":
		return InfoLevel
	default:
		return InfoLevel
	}
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case ErrorLevel:
		return slog.LevelError
	case InfoLevel:
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

type slogLogger struct {
	logger   *slog.Logger
	logLevel LogLevel
}

// NewLogger returns a Logger that writes text-formatted records to stderr
// at or above the given level ("debug", "info", "error").
func NewLogger(level string) Logger {
	lvl := parseLevel(level)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: toSlogLevel(lvl)})
	return &slogLogger{logger: slog.New(handler), logLevel: lvl}
}

func (l *slogLogger) Debug(msg string) { l.logger.Debug(msg) }

func (l *slogLogger) Debugf(format string, args ...any) {
	l.logger.Debug(formatMsg(format, args...))
}

func (l *slogLogger) Info(msg string) { l.logger.Info(msg) }

func (l *slogLogger) Infof(format string, args ...any) {
	l.logger.Info(formatMsg(format, args...))
}

func (l *slogLogger) Error(msg string) { l.logger.Error(msg) }

func (l *slogLogger) Errorf(format string, args ...any) {
	l.logger.Error(formatMsg(format, args...))
}

func (l *slogLogger) With(keyvals ...any) Logger {
	return &slogLogger{logger: l.logger.With(keyvals...), logLevel: l.logLevel}
}

func formatMsg(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
