// Package logging provides the leveled logger used throughout the core,
// backed by logrus (the structured logger already pulled in by the
// retrieval pack's socket-stats tools) rather than the standard library.
package logging

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus.Level so callers that only know about "debug",
// "info", "warn", "error" never need to import logrus directly.
type Level = logrus.Level

const (
	LevelDebug = logrus.DebugLevel
	LevelInfo  = logrus.InfoLevel
	LevelWarn  = logrus.WarnLevel
	LevelError = logrus.ErrorLevel
)

// Logger wraps a *logrus.Logger, adding SetLevelFromString for the CLI/env
// configuration surface.
type Logger struct {
	*logrus.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default logger instance.
func Default() *Logger {
	once.Do(func() {
		l := logrus.New()
		l.SetLevel(LevelInfo)
		defaultLogger = &Logger{Logger: l}
	})
	return defaultLogger
}

// SetLevelFromString sets the log level from a string, defaulting to info
// on an unrecognised value.
func (l *Logger) SetLevelFromString(levelStr string) {
	switch strings.ToLower(levelStr) {
	case "debug":
		l.SetLevel(LevelDebug)
	case "info":
		l.SetLevel(LevelInfo)
	case "warn", "warning":
		l.SetLevel(LevelWarn)
	case "error":
		l.SetLevel(LevelError)
	default:
		l.SetLevel(LevelInfo)
	}
}

// GetLevelString returns the current log level's name.
func (l *Logger) GetLevelString() string {
	return l.GetLevel().String()
}

// SetLevelFromString sets the default logger's level from a string.
func SetLevelFromString(levelStr string) {
	Default().SetLevelFromString(levelStr)
}

// GetLevelString returns the default logger's level as a string.
func GetLevelString() string {
	return Default().GetLevelString()
}

// WithFields is a package-level convenience wrapping the default logger.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Default().WithFields(fields)
}
