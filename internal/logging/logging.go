package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Level represents a log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level string
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Fields is an alias so callers do not need to import logrus directly
type Fields = logrus.Fields

// Logger is the application logger
type Logger struct {
	level Level
	file  *os.File
	entry *logrus.Logger
}

// Config contains logger configuration
type Config struct {
	Level   string
	File    string
	Console bool
}

// New creates a new logger
func New(cfg Config) (*Logger, error) {
	l := &Logger{
		level: ParseLevel(cfg.Level),
		entry: logrus.New(),
	}

	var writers []io.Writer

	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		writers = append(writers, f)
	}

	if cfg.Console {
		writers = append(writers, os.Stderr)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	l.entry.SetOutput(io.MultiWriter(writers...))
	l.entry.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	l.entry.SetLevel(l.level.logrus())

	return l, nil
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	entry := logrus.New()
	entry.SetOutput(io.Discard)
	return &Logger{level: LevelError, entry: entry}
}

// Close closes the logger
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// WithFields returns a structured entry
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.entry.WithFields(fields)
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.level = level
	l.entry.SetLevel(level.logrus())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	return l.level
}

// SetOutput redirects the logger, mostly for tests
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.SetOutput(w)
}

// Default logger for package-level functions
var defaultLogger = Discard()

// Init initializes the default logger
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

// SetDefault replaces the default logger
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// WithFields returns a structured entry on the default logger
func WithFields(fields Fields) *logrus.Entry {
	return defaultLogger.WithFields(fields)
}

// Debug logs a debug message to the default logger
func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

// Info logs an info message to the default logger
func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

// Warn logs a warning message to the default logger
func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

// Error logs an error message to the default logger
func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}
