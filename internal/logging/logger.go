// Package logging provides the structured logger shared by the driver,
// looper pool, registry, and service manager clients.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel mirrors logrus.Level but keeps the package's own vocabulary so
// callers never need to import logrus directly.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) toLogrus() logrus.Level {
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

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format selects "text" or "json" output. Empty means "text".
	Format  string
	Output  io.Writer
	Sync    bool
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps a logrus.Entry with the package's domain-specific
// With* helpers.
type Logger struct {
	entry *logrus.Entry
	mu    *sync.Mutex // shared with every derived Logger; Sync gates it
	sync  bool
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// NewLogger creates a new logger from config, defaulting a nil config.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	base := logrus.New()
	base.SetOutput(output)
	base.SetLevel(config.Level.toLogrus())

	if config.Format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			DisableColors: config.NoColor,
			FullTimestamp: true,
		})
	}

	l := &Logger{entry: logrus.NewEntry(base)}
	if config.Sync {
		l.mu = &sync.Mutex{}
		l.sync = true
	}
	return l
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

func (l *Logger) withField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), mu: l.mu, sync: l.sync}
}

// WithDriver tags every subsequent log line with the owning driver's pid,
// mirroring a per-device logger scoped to one open binder fd.
func (l *Logger) WithDriver(pid int) *Logger {
	return l.withField("pid", pid)
}

// WithObject tags log lines with the local or remote handle under
// discussion.
func (l *Logger) WithObject(handle uint32) *Logger {
	return l.withField("handle", handle)
}

// WithTransaction tags log lines with the transaction identifier and
// binder command code being processed.
func (l *Logger) WithTransaction(txn uint64, code uint32) *Logger {
	return l.withFields(logrus.Fields{"txn": txn, "code": code})
}

func (l *Logger) withFields(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields), mu: l.mu, sync: l.sync}
}

// WithError attaches an error to every subsequent log line.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err), mu: l.mu, sync: l.sync}
}

func (l *Logger) lock() func() {
	if l.mu == nil {
		return func() {}
	}
	l.mu.Lock()
	return l.mu.Unlock
}

func (l *Logger) Debug(msg string, args ...any) {
	defer l.lock()()
	l.entry.WithFields(pairs(args)).Debug(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	defer l.lock()()
	l.entry.WithFields(pairs(args)).Info(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	defer l.lock()()
	l.entry.WithFields(pairs(args)).Warn(msg)
}

func (l *Logger) Error(msg string, args ...any) {
	defer l.lock()()
	l.entry.WithFields(pairs(args)).Error(msg)
}

func (l *Logger) Debugf(format string, args ...any) {
	defer l.lock()()
	l.entry.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	defer l.lock()()
	l.entry.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	defer l.lock()()
	l.entry.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	defer l.lock()()
	l.entry.Errorf(format, args...)
}

// Printf kept for compatibility with callers that log free-form progress
// at info level.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// pairs converts a flat key,value,key,value... slice into a field map,
// same convention as the teacher's Debug/Info/Warn/Error args.
func pairs(args []any) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
