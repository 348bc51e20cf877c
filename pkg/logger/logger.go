// Package logger is a thin structured-logging facade shared by every
// worker thread in the daemon. It mirrors tracee's own pkg/logger
// key/value calling convention (logger.Error("msg", "error", err)) on
// top of zap's SugaredLogger.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	sug = mustDefault()
)

func mustDefault() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a bare-bones logger; this must never panic init.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Init replaces the package-level logger, e.g. to switch verbosity or
// output format based on the daemon's Config. Safe to call once at
// startup before any worker goroutine is spawned.
func Init(level string, verbose bool, toStderr bool) error {
	lvl := zapcore.InfoLevel
	if verbose {
		lvl = zapcore.DebugLevel
	}
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}

	out := zapcore.Lock(os.Stdout)
	if toStderr {
		out = zapcore.Lock(os.Stderr)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), out, lvl)

	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	sug = l.Sugar()
	mu.Unlock()
	return nil
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sug
}

// Debug logs a debug-level message with alternating key/value pairs.
func Debug(msg string, keysAndValues ...interface{}) {
	current().Debugw(msg, keysAndValues...)
}

// Info logs an info-level message with alternating key/value pairs.
func Info(msg string, keysAndValues ...interface{}) {
	current().Infow(msg, keysAndValues...)
}

// Warn logs a warn-level message with alternating key/value pairs.
func Warn(msg string, keysAndValues ...interface{}) {
	current().Warnw(msg, keysAndValues...)
}

// Error logs an error-level message with alternating key/value pairs.
func Error(msg string, keysAndValues ...interface{}) {
	current().Errorw(msg, keysAndValues...)
}

// Fatal logs a fatal-level message then calls os.Exit(1). Reserved
// for unrecoverable init failures; callers that can instead signal
// the supervisor's quit pipe should prefer that to Fatal.
func Fatal(msg string, keysAndValues ...interface{}) {
	current().Fatalw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries. Call during daemon shutdown.
func Sync() error {
	return current().Sync()
}

// Logger is a named child logger for a single worker, created by
// Named.
type Logger struct {
	s *zap.SugaredLogger
}

// Named returns a child logger identifying a long-lived worker thread,
// e.g. logger.Named("rotation").
func Named(name string) *Logger {
	return &Logger{s: current().Named(name)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
