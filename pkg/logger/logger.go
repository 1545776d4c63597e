// Package logger holds the process-wide zap logger.
//
// File output is JSON and rotated by lumberjack. Console output is optional and
// human readable. Components take a *zap.Logger in their constructors; the
// printf-style helpers remain for call sites that only want a line in the log file.
package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	File       string    // Log file path; empty disables file output
	Level      string    // debug, info, warn, error
	MaxSizeMB  int       // Rotate after this many megabytes
	MaxBackups int       // Rotated files to keep
	Console    io.Writer // Optional human-readable sink, e.g. os.Stderr for --verbose
}

var (
	global  atomic.Pointer[zap.Logger]
	mu      sync.Mutex
	rotator *lumberjack.Logger
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	return Setup(Options{File: logPath, Level: "debug"})
}

// Setup replaces the global logger. Calling it again closes the previous file.
func Setup(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}

	level := zap.NewAtomicLevel()
	if opts.Level == "" {
		level.SetLevel(zap.InfoLevel)
	} else if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 20
		}
		rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}
	if opts.Console != nil {
		consoleCfg := encCfg
		consoleCfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(name + ".")
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(opts.Console), level))
	}

	if len(cores) == 0 {
		global.Store(zap.NewNop())
		return nil
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)).Named("droid-agent")
	global.Store(l)
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if l := global.Load(); l != nil {
		if err := l.Sync(); err != nil && !ignorableSyncError(err) {
			fmt.Println("failed to sync logger:", err)
		}
	}
	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
	global.Store(nil)
}

// L returns the global logger, or a no-op logger before Setup.
func L() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Named returns a component logger.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	L().Sugar().Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	L().Sugar().Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	L().Sugar().Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	L().Sugar().Warnf(format, v...)
}

// GetWriter returns the underlying file writer for use by drivers.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if rotator != nil {
		return rotator
	}
	return io.Discard
}

func ignorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stdout") ||
		strings.Contains(msg, "sync /dev/stderr") ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "operation not supported")
}
