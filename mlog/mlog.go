// Package mlog provides the structured, key-value logging interface used
// throughout the engine. The call shape mirrors erigon-lib/log/v3:
// Info/Debug/Warn/Error(msg string, keyvals ...any).
package mlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a structured key-value logger tagged with a component name.
type Logger struct {
	z *zap.SugaredLogger
}

var (
	rootOnce sync.Once
	root     *zap.Logger
)

func getRoot() *zap.Logger {
	rootOnce.Do(func() {
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "ts"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(os.Stderr), zap.InfoLevel)
		root = zap.New(core)
	})
	return root
}

// New returns a Logger that tags every line with component=name, writing to
// stderr in JSON form.
func New(name string) *Logger {
	return &Logger{z: getRoot().Sugar().With("component", name)}
}

// WithFile returns a derived Logger writing to a size/age-rotated file
// instead of stderr.
func WithFile(name, path string, maxSizeMB, maxBackups, maxAgeDays int) *Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(sink), zap.InfoLevel)
	return &Logger{z: zap.New(core).Sugar().With("component", name)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.z.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.z.Errorw(msg, kv...) }

// Sync flushes any buffered log entries; callers invoke it on shutdown.
func (l *Logger) Sync() error { return l.z.Sync() }

// Nop returns a Logger that discards everything, used by tests that don't
// want to assert on log output.
func Nop() *Logger { return &Logger{z: zap.NewNop().Sugar()} }
