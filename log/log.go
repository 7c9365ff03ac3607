// Package log provides the structured logger used across every cooperative
// task in the replica. It wraps zap the way the teacher wraps its internal
// logging facade: a small interface plus a concrete zap-backed type, so
// call sites never import zap directly.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging facade every core depends on.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	// Fatal logs at error level and then terminates the process with the
	// given exit code. Used only for the fail-stop conditions in spec §7:
	// store I/O failure and protocol-violation-by-self.
	Fatal(code int, msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

type zapLogger struct {
	z *zap.Logger
}

// New builds a production-style JSON logger writing to stderr, named after
// the replica's node ID so logs from a multi-replica test harness are
// distinguishable.
func New(name string) Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	z := zap.New(core).Named(name)
	return &zapLogger{z: z}
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

func (l *zapLogger) Fatal(code int, msg string, fields ...zap.Field) {
	l.z.Error(msg, fields...)
	_ = l.z.Sync()
	os.Exit(code)
}

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

// NoOp discards everything; used in tests that don't care about log output.
type NoOp struct{}

func NewNoOp() Logger { return NoOp{} }

func (NoOp) Debug(msg string, fields ...zap.Field) {}
func (NoOp) Info(msg string, fields ...zap.Field)  {}
func (NoOp) Warn(msg string, fields ...zap.Field)  {}
func (NoOp) Error(msg string, fields ...zap.Field) {}
func (NoOp) Fatal(code int, msg string, fields ...zap.Field) { os.Exit(code) }
func (NoOp) With(fields ...zap.Field) Logger { return NoOp{} }
