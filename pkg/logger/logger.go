// Package logger is the zap setup shared by every harness binary.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger so call sites can add harness fields fluently.
type Logger struct {
	*zap.Logger
}

// New builds a logger for env and tags every entry with the service name.
// "production" and "staging" log JSON at info level; anything else gets the
// console encoder at debug level.
func New(env, service string) (*Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if env == "production" || env == "staging" {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.TimeKey = "ts"
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	opts := []zap.Option{}
	if service != "" {
		opts = append(opts, zap.Fields(zap.String("service", service)))
	}

	lg, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("logger: build: %w", err)
	}
	return &Logger{Logger: lg}, nil
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component)}
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}
