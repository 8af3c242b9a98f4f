// Package log provides the transport's structured logger: a thin wrapper
// over zap, configured the way the rest of this corpus configures it
// (JSON in production, console in development, level read from config).
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with the small surface the transport
// needs, so call sites don't depend on zap's full API.
type Logger struct {
	s *zap.SugaredLogger
}

// Config controls how a Logger is constructed.
type Config struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

var defaultLogger = New(Config{Level: "info", JSON: false})

// Default returns the package-level default logger, used where a caller
// doesn't wire its own.
func Default() *Logger { return defaultLogger }

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Level))

	zcfg := zap.NewProductionConfig()
	if !cfg.JSON {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		zl = zap.NewNop()
	}
	return &Logger{s: zl.Sugar()}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

// Sync flushes any buffered log entries. Call before process exit.
func (l *Logger) Sync() error { return l.s.Sync() }
