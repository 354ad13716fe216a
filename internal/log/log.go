// Package log supplies the narrow logging interface used across the
// adapter, backed by zap in production wiring and a no-op implementation
// in tests.
package log

import "go.uber.org/zap"

// Logger is the logging surface every package depends on. Keeping it this
// small means tests can supply Nop() without pulling in zap at all.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a production zap logger writing structured JSON to stderr.
func New() (Logger, error) {
	zl, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: zl.Sugar()}, nil
}

// NewDevelopment builds a human-readable console logger, used by cmd/adapter
// unless it is started with -dev=false.
func NewDevelopment() (Logger, error) {
	zl, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: zl.Sugar()}, nil
}

func (l *zapLogger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// Nop returns a Logger that discards everything, the zero value tests want.
func Nop() Logger { return nopLogger{} }
