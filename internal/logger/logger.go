package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Package-wide leveled logger used by every server component. A thin
// printf-style facade over zap so call sites stay short
// (logger.Info("...", args...)) while output stays structured.

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger atomic.Pointer[zap.SugaredLogger]
)

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		// Production config only fails on bad user options; none are set here.
		panic(err)
	}
	logger.Store(l.Sugar())
}

// SetLevel changes the minimum level for the whole process.
// Accepts DEBUG, INFO, WARN, ERROR (case-insensitive); unknown values are ignored.
func SetLevel(s string) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	}
}

// Replace swaps the underlying zap logger. Intended for tests and for
// main() once the configured output is known.
func Replace(l *zap.Logger) {
	logger.Store(l.Sugar())
}

func Debug(format string, v ...any) {
	logger.Load().Debugf(format, v...)
}

func Info(format string, v ...any) {
	logger.Load().Infof(format, v...)
}

func Warn(format string, v ...any) {
	logger.Load().Warnf(format, v...)
}

func Error(format string, v ...any) {
	logger.Load().Errorf(format, v...)
}
