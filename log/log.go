//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package log provides the process-wide logger used by the runtime.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level names accepted by SetLevel and the log.level config key.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

// Logger is the logging interface used throughout zupa.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

var zapLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.MillisDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// Default is the logger used by the package-level helpers.
// Replace it to route runtime logs elsewhere.
var Default Logger = New(os.Stdout)

// New builds a zap sugared logger writing console-encoded entries to w.
// All loggers created by New share the level controlled by SetLevel.
func New(w io.Writer) Logger {
	return zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(w),
			zapLevel,
		),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	).Sugar()
}

// SetLevel sets the shared log level. Unknown names fall back to info.
func SetLevel(level string) {
	switch level {
	case LevelDebug:
		zapLevel.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		zapLevel.SetLevel(zapcore.WarnLevel)
	case LevelError:
		zapLevel.SetLevel(zapcore.ErrorLevel)
	case LevelFatal:
		zapLevel.SetLevel(zapcore.FatalLevel)
	default:
		zapLevel.SetLevel(zapcore.InfoLevel)
	}
}

// Debug logs at debug level.
func Debug(args ...any) { Default.Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { Default.Debugf(format, args...) }

// Info logs at info level.
func Info(args ...any) { Default.Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { Default.Infof(format, args...) }

// Warn logs at warn level.
func Warn(args ...any) { Default.Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { Default.Warnf(format, args...) }

// Error logs at error level.
func Error(args ...any) { Default.Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }

// Fatal logs at fatal level and exits.
func Fatal(args ...any) { Default.Fatal(args...) }

// Fatalf logs a formatted message at fatal level and exits.
func Fatalf(format string, args ...any) { Default.Fatalf(format, args...) }
