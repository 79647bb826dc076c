// Package log provides structured JSON logging for the server, built on
// the non-sugared zap.Logger so the hot connection paths allocate nothing
// per entry beyond their fields.
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured JSON logging. Every entry carries the fields
// attached via With, typically the listener address and remote address.
type Logger struct {
	zap *zap.Logger
}

// ParseLevel maps a config level string to a zap level.
// An empty string defaults to info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "":
		return zapcore.InfoLevel, nil
	case "debug", "info", "warn", "error":
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(s)); err != nil {
			return 0, err
		}
		return lvl, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger creates a logger at the given level. Output defaults to os.Stderr.
func NewLogger(level zapcore.Level) *Logger {
	return newLoggerWithWriter(level, os.Stderr)
}

// With returns a logger with additional structured context fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

func newLoggerWithWriter(level zapcore.Level, w io.Writer) *Logger {
	return &Logger{zap: zap.New(newCore(level, w))}
}

func newCore(level zapcore.Level, w io.Writer) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...zap.Field) {
	l.zap.Debug(message, fields...)
}

// Info logs an info message.
func (l *Logger) Info(message string, fields ...zap.Field) {
	l.zap.Info(message, fields...)
}

// Error logs an error message.
func (l *Logger) Error(message string, fields ...zap.Field) {
	l.zap.Error(message, fields...)
}
