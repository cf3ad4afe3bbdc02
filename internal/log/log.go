// Package log builds the process logger and carries it, with extra
// fields, through a context.
package log

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key int

const (
	fieldsKey key = iota
	loggerKey
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New builds a logger writing to stderr at level ("debug", "info", ...)
// in the given format.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var config zap.Config
	switch format {
	case FormatConsole, "":
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.DisableStacktrace = true
	case FormatJSON:
		config = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	config.Level = lvl
	config.Development = false
	config.DisableCaller = true
	return config.Build()
}

// WithContext enriches the logger with fields from the context.
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	return logger.With(Fields(ctx)...)
}

// WithFields adds log fields to the context.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, fieldsKey, append(Fields(ctx), fields...))
}

// Fields extracts log fields from the context.
func Fields(ctx context.Context) []zap.Field {
	fields, ok := ctx.Value(fieldsKey).([]zap.Field)
	if !ok {
		return []zap.Field{}
	}
	return fields
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger extracts a logger from the context, or nil.
func Logger(ctx context.Context) *zap.Logger {
	logger, _ := ctx.Value(loggerKey).(*zap.Logger)
	return logger
}

// LoggerFromContext returns the context logger, falling back to
// defaultLogger, enriched with the context fields.
func LoggerFromContext(ctx context.Context, defaultLogger *zap.Logger) *zap.Logger {
	logger := Logger(ctx)
	if logger == nil {
		logger = defaultLogger
	}
	return WithContext(ctx, logger)
}
