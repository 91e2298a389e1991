// Package log provides context-scoped structured logging for the whole SDK.
//
// A logger travels with the context: log.With(ctx, "sceneID", id) returns a
// context whose logger carries the field, and log.Logger(ctx) retrieves it
// anywhere below. Without an attached logger, the package-level logger is
// used (level configurable through the LOG_LEVEL environment variable).
package log

import (
	"context"
	"os"

	"go.uber.org/zap"
)

type ctxKey struct{}

var defaultLogger = mustBuild()

func mustBuild() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if atom, err := zap.ParseAtomicLevel(lvl); err == nil {
			cfg.Level = atom
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		panic("log: " + err.Error())
	}
	return logger
}

// Logger returns the logger attached to ctx, or the default logger.
func Logger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a context whose logger carries the given key-value pairs.
func With(ctx context.Context, keysAndValues ...interface{}) context.Context {
	l := Logger(ctx).Sugar().With(keysAndValues...).Desugar()
	return context.WithValue(ctx, ctxKey{}, l)
}

// Set attaches the given logger to the context.
func Set(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Fatal logs the message with the default logger and exits.
func Fatal(msg string, fields ...zap.Field) {
	defaultLogger.Fatal(msg, fields...)
}
