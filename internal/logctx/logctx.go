// Package logctx carries a zerolog logger in a context.Context.
//
// The CLI attaches the configured logger once; the pipeline adds fields as it
// descends (the bucket for a run, the group key for each group) so every
// line logged below carries them:
//
//	ctx = logctx.WithStr(ctx, "group", groupKey)
//	log := logctx.FromContext(ctx)
//	log.Info().Msg("aggregating")
package logctx

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

var defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// DefaultLogger returns the logger used when a context carries none: JSON to
// stderr with timestamps.
func DefaultLogger() zerolog.Logger {
	return defaultLogger
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger carried by ctx, or DefaultLogger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return defaultLogger
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return defaultLogger
}

// WithStr returns a copy of ctx whose logger has the string field key set.
func WithStr(ctx context.Context, key, value string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Str(key, value).Logger())
}
