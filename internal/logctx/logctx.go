// Package logctx carries a zerolog logger through context.Context.
//
// Each work unit (bucket scan, partition, page scan, key batch) enriches the
// logger with the fields that identify it, so everything logged below the
// job handler names the bucket and job it belongs to:
//
//	ctx = logctx.WithJob(ctx, job.ID, string(job.Kind()))
//	ctx = logctx.WithBucket(ctx, bucket)
//	log := logctx.FromContext(ctx)
//	log.Info().Msg("partition done")
package logctx

import (
	"context"
	"os"
	"sync"

	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/rs/zerolog"
)

type loggerKey struct{}

var (
	defaultMu     sync.RWMutex
	defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// DefaultLogger returns the logger used when a context carries none.
func DefaultLogger() zerolog.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the fallback logger. Call it from main before
// any work starts.
func SetDefaultLogger(l zerolog.Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the context logger, or the default logger when ctx is
// nil or carries none.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// WithStr adds one string field to the context logger.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithBucket adds the account and bucket fields.
func WithBucket(ctx context.Context, bucket keyspace.BucketID) context.Context {
	logger := FromContext(ctx).With().
		Str("account", bucket.Account).
		Str("bucket", bucket.Bucket).
		Logger()
	return WithLogger(ctx, logger)
}

// WithJob adds the job id and kind fields.
func WithJob(ctx context.Context, id, kind string) context.Context {
	logger := FromContext(ctx).With().
		Str("job_id", id).
		Str("kind", kind).
		Logger()
	return WithLogger(ctx, logger)
}
