package crawl

import (
	"context"
	"fmt"

	"github.com/eunmann/s3crawl/internal/logctx"
	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
)

// listingFailed applies the listing error policy for one prefix. Denied
// marks the bucket in the denied set and abandons the prefix; Missing ends
// it silently; anything else is counted and returned so the work unit
// fails. A nil return means the caller carries on with its next prefix.
func listingFailed(ctx context.Context, store counters.Store, bucket keyspace.BucketID, prefix string, err error) error {
	log := logctx.FromContext(ctx).With().Str("prefix", prefix).Logger()

	switch o := outcome.Classify(err); o {
	case outcome.Denied:
		log.Warn().Err(err).Msg("listing denied")
		countGlobal(ctx, store, outcome.GlobalBucketsDenied, bucket)
		count(ctx, store, bucket, outcome.CategoryListingDenied, 1)
		return nil
	case outcome.Missing:
		log.Debug().Err(err).Msg("listing target missing")
		return nil
	default:
		count(ctx, store, bucket, outcome.CategoryListingErrors, 1)
		count(ctx, store, bucket, outcome.CategoryUnknownError, 1)
		return fmt.Errorf("list %s prefix %q (%s): %w", bucket, prefix, o, err)
	}
}

// count writes one diagnostic increment. Failures are logged, not returned.
func count(ctx context.Context, store counters.Store, bucket keyspace.BucketID, category string, n int64) {
	if n == 0 {
		return
	}
	if err := store.Increment(ctx, bucket, category, n); err != nil {
		log := logctx.FromContext(ctx)
		log.Error().Err(err).Str("category", category).Msg("counter increment failed")
	}
}

func countGlobal(ctx context.Context, store counters.Store, category string, bucket keyspace.BucketID) {
	if err := store.IncrementGlobal(ctx, category, bucket.String(), 1); err != nil {
		log := logctx.FromContext(ctx)
		log.Error().Err(err).Str("category", category).Msg("global counter increment failed")
	}
}
