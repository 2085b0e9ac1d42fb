package crawl

import (
	"context"
	"errors"
	"fmt"

	"github.com/eunmann/s3crawl/internal/logctx"
	"github.com/eunmann/s3crawl/pkg/batch"
	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/jobs"
	"github.com/eunmann/s3crawl/pkg/keyspace"
)

// PageScanner pages one prefix until the store reports no continuation.
// It does no partitioning of its own: common prefixes seen on delimited
// pages go back out unchanged as a partition job.
type PageScanner struct {
	Lister     keyspace.ListingClient
	Dispatcher jobs.Dispatcher
	Counters   counters.Store
	Options    Options
}

// Scan runs one page-scan job.
func (s *PageScanner) Scan(ctx context.Context, job jobs.PageScan) error {
	opts := s.Options
	if err := opts.Validate(); err != nil {
		return err
	}
	ctx = logctx.WithBucket(ctx, job.Bucket)
	ctx = logctx.WithStr(ctx, "prefix", job.Prefix)

	acc := batch.NewAccumulator(opts.BatchThreshold, func(ctx context.Context, keys []keyspace.KeyRecord) error {
		return s.Dispatcher.Dispatch(ctx, jobs.KeyBatch{Bucket: job.Bucket, Keys: keys})
	})

	err := s.pages(ctx, job, opts, acc)
	if flushErr := acc.Flush(ctx); flushErr != nil {
		err = errors.Join(err, flushErr)
	}
	if err != nil {
		return err
	}
	log := logctx.FromContext(ctx)
	log.Debug().Int("batches", acc.Batches()).Msg("page scan done")
	return nil
}

func (s *PageScanner) pages(ctx context.Context, job jobs.PageScan, opts Options, acc *batch.Accumulator) error {
	req := keyspace.ListRequest{
		Prefix:       job.Prefix,
		Delimiter:    job.Delimiter,
		Continuation: job.Continuation,
		Versioned:    job.Info.Versioned,
		MaxKeys:      opts.PageSize,
	}
	for {
		page, err := s.Lister.List(ctx, job.Bucket, req)
		if err != nil {
			return listingFailed(ctx, s.Counters, job.Bucket, job.Prefix, err)
		}

		keys := page.Keys
		done := !page.Truncated()
		if job.ExactKey {
			keys = exactMatches(keys, job.Prefix)
			done = done || len(keys) < len(page.Keys)
		}
		if err := acc.Add(ctx, keys...); err != nil {
			return err
		}

		if len(page.CommonPrefixes) > 0 && !job.ExactKey {
			err := s.Dispatcher.Dispatch(ctx, jobs.Partition{
				Bucket:   job.Bucket,
				Info:     job.Info,
				Strategy: job.Strategy,
				Frontier: page.CommonPrefixes,
				Calls:    job.Calls,
			})
			if err != nil {
				return fmt.Errorf("dispatch partition of %d prefixes: %w", len(page.CommonPrefixes), err)
			}
		}

		if done {
			return nil
		}
		req.Continuation = page.Next
	}
}
