// Package crawl drives the enumeration of a bucket: partitioning its
// keyspace, paging partitions, and routing every job kind to its handler.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/eunmann/s3crawl/internal/logctx"
	"github.com/eunmann/s3crawl/pkg/batch"
	"github.com/eunmann/s3crawl/pkg/charset"
	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/jobs"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
	"github.com/eunmann/s3crawl/pkg/partition"
)

// StrategySelector chooses a partition strategy under a seed prefix.
type StrategySelector interface {
	Select(ctx context.Context, bucket keyspace.BucketID, info keyspace.BucketInfo, seed string) (partition.Strategy, error)
}

// Scheduler works through the frontier of one partition job. It lists each
// prefix at most once, hands continuations and over-deep prefixes to
// page-scan jobs, and spreads a wide frontier over new partition jobs. It
// never waits for the work it dispatches.
type Scheduler struct {
	Lister     keyspace.ListingClient
	Selector   StrategySelector
	Dispatcher jobs.Dispatcher
	Counters   counters.Store
	Options    Options
}

type partitionRun struct {
	s        *Scheduler
	opts     Options
	bucket   keyspace.BucketID
	info     keyspace.BucketInfo
	strategy partition.Strategy
	frontier []string
	calls    int
	acc      *batch.Accumulator
}

// Run processes job until its local frontier is empty. The job frontier is
// used as given; callers creating the first job of a bucket pass it through
// Strategy.InitialFrontier.
func (s *Scheduler) Run(ctx context.Context, job jobs.Partition) error {
	opts := s.Options
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := job.Strategy.Validate(); err != nil {
		return fmt.Errorf("partition %s: %w", job.Bucket, err)
	}
	ctx = logctx.WithBucket(ctx, job.Bucket)

	r := &partitionRun{
		s:        s,
		opts:     opts,
		bucket:   job.Bucket,
		info:     job.Info,
		strategy: job.Strategy,
		frontier: slices.Clone(job.Frontier),
		calls:    job.Calls,
	}
	r.acc = batch.NewAccumulator(opts.BatchThreshold, r.flushKeys)

	startCalls := r.calls
	defer func() {
		count(ctx, s.Counters, job.Bucket, outcome.CategoryPartitionCalls, int64(r.calls-startCalls))
	}()

	log := logctx.FromContext(ctx)
	log.Debug().
		Stringer("strategy", r.strategy).
		Int("frontier", len(r.frontier)).
		Int("calls", r.calls).
		Msg("partition start")

	for len(r.frontier) > 0 {
		p := r.frontier[len(r.frontier)-1]
		r.frontier = r.frontier[:len(r.frontier)-1]
		r.calls++

		if err := r.step(ctx, p); err != nil {
			// Flush what was gathered before failing.
			if flushErr := r.acc.Flush(ctx); flushErr != nil {
				err = errors.Join(err, flushErr)
			}
			return err
		}
		if len(r.frontier) > opts.FanoutThreshold {
			if err := r.fanOut(ctx); err != nil {
				return err
			}
		}
	}
	return r.acc.Flush(ctx)
}

func (r *partitionRun) step(ctx context.Context, p string) error {
	if r.strategy.IsDepthExceeded(p) {
		return r.dispatchPageScan(ctx, p, "", keyspace.Continuation{}, false)
	}
	if r.strategy.ExactOnly(p) {
		return r.exact(ctx, p)
	}

	delim := r.strategy.ListDelimiter()
	page, err := r.s.Lister.List(ctx, r.bucket, keyspace.ListRequest{
		Prefix:    p,
		Delimiter: delim,
		Versioned: r.info.Versioned,
		MaxKeys:   r.opts.PageSize,
	})
	if err != nil {
		return listingFailed(ctx, r.s.Counters, r.bucket, p, err)
	}

	// The escape hatch looks at the frontier including the prefixes this
	// page just reported.
	expanded := r.strategy.Expand(r.frontier, p, page.CommonPrefixes)
	if page.Truncated() && len(expanded) == 0 && r.calls < r.opts.EscapeHatchCalls {
		reselected, err := r.reselect(ctx, p)
		if reselected || err != nil {
			return err
		}
	}

	// A common-prefix partition with no sub-prefixes is a leaf: page it
	// whole instead of splitting it further.
	if r.strategy.Kind == partition.KindCommonPrefix && len(page.CommonPrefixes) == 0 && len(page.Keys) > 0 {
		return r.dispatchPageScan(ctx, p, "", keyspace.Continuation{}, false)
	}

	if err := r.acc.Add(ctx, page.Keys...); err != nil {
		return err
	}
	r.frontier = expanded
	if page.Truncated() {
		return r.dispatchPageScan(ctx, p, delim, page.Next, false)
	}
	return nil
}

// exact handles a short n-gram entry, which only stands for the object
// whose key equals p.
func (r *partitionRun) exact(ctx context.Context, p string) error {
	page, err := r.s.Lister.List(ctx, r.bucket, keyspace.ListRequest{
		Prefix:    p,
		Versioned: r.info.Versioned,
		MaxKeys:   r.opts.PageSize,
	})
	if err != nil {
		return listingFailed(ctx, r.s.Counters, r.bucket, p, err)
	}
	matched := exactMatches(page.Keys, p)
	if err := r.acc.Add(ctx, matched...); err != nil {
		return err
	}
	// Only a page made entirely of versions of p can continue into more.
	if page.Truncated() && len(matched) == len(page.Keys) {
		return r.dispatchPageScan(ctx, p, "", page.Next, true)
	}
	return nil
}

// reselect re-runs strategy selection under p and restarts the local
// frontier from it. It reports false when selection could not produce a
// strategy and the caller should fall back to the current one.
func (r *partitionRun) reselect(ctx context.Context, p string) (bool, error) {
	log := logctx.FromContext(ctx).With().Str("prefix", p).Logger()

	next, err := r.s.Selector.Select(ctx, r.bucket, r.info, p)
	switch {
	case errors.Is(err, charset.ErrAmbiguousCharset):
		log.Warn().Err(err).Msg("reselection failed, keeping strategy")
		return false, nil
	case err != nil:
		return true, listingFailed(ctx, r.s.Counters, r.bucket, p, err)
	}

	log.Info().
		Stringer("from", r.strategy).
		Stringer("to", next).
		Int("calls", r.calls).
		Msg("strategy reselected")
	r.strategy = next
	r.frontier = slices.Clone(next.InitialFrontier([]string{p}))
	return true, nil
}

// fanOut keeps the first FanoutThreshold-1 frontier entries and hands the
// rest to new jobs in chunks of the same size.
func (r *partitionRun) fanOut(ctx context.Context) error {
	keep := r.opts.FanoutThreshold - 1
	excess := r.frontier[keep:]
	r.frontier = slices.Clone(r.frontier[:keep])

	for chunk := range slices.Chunk(excess, keep) {
		var seed []string
		for _, p := range chunk {
			if r.strategy.IsDepthExceeded(p) {
				if err := r.dispatchPageScan(ctx, p, "", keyspace.Continuation{}, false); err != nil {
					return err
				}
				continue
			}
			seed = append(seed, p)
		}
		if len(seed) == 0 {
			continue
		}
		err := r.s.Dispatcher.Dispatch(ctx, jobs.Partition{
			Bucket:   r.bucket,
			Info:     r.info,
			Strategy: r.strategy,
			Frontier: slices.Clone(seed),
			Calls:    r.calls,
		})
		if err != nil {
			return fmt.Errorf("dispatch partition of %d prefixes: %w", len(seed), err)
		}
	}
	return nil
}

func (r *partitionRun) dispatchPageScan(ctx context.Context, p, delim string, next keyspace.Continuation, exact bool) error {
	err := r.s.Dispatcher.Dispatch(ctx, jobs.PageScan{
		Bucket:       r.bucket,
		Info:         r.info,
		Prefix:       p,
		Delimiter:    delim,
		Continuation: next,
		ExactKey:     exact,
		Strategy:     r.strategy,
		Calls:        r.calls,
	})
	if err != nil {
		return fmt.Errorf("dispatch page scan %q: %w", p, err)
	}
	return nil
}

func (r *partitionRun) flushKeys(ctx context.Context, keys []keyspace.KeyRecord) error {
	return r.s.Dispatcher.Dispatch(ctx, jobs.KeyBatch{Bucket: r.bucket, Keys: keys})
}

// exactMatches returns the leading records whose key equals p. Listings
// are sorted, so they can only appear first.
func exactMatches(records []keyspace.KeyRecord, p string) []keyspace.KeyRecord {
	n := 0
	for n < len(records) && records[n].Key == p {
		n++
	}
	return records[:n]
}
