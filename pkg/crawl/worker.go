package crawl

import (
	"context"
	"errors"
	"fmt"

	"github.com/eunmann/s3crawl/internal/logctx"
	"github.com/eunmann/s3crawl/pkg/batch"
	"github.com/eunmann/s3crawl/pkg/charset"
	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/jobs"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
	"github.com/eunmann/s3crawl/pkg/partition"
)

var (
	// ErrUnknownJob indicates a payload type the worker does not handle.
	ErrUnknownJob = errors.New("unknown job kind")
	// ErrNoSession indicates an account no provider is configured for.
	ErrNoSession = errors.New("no session provider for account")
)

// Session bundles the object-store collaborators for one account. A
// session lives for one work unit.
type Session struct {
	Lister   keyspace.ListingClient
	Probe    keyspace.BucketProbe
	Action   batch.Action
	Discover keyspace.BucketDiscoverer
}

// SessionProvider opens a Session for an account.
type SessionProvider interface {
	Session(ctx context.Context, account string) (*Session, error)
}

// StaticSessions hands out the same Session for every account.
type StaticSessions Session

// Session implements SessionProvider.
func (s *StaticSessions) Session(context.Context, string) (*Session, error) {
	sess := Session(*s)
	return &sess, nil
}

// SessionRouter picks the provider configured for each account.
type SessionRouter map[string]SessionProvider

// Session implements SessionProvider.
func (r SessionRouter) Session(ctx context.Context, account string) (*Session, error) {
	p, ok := r[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, account)
	}
	return p.Session(ctx, account)
}

// Worker routes each job to its handler.
type Worker struct {
	Sessions   SessionProvider
	Dispatcher jobs.Dispatcher
	Counters   counters.Store
	Options    Options
}

// Handle implements jobs.Handler.
func (w *Worker) Handle(ctx context.Context, j jobs.Job) error {
	switch p := j.Payload.(type) {
	case jobs.AccountScan:
		return w.scanAccount(ctx, p)
	case jobs.BucketScan:
		return w.scanBucket(ctx, p)
	case jobs.Partition:
		sess, err := w.session(ctx, p.Bucket.Account)
		if err != nil {
			return err
		}
		return w.scheduler(sess).Run(ctx, p)
	case jobs.PageScan:
		sess, err := w.session(ctx, p.Bucket.Account)
		if err != nil {
			return err
		}
		return w.pageScanner(sess).Scan(ctx, p)
	case jobs.KeyBatch:
		sess, err := w.session(ctx, p.Bucket.Account)
		if err != nil {
			return err
		}
		return w.processBatch(ctx, sess, p)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownJob, j.Payload)
	}
}

func (w *Worker) session(ctx context.Context, account string) (*Session, error) {
	sess, err := w.Sessions.Session(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("open session for %s: %w", account, err)
	}
	return sess, nil
}

func (w *Worker) selector(sess *Session) *partition.Selector {
	sel := partition.NewSelector(sess.Lister)
	if w.Options.MaxNGramDepth > 0 {
		sel.MaxNGramDepth = w.Options.MaxNGramDepth
	}
	return sel
}

func (w *Worker) scheduler(sess *Session) *Scheduler {
	return &Scheduler{
		Lister:     sess.Lister,
		Selector:   w.selector(sess),
		Dispatcher: w.Dispatcher,
		Counters:   w.Counters,
		Options:    w.Options,
	}
}

func (w *Worker) pageScanner(sess *Session) *PageScanner {
	return &PageScanner{
		Lister:     sess.Lister,
		Dispatcher: w.Dispatcher,
		Counters:   w.Counters,
		Options:    w.Options,
	}
}

func (w *Worker) scanAccount(ctx context.Context, job jobs.AccountScan) error {
	sess, err := w.session(ctx, job.Account)
	if err != nil {
		return err
	}
	if sess.Discover == nil {
		return fmt.Errorf("account %s: no bucket discovery configured", job.Account)
	}
	buckets, err := sess.Discover.Buckets(ctx, job.Account)
	if err != nil {
		return fmt.Errorf("discover buckets of %s: %w", job.Account, err)
	}
	for _, b := range buckets {
		if err := w.Dispatcher.Dispatch(ctx, jobs.BucketScan{Bucket: b}); err != nil {
			return fmt.Errorf("dispatch scan of %s: %w", b, err)
		}
	}
	log := logctx.FromContext(ctx)
	log.Info().Str("account", job.Account).Int("buckets", len(buckets)).Msg("account scan dispatched")
	return nil
}

// scanBucket probes the bucket, selects its strategy and partitions it in
// the same work unit.
func (w *Worker) scanBucket(ctx context.Context, job jobs.BucketScan) error {
	ctx = logctx.WithBucket(ctx, job.Bucket)
	log := logctx.FromContext(ctx)

	sess, err := w.session(ctx, job.Bucket.Account)
	if err != nil {
		return err
	}

	info, err := sess.Probe.Probe(ctx, job.Bucket)
	if err != nil {
		return w.bucketFailed(ctx, job, fmt.Errorf("probe: %w", err))
	}

	strategy, err := w.selector(sess).Select(ctx, job.Bucket, info, job.Prefix)
	if errors.Is(err, charset.ErrAmbiguousCharset) {
		countGlobal(ctx, w.Counters, outcome.GlobalBucketsAmbiguousCharset, job.Bucket)
		return fmt.Errorf("select strategy for %s: %w", job.Bucket, err)
	}
	if err != nil {
		return w.bucketFailed(ctx, job, err)
	}

	log.Info().
		Stringer("strategy", strategy).
		Str("region", info.Region).
		Bool("versioned", info.Versioned).
		Int64("estimated_keys", info.EstimatedKeyCount).
		Msg("strategy selected")

	return w.scheduler(sess).Run(ctx, jobs.Partition{
		Bucket:   job.Bucket,
		Info:     info,
		Strategy: strategy,
		Frontier: strategy.InitialFrontier([]string{job.Prefix}),
	})
}

// bucketFailed applies the listing error policy at bucket level and marks
// buckets that failed for any other reason.
func (w *Worker) bucketFailed(ctx context.Context, job jobs.BucketScan, err error) error {
	if err := listingFailed(ctx, w.Counters, job.Bucket, job.Prefix, err); err != nil {
		countGlobal(ctx, w.Counters, outcome.GlobalBucketsFailed, job.Bucket)
		return err
	}
	return nil
}

func (w *Worker) processBatch(ctx context.Context, sess *Session, job jobs.KeyBatch) error {
	ctx = logctx.WithBucket(ctx, job.Bucket)
	p := &batch.Processor{
		Action:        sess.Action,
		Counters:      w.Counters,
		Width:         w.Options.Width,
		ThrottlePause: w.Options.ThrottlePause,
	}
	d, err := p.ProcessAndReport(ctx, job.Bucket, job.Keys)
	log := logctx.FromContext(ctx)
	log.Debug().
		Int64("scanned", d.Scanned).
		Int64("remediated", d.Remediated).
		Int64("unknown", d.Unknown).
		Msg("key batch done")
	if err != nil {
		return fmt.Errorf("report batch: %w", err)
	}
	return nil
}
