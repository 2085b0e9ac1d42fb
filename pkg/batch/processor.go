package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eunmann/s3crawl/internal/logctx"
	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWidth is the number of concurrent action calls per batch.
	DefaultWidth = 10
	// DefaultThrottlePause is how long a worker slot waits after a
	// throttled or session-error result.
	DefaultThrottlePause = time.Second
)

// Action is the remediation applied to one key. Implementations must be
// idempotent: a batch may be delivered more than once.
type Action interface {
	Apply(ctx context.Context, bucket keyspace.BucketID, rec keyspace.KeyRecord) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, bucket keyspace.BucketID, rec keyspace.KeyRecord) error

// Apply calls f.
func (f ActionFunc) Apply(ctx context.Context, bucket keyspace.BucketID, rec keyspace.KeyRecord) error {
	return f(ctx, bucket, rec)
}

// Processor applies an Action to every key of a batch.
type Processor struct {
	Action   Action
	Counters counters.Store

	// Width bounds concurrent Action calls. Zero means DefaultWidth.
	Width int
	// ThrottlePause is slept by the slot that saw a pausing outcome before
	// it takes its next key. Zero means DefaultThrottlePause.
	ThrottlePause time.Duration
	// Sleep replaces the pause in tests.
	Sleep func(ctx context.Context, d time.Duration)
}

// Process applies the action to each record and returns the per-outcome
// tally. A failing key never stops the batch. Once ctx is done no further
// keys are started, and keys cut short by it are left out of the tally.
func (p *Processor) Process(ctx context.Context, bucket keyspace.BucketID, records []keyspace.KeyRecord) outcome.Delta {
	log := logctx.FromContext(ctx)

	var (
		mu    sync.Mutex
		delta outcome.Delta
	)

	g := new(errgroup.Group)
	g.SetLimit(p.width())
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := p.Action.Apply(ctx, bucket, rec)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			o := outcome.Classify(err)

			mu.Lock()
			delta.Record(o)
			mu.Unlock()

			if o == outcome.Unknown {
				log.Warn().Err(err).Str("key", rec.Key).Msg("unclassified remediation error")
			}
			if o.Pauses() {
				p.pause(ctx)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).
			Int("records", len(records)).
			Int64("scanned", delta.Scanned).
			Msg("batch interrupted")
	}
	return delta
}

// Report writes one increment per non-zero category of d.
func (p *Processor) Report(ctx context.Context, bucket keyspace.BucketID, d outcome.Delta) error {
	var errs []error
	for _, c := range d.Categories() {
		if err := p.Counters.Increment(ctx, bucket, c.Category, c.Count); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProcessAndReport runs Process then Report.
func (p *Processor) ProcessAndReport(ctx context.Context, bucket keyspace.BucketID, records []keyspace.KeyRecord) (outcome.Delta, error) {
	d := p.Process(ctx, bucket, records)
	return d, p.Report(ctx, bucket, d)
}

func (p *Processor) width() int {
	if p.Width < 1 {
		return DefaultWidth
	}
	return p.Width
}

func (p *Processor) pause(ctx context.Context) {
	d := p.ThrottlePause
	if d <= 0 {
		d = DefaultThrottlePause
	}
	if p.Sleep != nil {
		p.Sleep(ctx, d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
