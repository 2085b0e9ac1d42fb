// Package batch groups enumerated keys into bounded batches and applies the
// remediation action to them with a fixed-width worker pool.
package batch

import (
	"context"
	"fmt"

	"github.com/eunmann/s3crawl/pkg/keyspace"
)

// DefaultThreshold is the batch size used when none is configured.
const DefaultThreshold = 1000

// FlushFunc hands a full or final batch on. It must not retain the slice
// beyond the call.
type FlushFunc func(ctx context.Context, batch []keyspace.KeyRecord) error

// Accumulator collects key records and flushes them whenever the threshold
// is reached. The producer calls Flush once when its step completes; the
// last batch may be smaller than the threshold but never larger.
type Accumulator struct {
	threshold int
	flush     FlushFunc
	buf       []keyspace.KeyRecord
	batches   int
}

// NewAccumulator returns an accumulator flushing through flush.
func NewAccumulator(threshold int, flush FlushFunc) *Accumulator {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Accumulator{threshold: threshold, flush: flush}
}

// Add appends records, flushing each time the threshold is reached.
func (a *Accumulator) Add(ctx context.Context, records ...keyspace.KeyRecord) error {
	for len(records) > 0 {
		n := min(a.threshold-len(a.buf), len(records))
		a.buf = append(a.buf, records[:n]...)
		records = records[n:]
		if len(a.buf) == a.threshold {
			if err := a.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush hands on whatever is buffered. An empty buffer is a no-op.
func (a *Accumulator) Flush(ctx context.Context) error {
	if len(a.buf) == 0 {
		return nil
	}
	batch := a.buf
	a.buf = make([]keyspace.KeyRecord, 0, a.threshold)
	a.batches++
	if err := a.flush(ctx, batch); err != nil {
		return fmt.Errorf("flush batch of %d keys: %w", len(batch), err)
	}
	return nil
}

// Len returns the number of buffered records.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Batches returns the number of batches flushed so far.
func (a *Accumulator) Batches() int {
	return a.batches
}
