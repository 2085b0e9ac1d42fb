package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
)

var testBucket = keyspace.BucketID{Account: "prod", Bucket: "data"}

func records(keys ...string) []keyspace.KeyRecord {
	out := make([]keyspace.KeyRecord, len(keys))
	for i, k := range keys {
		out[i] = keyspace.KeyRecord{Key: k}
	}
	return out
}

func TestAccumulator_BatchSizeInvariant(t *testing.T) {
	for _, tc := range []struct {
		threshold int
		total     int
		adds      int
	}{
		{threshold: 3, total: 10, adds: 1},
		{threshold: 3, total: 10, adds: 4},
		{threshold: 5, total: 5, adds: 2},
		{threshold: 1000, total: 2500, adds: 7},
	} {
		t.Run(fmt.Sprintf("%d/%d/%d", tc.threshold, tc.total, tc.adds), func(t *testing.T) {
			var sizes []int
			acc := NewAccumulator(tc.threshold, func(_ context.Context, b []keyspace.KeyRecord) error {
				sizes = append(sizes, len(b))
				return nil
			})

			ctx := context.Background()
			remaining := tc.total
			for i := 0; remaining > 0; i++ {
				n := min(remaining, tc.adds+i%3)
				recs := make([]keyspace.KeyRecord, n)
				if err := acc.Add(ctx, recs...); err != nil {
					t.Fatalf("Add() error = %v", err)
				}
				if acc.Len() >= tc.threshold {
					t.Fatalf("buffer holds %d, threshold %d", acc.Len(), tc.threshold)
				}
				remaining -= n
			}
			if err := acc.Flush(ctx); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}

			total := 0
			for i, s := range sizes {
				if s > tc.threshold || (s < tc.threshold && i != len(sizes)-1) {
					t.Errorf("batch %d has %d keys (threshold %d): %v", i, s, tc.threshold, sizes)
				}
				total += s
			}
			if total != tc.total {
				t.Errorf("flushed %d keys, want %d", total, tc.total)
			}
			if acc.Batches() != len(sizes) {
				t.Errorf("Batches() = %d, want %d", acc.Batches(), len(sizes))
			}
		})
	}
}

func TestAccumulator_FlushEmptyIsNoop(t *testing.T) {
	calls := 0
	acc := NewAccumulator(10, func(context.Context, []keyspace.KeyRecord) error {
		calls++
		return nil
	})
	if err := acc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("flush called %d times on empty buffer", calls)
	}
}

func TestAccumulator_FlushError(t *testing.T) {
	boom := errors.New("queue down")
	acc := NewAccumulator(2, func(context.Context, []keyspace.KeyRecord) error { return boom })
	if err := acc.Add(context.Background(), records("a", "b")...); !errors.Is(err, boom) {
		t.Errorf("Add() error = %v, want %v", err, boom)
	}
}

func TestProcess_ThrottledKeyPausesAndContinues(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	action := ActionFunc(func(_ context.Context, _ keyspace.BucketID, rec keyspace.KeyRecord) error {
		mu.Lock()
		log = append(log, rec.Key)
		mu.Unlock()
		if rec.Key == "k3" {
			return fmt.Errorf("head object: %w", outcome.ErrThrottled)
		}
		return nil
	})

	p := &Processor{
		Action:        action,
		Width:         1,
		ThrottlePause: 250 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) {
			mu.Lock()
			log = append(log, "pause:"+d.String())
			mu.Unlock()
		},
	}

	d := p.Process(context.Background(), testBucket, records("k1", "k2", "k3", "k4", "k5"))

	if d.Throttled != 1 {
		t.Errorf("Throttled = %d, want 1", d.Throttled)
	}
	if d.Remediated != 4 || d.Scanned != 5 {
		t.Errorf("delta = %+v, want 4 remediated of 5 scanned", d)
	}
	want := []string{"k1", "k2", "k3", "pause:250ms", "k4", "k5"}
	if !slices.Equal(log, want) {
		t.Errorf("call order = %v, want %v", log, want)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	errs := map[string]error{
		"gone":   outcome.ErrNotFound,
		"secret": outcome.ErrDenied,
		"weird":  errors.New("weird"),
	}
	action := ActionFunc(func(_ context.Context, _ keyspace.BucketID, rec keyspace.KeyRecord) error {
		return errs[rec.Key]
	})
	p := &Processor{Action: action, Sleep: func(context.Context, time.Duration) {}}
	batch := records("ok", "gone", "secret", "weird", "ok2")

	first := p.Process(context.Background(), testBucket, batch)
	second := p.Process(context.Background(), testBucket, batch)
	if first != second {
		t.Errorf("second run = %+v, first = %+v", second, first)
	}
	want := outcome.Delta{Scanned: 5, Remediated: 2, Missing: 1, Denied: 1, Unknown: 1}
	if first != want {
		t.Errorf("delta = %+v, want %+v", first, want)
	}
}

func TestProcess_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	action := ActionFunc(func(ctx context.Context, _ keyspace.BucketID, rec keyspace.KeyRecord) error {
		calls++
		if rec.Key == "k3" {
			cancel()
			return ctx.Err()
		}
		return nil
	})
	p := &Processor{Action: action, Width: 1, Sleep: func(context.Context, time.Duration) {}}

	d := p.Process(ctx, testBucket, records("k1", "k2", "k3", "k4", "k5"))

	if calls != 3 {
		t.Errorf("action calls = %d, want 3", calls)
	}
	want := outcome.Delta{Scanned: 2, Remediated: 2}
	if d != want {
		t.Errorf("delta = %+v, want %+v", d, want)
	}
}

func TestProcess_BoundedWidth(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	action := ActionFunc(func(context.Context, keyspace.BucketID, keyspace.KeyRecord) error {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})

	keys := make([]string, 50)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%02d", i)
	}
	p := &Processor{Action: action, Width: 3}
	d := p.Process(context.Background(), testBucket, records(keys...))

	if d.Remediated != 50 {
		t.Errorf("Remediated = %d, want 50", d.Remediated)
	}
	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestReport_OneIncrementPerCategory(t *testing.T) {
	store := counters.NewMemoryStore()
	p := &Processor{Counters: store}

	d := outcome.Delta{Scanned: 5, Remediated: 4, Throttled: 1}
	if err := p.Report(context.Background(), testBucket, d); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	calls := store.Calls()
	if len(calls) != 3 {
		t.Fatalf("Report() made %d increments, want 3: %+v", len(calls), calls)
	}
	if got := store.Get(testBucket, outcome.CategoryThrottled); got != 1 {
		t.Errorf("throttled = %d, want 1", got)
	}
}
