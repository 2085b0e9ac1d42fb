package counters

import (
	"context"
	"errors"
	"testing"

	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bucketA = keyspace.BucketID{Account: "prod", Bucket: "a"}
	bucketB = keyspace.BucketID{Account: "prod", Bucket: "b"}
)

func apply(t *testing.T, s Store, bucket keyspace.BucketID, d outcome.Delta) {
	t.Helper()
	for _, c := range d.Categories() {
		if err := s.Increment(context.Background(), bucket, c.Category, c.Count); err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
	}
}

func TestMemoryStore_Additivity(t *testing.T) {
	first := outcome.Delta{Scanned: 5, Remediated: 3, Denied: 2}
	second := outcome.Delta{Scanned: 4, Remediated: 1, Throttled: 1, Unknown: 2}

	split := NewMemoryStore()
	apply(t, split, bucketA, second)
	apply(t, split, bucketA, first)

	union := first
	union.Merge(second)
	whole := NewMemoryStore()
	apply(t, whole, bucketA, union)

	splitRows, _ := split.Snapshot(context.Background())
	wholeRows, _ := whole.Snapshot(context.Background())
	if got, want := BucketDelta(splitRows, bucketA), BucketDelta(wholeRows, bucketA); got != want {
		t.Errorf("split runs = %+v, single run = %+v", got, want)
	}
	if got := split.Get(bucketA, outcome.CategoryScanned); got != 9 {
		t.Errorf("scanned = %d, want 9", got)
	}
}

func TestMemoryStore_Snapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Increment(ctx, bucketB, outcome.CategoryScanned, 2)
	_ = s.Increment(ctx, bucketA, outcome.CategoryScanned, 1)
	_ = s.Increment(ctx, bucketA, outcome.CategoryPartitionCalls, 4)
	_ = s.IncrementGlobal(ctx, outcome.GlobalBucketsDenied, bucketB.String(), 1)
	_ = s.IncrementGlobal(ctx, outcome.GlobalBucketsDenied, bucketB.String(), 1)

	rows, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	want := []Row{
		{Category: outcome.GlobalBucketsDenied, Member: "prod/b", Count: 2},
		{Account: "prod", Bucket: "a", Category: outcome.CategoryPartitionCalls, Count: 4},
		{Account: "prod", Bucket: "a", Category: outcome.CategoryScanned, Count: 1},
		{Account: "prod", Bucket: "b", Category: outcome.CategoryScanned, Count: 2},
	}
	if len(rows) != len(want) {
		t.Fatalf("Snapshot() = %+v, want %+v", rows, want)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
	if !rows[0].Global() || rows[1].Global() {
		t.Error("Global() misreports row scope")
	}
	if n := len(s.Calls()); n != 5 {
		t.Errorf("Calls() = %d, want 5", n)
	}
}

type failingStore struct{}

func (failingStore) Increment(context.Context, keyspace.BucketID, string, int64) error {
	return errors.New("down")
}

func (failingStore) IncrementGlobal(context.Context, string, string, int64) error {
	return errors.New("down")
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestInstrumented(t *testing.T) {
	reg := prometheus.NewRegistry()
	mem := NewMemoryStore()
	s := NewInstrumented(mem, reg, "test")
	ctx := context.Background()

	_ = s.Increment(ctx, bucketA, outcome.CategoryRemediated, 3)
	_ = s.Increment(ctx, bucketB, outcome.CategoryRemediated, 2)
	_ = s.IncrementGlobal(ctx, outcome.GlobalBucketsDenied, bucketA.String(), 1)

	if got := counterValue(t, reg, "test_outcomes_total", outcome.CategoryRemediated); got != 5 {
		t.Errorf("outcomes_total{remediated} = %v, want 5", got)
	}
	if got := counterValue(t, reg, "test_global_total", outcome.GlobalBucketsDenied); got != 1 {
		t.Errorf("global_total{buckets-denied} = %v, want 1", got)
	}
	if got := mem.Get(bucketA, outcome.CategoryRemediated); got != 3 {
		t.Errorf("wrapped store got %d, want 3", got)
	}

	failing := NewInstrumented(failingStore{}, prometheus.NewRegistry(), "")
	if err := failing.Increment(ctx, bucketA, outcome.CategoryScanned, 1); err == nil {
		t.Error("expected wrapped store error")
	}
}

func TestRedisStoreKeys(t *testing.T) {
	s := NewRedisStore(nil, "")
	if got := s.bucketKey(bucketA); got != "s3crawl:bucket:prod/a" {
		t.Errorf("bucketKey() = %q", got)
	}
	if got := s.globalKey(outcome.GlobalBucketsDenied); got != "s3crawl:global:buckets-denied" {
		t.Errorf("globalKey() = %q", got)
	}
}
