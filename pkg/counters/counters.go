// Package counters records additive outcome counts per bucket and
// cross-bucket diagnostic sets.
//
// Every write is an increment, so concurrent work units for the same
// bucket need no coordination and the final tally does not depend on the
// order increments arrive in.
package counters

import (
	"cmp"
	"context"
	"slices"

	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
)

// Store receives counter increments.
type Store interface {
	// Increment adds n to category for bucket.
	Increment(ctx context.Context, bucket keyspace.BucketID, category string, n int64) error
	// IncrementGlobal adds n to member within a global category, e.g. the
	// bucket id within "buckets-denied".
	IncrementGlobal(ctx context.Context, category, member string, n int64) error
}

// Row is one counter value. Global rows have an empty Account and Bucket
// and a non-empty Member.
type Row struct {
	Account  string `parquet:"account"`
	Bucket   string `parquet:"bucket"`
	Category string `parquet:"category"`
	Member   string `parquet:"member"`
	Count    int64  `parquet:"count"`
}

// Global reports whether r belongs to a global category.
func (r Row) Global() bool {
	return r.Member != ""
}

// Snapshotter reads back every counter a store holds.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]Row, error)
}

// SortRows orders rows by bucket, then category, then member.
func SortRows(rows []Row) {
	slices.SortFunc(rows, func(a, b Row) int {
		return cmp.Or(
			cmp.Compare(a.Account, b.Account),
			cmp.Compare(a.Bucket, b.Bucket),
			cmp.Compare(a.Category, b.Category),
			cmp.Compare(a.Member, b.Member),
		)
	})
}

// BucketDelta folds the outcome rows for bucket into a Delta. Diagnostic
// categories are skipped.
func BucketDelta(rows []Row, bucket keyspace.BucketID) outcome.Delta {
	var d outcome.Delta
	for _, r := range rows {
		if r.Global() || r.Account != bucket.Account || r.Bucket != bucket.Bucket {
			continue
		}
		d.Apply(r.Category, r.Count)
	}
	return d
}
