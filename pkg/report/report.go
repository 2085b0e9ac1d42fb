// Package report exports counter snapshots: a parquet file for analysis
// and a console table for operators.
package report

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/fileutil"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
	"github.com/parquet-go/parquet-go"
)

// WriteParquet writes rows as one zstd-compressed parquet file.
func WriteParquet(w io.Writer, rows []counters.Row) error {
	pw := parquet.NewGenericWriter[counters.Row](w, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write %d counter rows: %w", len(rows), err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// WriteParquetFile writes rows to path through a temporary file, so a
// failed export never leaves a truncated report behind.
func WriteParquetFile(path string, rows []counters.Row) error {
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		return WriteParquet(w, rows)
	})
}

// ReadParquet reads back a file written by WriteParquet.
func ReadParquet(r io.ReaderAt, size int64) ([]counters.Row, error) {
	rows, err := parquet.Read[counters.Row](r, size)
	if err != nil {
		return nil, fmt.Errorf("read counter rows: %w", err)
	}
	return rows, nil
}

// BucketSummary is the folded view of one bucket's counters.
type BucketSummary struct {
	Bucket         keyspace.BucketID
	Outcomes       outcome.Delta
	PartitionCalls int64
	ListingDenied  int64
	ListingErrors  int64
}

// Summary groups a snapshot by bucket. Global holds the members of each
// global category, sorted.
type Summary struct {
	Buckets []BucketSummary
	Global  map[string][]string
}

// Summarize folds rows into per-bucket summaries ordered by bucket id.
func Summarize(rows []counters.Row) Summary {
	s := Summary{Global: make(map[string][]string)}
	index := make(map[keyspace.BucketID]int)

	for _, r := range rows {
		if r.Global() {
			s.Global[r.Category] = append(s.Global[r.Category], r.Member)
			continue
		}
		id := keyspace.BucketID{Account: r.Account, Bucket: r.Bucket}
		i, ok := index[id]
		if !ok {
			i = len(s.Buckets)
			index[id] = i
			s.Buckets = append(s.Buckets, BucketSummary{Bucket: id})
		}
		b := &s.Buckets[i]
		switch r.Category {
		case outcome.CategoryPartitionCalls:
			b.PartitionCalls += r.Count
		case outcome.CategoryListingDenied:
			b.ListingDenied += r.Count
		case outcome.CategoryListingErrors:
			b.ListingErrors += r.Count
		default:
			b.Outcomes.Apply(r.Category, r.Count)
		}
	}

	slices.SortFunc(s.Buckets, func(a, b BucketSummary) int {
		return compareBuckets(a.Bucket, b.Bucket)
	})
	for _, members := range s.Global {
		slices.Sort(members)
	}
	return s
}

func compareBuckets(a, b keyspace.BucketID) int {
	return cmp.Or(cmp.Compare(a.Account, b.Account), cmp.Compare(a.Bucket, b.Bucket))
}

// Totals sums the outcome counts of every bucket.
func (s Summary) Totals() outcome.Delta {
	var d outcome.Delta
	for _, b := range s.Buckets {
		d.Merge(b.Outcomes)
	}
	return d
}
