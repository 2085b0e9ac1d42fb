package report

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
)

func sampleRows() []counters.Row {
	return []counters.Row{
		{Account: "prod", Bucket: "logs", Category: outcome.CategoryScanned, Count: 10},
		{Account: "prod", Bucket: "logs", Category: outcome.CategoryRemediated, Count: 8},
		{Account: "prod", Bucket: "logs", Category: outcome.CategoryThrottled, Count: 2},
		{Account: "prod", Bucket: "logs", Category: outcome.CategoryPartitionCalls, Count: 4},
		{Account: "dev", Bucket: "tmp", Category: outcome.CategoryScanned, Count: 3},
		{Account: "dev", Bucket: "tmp", Category: outcome.CategoryMissing, Count: 3},
		{Account: "dev", Bucket: "tmp", Category: outcome.CategoryListingDenied, Count: 1},
		{Category: outcome.GlobalBucketsDenied, Member: "prod/secret", Count: 1},
		{Category: outcome.GlobalBucketsDenied, Member: "dev/locked", Count: 1},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRows())

	if len(s.Buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(s.Buckets))
	}
	if s.Buckets[0].Bucket != (keyspace.BucketID{Account: "dev", Bucket: "tmp"}) {
		t.Errorf("first bucket = %v, want dev/tmp", s.Buckets[0].Bucket)
	}
	logs := s.Buckets[1]
	if logs.Outcomes.Scanned != 10 || logs.Outcomes.Remediated != 8 || logs.Outcomes.Throttled != 2 {
		t.Errorf("logs outcomes = %+v", logs.Outcomes)
	}
	if logs.PartitionCalls != 4 {
		t.Errorf("logs partition calls = %d, want 4", logs.PartitionCalls)
	}
	if s.Buckets[0].ListingDenied != 1 {
		t.Errorf("tmp listing denied = %d, want 1", s.Buckets[0].ListingDenied)
	}
	if got := s.Global[outcome.GlobalBucketsDenied]; !slices.Equal(got, []string{"dev/locked", "prod/secret"}) {
		t.Errorf("buckets-denied = %v", got)
	}
	if tot := s.Totals(); tot.Scanned != 13 || tot.Missing != 3 {
		t.Errorf("Totals() = %+v", tot)
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTable(&buf, Summarize(sampleRows()), false); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"prod/logs", "dev/tmp", "total", "80.0%", "buckets-denied (2): dev/locked, prod/secret"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestParquetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "counters.parquet")
	rows := sampleRows()
	if err := WriteParquetFile(path, rows); err != nil {
		t.Fatalf("WriteParquetFile() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadParquet(f, info.Size())
	if err != nil {
		t.Fatalf("ReadParquet() error = %v", err)
	}
	if !slices.Equal(got, rows) {
		t.Errorf("read back %v, want %v", got, rows)
	}
	if left, _ := filepath.Glob(path + ".*.tmp"); len(left) != 0 {
		t.Errorf("temporary files left behind: %v", left)
	}
}
