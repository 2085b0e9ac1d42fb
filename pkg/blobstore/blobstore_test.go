package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/crawl"
	"github.com/eunmann/s3crawl/pkg/jobs"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
	"gocloud.dev/blob/memblob"
)

var media = keyspace.BucketID{Account: "local", Bucket: "media"}

func newStore(t *testing.T, keys ...string) *Store {
	t.Helper()
	ctx := context.Background()
	b := memblob.OpenBucket(nil)
	for _, k := range keys {
		if err := b.WriteAll(ctx, k, []byte(k), nil); err != nil {
			t.Fatalf("WriteAll(%q) error = %v", k, err)
		}
	}
	s := New("local", "mem://", nil)
	s.Attach(media.Bucket, b)
	t.Cleanup(func() { s.Close() })
	return s
}

func listAll(t *testing.T, s *Store, req keyspace.ListRequest) (keys, prefixes []string, pages int) {
	t.Helper()
	for {
		page, err := s.List(context.Background(), media, req)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		pages++
		for _, k := range page.Keys {
			keys = append(keys, k.Key)
		}
		prefixes = append(prefixes, page.CommonPrefixes...)
		if !page.Truncated() {
			return keys, prefixes, pages
		}
		req.Continuation = page.Next
	}
}

func TestList_Paged(t *testing.T) {
	want := []string{"a", "b", "c", "d", "e"}
	s := newStore(t, want...)

	keys, _, pages := listAll(t, s, keyspace.ListRequest{MaxKeys: 2})
	if !slices.Equal(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
}

func TestList_Delimited(t *testing.T) {
	s := newStore(t, "logs/1", "logs/2", "img/a", "top")

	keys, prefixes, _ := listAll(t, s, keyspace.ListRequest{Delimiter: "/"})
	if !slices.Equal(keys, []string{"top"}) {
		t.Errorf("keys = %v, want [top]", keys)
	}
	if want := []string{"img/", "logs/"}; !slices.Equal(prefixes, want) {
		t.Errorf("prefixes = %v, want %v", prefixes, want)
	}
}

func TestList_VersionedUnsupported(t *testing.T) {
	s := newStore(t)
	if _, err := s.List(context.Background(), media, keyspace.ListRequest{Versioned: true}); !errors.Is(err, ErrVersionedListing) {
		t.Errorf("List(versioned) error = %v, want ErrVersionedListing", err)
	}
}

func TestApply(t *testing.T) {
	s := newStore(t, "present")
	ctx := context.Background()

	if err := s.Apply(ctx, media, keyspace.KeyRecord{Key: "present"}); err != nil {
		t.Errorf("Apply(present) error = %v", err)
	}
	err := s.Apply(ctx, media, keyspace.KeyRecord{Key: "absent"})
	if got := outcome.Classify(err); got != outcome.Missing {
		t.Errorf("Apply(absent) classified %v, want missing (err %v)", got, err)
	}
}

func TestSession(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Session(ctx, "other"); err == nil {
		t.Error("Session(other) error = nil")
	}
	sess, err := s.Session(ctx, "local")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	ids, err := sess.Discover.Buckets(ctx, "local")
	if err != nil || !slices.Equal(ids, []keyspace.BucketID{media}) {
		t.Errorf("Buckets() = %v, %v", ids, err)
	}
	info, err := sess.Probe.Probe(ctx, media)
	if err != nil || info != (keyspace.BucketInfo{}) {
		t.Errorf("Probe() = %+v, %v", info, err)
	}
}

// TestCrawl walks an account end to end: discovery, strategy selection,
// partitioning and remediation of every key.
func TestCrawl(t *testing.T) {
	var keys []string
	for i := range 40 {
		keys = append(keys, fmt.Sprintf("dir%d/sub%d/obj%d", i%4, i%3, i))
	}
	s := newStore(t, keys...)

	q := jobs.NewMemoryQueue()
	store := counters.NewMemoryStore()
	w := &crawl.Worker{
		Sessions:   crawl.SessionRouter{"local": s},
		Dispatcher: q,
		Counters:   store,
		Options:    crawl.DefaultOptions().WithBatchThreshold(7).WithPageSize(5),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := q.Dispatch(ctx, jobs.AccountScan{Account: "local"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	c := &jobs.Consumer{Handler: w}
	if err := c.Drain(ctx, q); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if st := c.Stats(); st.Failed != 0 {
		t.Fatalf("%d of %d jobs failed", st.Failed, st.Handled)
	}

	if got := store.Get(media, outcome.CategoryScanned); got != int64(len(keys)) {
		t.Errorf("scanned = %d, want %d", got, len(keys))
	}
	if got := store.Get(media, outcome.CategoryRemediated); got != int64(len(keys)) {
		t.Errorf("remediated = %d, want %d", got, len(keys))
	}
}

func TestOpenFromTemplate(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "media", "x"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "media", "x", "y"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New("local", "file://"+filepath.ToSlash(dir)+"/{bucket}", []string{"media"})
	t.Cleanup(func() { s.Close() })

	keys, _, _ := listAll(t, s, keyspace.ListRequest{})
	if !slices.Equal(keys, []string{"x/y"}) {
		t.Errorf("keys = %v, want [x/y]", keys)
	}
	if _, err := s.Probe(context.Background(), keyspace.BucketID{Account: "local", Bucket: "absent"}); err == nil {
		t.Error("Probe(absent) error = nil")
	}
}
