package counters

import (
	"context"
	"slices"
	"sync"

	"github.com/eunmann/s3crawl/pkg/keyspace"
)

// Call records one increment received by a MemoryStore.
type Call struct {
	Bucket   keyspace.BucketID
	Category string
	Member   string
	N        int64
	Global   bool
}

type bucketKey struct {
	bucket   keyspace.BucketID
	category string
}

type globalKey struct {
	category string
	member   string
}

// MemoryStore keeps counters in process memory. It backs local runs and
// tests, and keeps a log of every call it received.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[bucketKey]int64
	global  map[globalKey]int64
	calls   []Call
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[bucketKey]int64),
		global:  make(map[globalKey]int64),
	}
}

// Increment implements Store.
func (m *MemoryStore) Increment(_ context.Context, bucket keyspace.BucketID, category string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucketKey{bucket, category}] += n
	m.calls = append(m.calls, Call{Bucket: bucket, Category: category, N: n})
	return nil
}

// IncrementGlobal implements Store.
func (m *MemoryStore) IncrementGlobal(_ context.Context, category, member string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global[globalKey{category, member}] += n
	m.calls = append(m.calls, Call{Category: category, Member: member, N: n, Global: true})
	return nil
}

// Get returns the count of category for bucket.
func (m *MemoryStore) Get(bucket keyspace.BucketID, category string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buckets[bucketKey{bucket, category}]
}

// GetGlobal returns the count of member within a global category.
func (m *MemoryStore) GetGlobal(category, member string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global[globalKey{category, member}]
}

// Calls returns every increment received so far, in arrival order.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Snapshot implements Snapshotter.
func (m *MemoryStore) Snapshot(_ context.Context) ([]Row, error) {
	m.mu.Lock()
	rows := make([]Row, 0, len(m.buckets)+len(m.global))
	for k, n := range m.buckets {
		rows = append(rows, Row{Account: k.bucket.Account, Bucket: k.bucket.Bucket, Category: k.category, Count: n})
	}
	for k, n := range m.global {
		rows = append(rows, Row{Category: k.category, Member: k.member, Count: n})
	}
	m.mu.Unlock()

	SortRows(rows)
	return rows, nil
}
