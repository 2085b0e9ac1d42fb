package keyspace

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// DefaultPageSize is the page size MemLister uses when a request sets none.
const DefaultPageSize = 1000

// MemLister is an in-memory ListingClient with ListObjectsV2 semantics:
// keys are returned in lexical order, common prefixes and keys both count
// towards the page size, and a continuation resumes after the last entry
// returned. It backs tests and dry runs.
type MemLister struct {
	mu       sync.Mutex
	keys     []string
	versions map[string][]string
	errs     map[string]error
	calls    []ListRequest
}

// NewMemLister returns a lister holding keys.
func NewMemLister(keys ...string) *MemLister {
	m := &MemLister{versions: make(map[string][]string), errs: make(map[string]error)}
	m.Put(keys...)
	return m
}

// Put adds keys.
func (m *MemLister) Put(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, keys...)
	slices.Sort(m.keys)
	m.keys = slices.Compact(m.keys)
}

// PutVersions records the version ids of key, newest first.
func (m *MemLister) PutVersions(key string, versionIDs ...string) {
	m.Put(key)
	m.mu.Lock()
	m.versions[key] = versionIDs
	m.mu.Unlock()
}

// FailPrefix makes every listing at exactly prefix return err.
func (m *MemLister) FailPrefix(prefix string, err error) {
	m.mu.Lock()
	m.errs[prefix] = err
	m.mu.Unlock()
}

// Calls returns the requests served so far.
func (m *MemLister) Calls() []ListRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// List implements ListingClient.
func (m *MemLister) List(_ context.Context, _ BucketID, req ListRequest) (*ListingPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if err, ok := m.errs[req.Prefix]; ok {
		return nil, err
	}

	limit := req.MaxKeys
	if limit <= 0 {
		limit = DefaultPageSize
	}

	marker := req.Continuation.Token
	if req.Versioned {
		marker = req.Continuation.KeyMarker
	}
	after, afterPrefix := decodeMarker(marker)

	page := &ListingPage{}
	entries := 0
	lastPrefix := ""
	for _, key := range m.keys {
		if !strings.HasPrefix(key, req.Prefix) {
			continue
		}
		if after != "" {
			if key < after || (afterPrefix && strings.HasPrefix(key, after)) {
				continue
			}
			if key == after && (!req.Versioned || req.Continuation.VersionIDMarker == "") {
				continue
			}
		}

		if req.Delimiter != "" {
			rest := key[len(req.Prefix):]
			if i := strings.Index(rest, req.Delimiter); i >= 0 {
				cp := req.Prefix + rest[:i+len(req.Delimiter)]
				if cp == lastPrefix {
					continue
				}
				if entries == limit {
					page.Next = m.next(req, lastEntry(page, lastPrefix))
					return page, nil
				}
				page.CommonPrefixes = append(page.CommonPrefixes, cp)
				lastPrefix = cp
				entries++
				continue
			}
		}

		records := m.records(key, req)
		if req.Versioned && key == after {
			records = skipThroughVersion(records, req.Continuation.VersionIDMarker)
		}
		for _, rec := range records {
			if entries == limit {
				page.Next = m.next(req, lastEntry(page, lastPrefix))
				return page, nil
			}
			page.Keys = append(page.Keys, rec)
			entries++
		}
	}
	return page, nil
}

func (m *MemLister) records(key string, req ListRequest) []KeyRecord {
	if !req.Versioned {
		return []KeyRecord{{Key: key}}
	}
	ids := m.versions[key]
	if len(ids) == 0 {
		ids = []string{"null"}
	}
	out := make([]KeyRecord, len(ids))
	for i, id := range ids {
		latest := i == 0
		out[i] = KeyRecord{Key: key, VersionID: &id, IsLatest: &latest}
	}
	return out
}

func skipThroughVersion(records []KeyRecord, versionID string) []KeyRecord {
	for i, rec := range records {
		if rec.VersionID != nil && *rec.VersionID == versionID {
			return records[i+1:]
		}
	}
	return records
}

type entry struct {
	name    string
	version string
	prefix  bool
}

// lastEntry returns the lexically last key or common prefix on the page.
func lastEntry(page *ListingPage, lastPrefix string) entry {
	var e entry
	if n := len(page.Keys); n > 0 {
		rec := page.Keys[n-1]
		e.name = rec.Key
		if rec.VersionID != nil {
			e.version = *rec.VersionID
		}
	}
	if lastPrefix > e.name {
		e = entry{name: lastPrefix, prefix: true}
	}
	return e
}

func (m *MemLister) next(req ListRequest, last entry) Continuation {
	marker := "k" + last.name
	if last.prefix {
		marker = "p" + last.name
	}
	if req.Versioned {
		return Continuation{KeyMarker: marker, VersionIDMarker: last.version}
	}
	return Continuation{Token: marker}
}

// decodeMarker splits a MemLister continuation marker into the entry name
// and whether that entry was a common prefix.
func decodeMarker(marker string) (string, bool) {
	if marker == "" {
		return "", false
	}
	return marker[1:], marker[0] == 'p'
}
