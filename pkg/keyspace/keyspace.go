// Package keyspace defines the addressing and listing types shared by the
// crawl scheduler and the object-store adapters.
package keyspace

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidBucketID indicates a bucket id string that is not "account/bucket".
var ErrInvalidBucketID = errors.New("invalid bucket id")

// BucketID addresses one bucket of one account. It is the key for all
// counters and queue messages.
type BucketID struct {
	Account string `json:"account"`
	Bucket  string `json:"bucket"`
}

// String returns "account/bucket".
func (b BucketID) String() string {
	return b.Account + "/" + b.Bucket
}

// ParseBucketID parses the form produced by BucketID.String.
func ParseBucketID(s string) (BucketID, error) {
	account, bucket, ok := strings.Cut(s, "/")
	if !ok || account == "" || bucket == "" {
		return BucketID{}, ErrInvalidBucketID
	}
	return BucketID{Account: account, Bucket: bucket}, nil
}

// BucketInfo holds the facts gathered about a bucket before partitioning.
// It is produced once per scan attempt and may be stale.
type BucketInfo struct {
	Region            string `json:"region,omitempty"`
	Versioned         bool   `json:"versioned,omitempty"`
	EstimatedKeyCount int64  `json:"estimated_key_count,omitempty"`
}

// KeyRecord is one listed object. VersionID and IsLatest are only set for
// versioned buckets.
type KeyRecord struct {
	Key       string  `json:"k"`
	VersionID *string `json:"v,omitempty"`
	IsLatest  *bool   `json:"l,omitempty"`
}

// Continuation resumes a listing. ListObjectsV2 uses Token; version
// listings use KeyMarker and VersionIDMarker. The zero value means there
// are no further pages.
type Continuation struct {
	Token           string `json:"token,omitempty"`
	KeyMarker       string `json:"key_marker,omitempty"`
	VersionIDMarker string `json:"version_id_marker,omitempty"`
}

// IsZero reports whether c carries no continuation.
func (c Continuation) IsZero() bool {
	return c == Continuation{}
}

// ListRequest describes one listing call.
type ListRequest struct {
	Prefix       string
	Delimiter    string
	Continuation Continuation
	Versioned    bool
	// MaxKeys caps the page size; zero uses the store default.
	MaxKeys int
}

// ListingPage is one page of a listing, already stripped to KeyRecords.
type ListingPage struct {
	Keys           []KeyRecord
	CommonPrefixes []string
	Next           Continuation
}

// Truncated reports whether more results exist after this page.
func (p *ListingPage) Truncated() bool {
	return !p.Next.IsZero()
}

// ListingClient issues listing calls against an object store.
type ListingClient interface {
	List(ctx context.Context, bucket BucketID, req ListRequest) (*ListingPage, error)
}

// BucketProbe gathers BucketInfo for one bucket.
type BucketProbe interface {
	Probe(ctx context.Context, bucket BucketID) (BucketInfo, error)
}

// StaticProbe reports the same BucketInfo for every bucket.
type StaticProbe BucketInfo

// Probe implements BucketProbe.
func (s StaticProbe) Probe(context.Context, BucketID) (BucketInfo, error) {
	return BucketInfo(s), nil
}

// BucketDiscoverer enumerates the buckets of one account.
type BucketDiscoverer interface {
	Buckets(ctx context.Context, account string) ([]BucketID, error)
}
