// Package blobstore lists and checks buckets through gocloud.dev/blob, so
// the crawler can walk GCS, local directories and in-memory buckets with
// the same scheduler it uses for S3.
package blobstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"github.com/eunmann/s3crawl/pkg/crawl"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
	"gocloud.dev/gcerrors"
)

// DefaultPageSize is used when a listing request does not cap its size.
const DefaultPageSize = 1000

// ErrVersionedListing is returned for versioned listing requests; the
// portable API has no notion of object versions.
var ErrVersionedListing = errors.New("versioned listing not supported")

// Store serves the buckets of one account. Bucket URLs come from a
// template in which "{bucket}" is replaced by the bucket name.
type Store struct {
	account  string
	template string
	buckets  []string

	mu   sync.Mutex
	open map[string]*blob.Bucket
}

// New returns a Store for account. buckets is the fixed list returned by
// discovery.
func New(account, urlTemplate string, buckets []string) *Store {
	return &Store{
		account:  account,
		template: urlTemplate,
		buckets:  buckets,
		open:     make(map[string]*blob.Bucket),
	}
}

// Attach registers an already opened bucket. Used for memblob buckets.
func (s *Store) Attach(name string, b *blob.Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[name] = b
	if !slices.Contains(s.buckets, name) {
		s.buckets = append(s.buckets, name)
	}
}

// Session implements crawl.SessionProvider. Buckets stay open across
// sessions.
func (s *Store) Session(_ context.Context, account string) (*crawl.Session, error) {
	if account != s.account {
		return nil, fmt.Errorf("blob store serves %s, not %s", s.account, account)
	}
	return &crawl.Session{Lister: s, Probe: s, Action: s, Discover: s}, nil
}

// Close closes every bucket opened by the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, b := range s.open {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %s: %w", name, err))
		}
		delete(s.open, name)
	}
	return errors.Join(errs...)
}

func (s *Store) bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.open[name]; ok {
		return b, nil
	}
	url := strings.ReplaceAll(s.template, "{bucket}", name)
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, mapError(err))
	}
	s.open[name] = b
	return b, nil
}

// List implements keyspace.ListingClient. Continuation tokens are the
// driver's page tokens, base64 encoded.
func (s *Store) List(ctx context.Context, bucket keyspace.BucketID, req keyspace.ListRequest) (*keyspace.ListingPage, error) {
	if req.Versioned {
		return nil, ErrVersionedListing
	}
	b, err := s.bucket(ctx, bucket.Bucket)
	if err != nil {
		return nil, err
	}

	token := blob.FirstPageToken
	if req.Continuation.Token != "" {
		token, err = base64.RawURLEncoding.DecodeString(req.Continuation.Token)
		if err != nil {
			return nil, fmt.Errorf("decode continuation: %w", err)
		}
	}
	size := req.MaxKeys
	if size <= 0 {
		size = DefaultPageSize
	}

	objs, next, err := b.ListPage(ctx, token, size, &blob.ListOptions{
		Prefix:    req.Prefix,
		Delimiter: req.Delimiter,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket.Bucket, req.Prefix, mapError(err))
	}

	page := &keyspace.ListingPage{}
	for _, obj := range objs {
		if obj.IsDir {
			page.CommonPrefixes = append(page.CommonPrefixes, obj.Key)
			continue
		}
		page.Keys = append(page.Keys, keyspace.KeyRecord{Key: obj.Key})
	}
	if len(next) > 0 {
		page.Next.Token = base64.RawURLEncoding.EncodeToString(next)
	}
	return page, nil
}

// Probe implements keyspace.BucketProbe. Portable buckets report no
// versioning and no size estimate.
func (s *Store) Probe(ctx context.Context, bucket keyspace.BucketID) (keyspace.BucketInfo, error) {
	b, err := s.bucket(ctx, bucket.Bucket)
	if err != nil {
		return keyspace.BucketInfo{}, err
	}
	ok, err := b.IsAccessible(ctx)
	if err != nil {
		return keyspace.BucketInfo{}, fmt.Errorf("probe %s: %w", bucket.Bucket, mapError(err))
	}
	if !ok {
		return keyspace.BucketInfo{}, fmt.Errorf("probe %s: %w", bucket.Bucket, outcome.ErrNotFound)
	}
	return keyspace.BucketInfo{}, nil
}

// Apply implements batch.Action by reading the object's attributes.
func (s *Store) Apply(ctx context.Context, bucket keyspace.BucketID, rec keyspace.KeyRecord) error {
	b, err := s.bucket(ctx, bucket.Bucket)
	if err != nil {
		return err
	}
	if _, err := b.Attributes(ctx, rec.Key); err != nil {
		return fmt.Errorf("attributes of %s/%s: %w", bucket.Bucket, rec.Key, mapError(err))
	}
	return nil
}

// Buckets implements keyspace.BucketDiscoverer from the configured list.
func (s *Store) Buckets(_ context.Context, account string) ([]keyspace.BucketID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]keyspace.BucketID, 0, len(s.buckets))
	for _, name := range s.buckets {
		ids = append(ids, keyspace.BucketID{Account: account, Bucket: name})
	}
	return ids, nil
}

// mapError attaches the outcome sentinel matching the portable error code.
func mapError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", outcome.ErrNotFound, err)
	}
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return fmt.Errorf("%w: %w", outcome.ErrNotFound, err)
	case gcerrors.PermissionDenied:
		return fmt.Errorf("%w: %w", outcome.ErrDenied, err)
	case gcerrors.ResourceExhausted:
		return fmt.Errorf("%w: %w", outcome.ErrThrottled, err)
	}
	return err
}
