// Package jobs defines the units of work exchanged over the job queue, the
// wire codec for them, and the queue adapters.
package jobs

import (
	"fmt"

	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/partition"
)

// Kind tags a payload variant.
type Kind string

const (
	KindAccountScan Kind = "account-scan"
	KindBucketScan  Kind = "bucket-scan"
	KindPartition   Kind = "partition"
	KindPageScan    Kind = "page-scan"
	KindKeyBatch    Kind = "key-batch"
)

// Payload is one of AccountScan, BucketScan, Partition, PageScan or
// KeyBatch. The set is closed.
type Payload interface {
	Kind() Kind
	payload()
}

// AccountScan discovers the buckets of one account and enqueues a
// BucketScan for each.
type AccountScan struct {
	Account string `json:"account"`
}

// BucketScan probes one bucket, selects its strategy and partitions it.
// Prefix optionally restricts the scan to part of the keyspace.
type BucketScan struct {
	Bucket keyspace.BucketID `json:"bucket"`
	Prefix string            `json:"prefix,omitempty"`
}

// Partition runs the partition scheduler over Frontier. Calls is the
// number of partition calls already made in the lineage of this job.
type Partition struct {
	Bucket   keyspace.BucketID   `json:"bucket"`
	Info     keyspace.BucketInfo `json:"info"`
	Strategy partition.Strategy  `json:"strategy"`
	Frontier []string            `json:"frontier"`
	Calls    int                 `json:"calls,omitempty"`
}

// PageScan pages one prefix to completion. With ExactKey set only records
// whose key equals Prefix are kept. Strategy and Calls are carried so that
// common prefixes seen on delimited pages can be handed back to a
// Partition job.
type PageScan struct {
	Bucket       keyspace.BucketID     `json:"bucket"`
	Info         keyspace.BucketInfo   `json:"info"`
	Prefix       string                `json:"prefix"`
	Delimiter    string                `json:"delimiter,omitempty"`
	Continuation keyspace.Continuation `json:"continuation,omitzero"`
	ExactKey     bool                  `json:"exact_key,omitempty"`
	Strategy     partition.Strategy    `json:"strategy"`
	Calls        int                   `json:"calls,omitempty"`
}

// KeyBatch is a bounded set of keys for the remediation action.
type KeyBatch struct {
	Bucket keyspace.BucketID    `json:"bucket"`
	Keys   []keyspace.KeyRecord `json:"keys"`
}

func (AccountScan) Kind() Kind { return KindAccountScan }
func (BucketScan) Kind() Kind  { return KindBucketScan }
func (Partition) Kind() Kind   { return KindPartition }
func (PageScan) Kind() Kind    { return KindPageScan }
func (KeyBatch) Kind() Kind    { return KindKeyBatch }

func (AccountScan) payload() {}
func (BucketScan) payload()  {}
func (Partition) payload()   {}
func (PageScan) payload()    {}
func (KeyBatch) payload()    {}

// newPayload returns a pointer to the zero payload for kind, for decoding.
func newPayload(kind Kind) (any, error) {
	switch kind {
	case KindAccountScan:
		return &AccountScan{}, nil
	case KindBucketScan:
		return &BucketScan{}, nil
	case KindPartition:
		return &Partition{}, nil
	case KindPageScan:
		return &PageScan{}, nil
	case KindKeyBatch:
		return &KeyBatch{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
}

// deref turns the decoded pointer back into a value payload.
func deref(v any) Payload {
	switch p := v.(type) {
	case *AccountScan:
		return *p
	case *BucketScan:
		return *p
	case *Partition:
		return *p
	case *PageScan:
		return *p
	case *KeyBatch:
		return *p
	default:
		return nil
	}
}
