package partition

import (
	"context"
	"fmt"
	"strings"

	"github.com/eunmann/s3crawl/internal/logctx"
	"github.com/eunmann/s3crawl/pkg/charset"
	"github.com/eunmann/s3crawl/pkg/keyspace"
)

const (
	// PageLimit is the number of entries one listing call returns at most.
	PageLimit = 1000
	// MaxCommonPrefixes is the largest common-prefix count a root probe may
	// report for common-prefix partitioning to be chosen.
	MaxCommonPrefixes = 999
	// CommonPrefixDepth is the delimiter depth limit for a bucket-wide scan.
	CommonPrefixDepth = 4
	// SeededCommonPrefixDepth is the depth limit when selecting under an
	// existing prefix.
	SeededCommonPrefixDepth = 2
	// DefaultMaxNGramDepth caps the n-gram length.
	DefaultMaxNGramDepth = 4
)

// DefaultDelimiters are probed in order.
var DefaultDelimiters = []string{"/", "-"}

// Selector probes a bucket to choose its partition strategy.
type Selector struct {
	Lister        keyspace.ListingClient
	Delimiters    []string
	MaxNGramDepth int
}

// NewSelector returns a Selector with the default delimiters and depth cap.
func NewSelector(lister keyspace.ListingClient) *Selector {
	return &Selector{
		Lister:        lister,
		Delimiters:    DefaultDelimiters,
		MaxNGramDepth: DefaultMaxNGramDepth,
	}
}

// Select chooses the strategy for scanning bucket under seed (empty for the
// whole bucket). Listing errors are wrapped with %w so outcome.Classify
// still sees the store error; an undetectable charset returns an error
// wrapping charset.ErrAmbiguousCharset.
func (s *Selector) Select(ctx context.Context, bucket keyspace.BucketID, info keyspace.BucketInfo, seed string) (Strategy, error) {
	log := logctx.FromContext(ctx)

	var sample []string
	flat := true
	for _, delim := range s.delimiters() {
		page, err := s.Lister.List(ctx, bucket, keyspace.ListRequest{
			Prefix:    seed,
			Delimiter: delim,
		})
		if err != nil {
			return Strategy{}, fmt.Errorf("probe %s delimiter %q: %w", bucket, delim, err)
		}

		nPrefixes, nKeys := len(page.CommonPrefixes), len(page.Keys)
		log.Debug().
			Str("prefix", seed).
			Str("delimiter", delim).
			Int("common_prefixes", nPrefixes).
			Int("keys", nKeys).
			Bool("truncated", page.Truncated()).
			Msg("strategy probe")

		if nPrefixes >= 1 && nPrefixes <= MaxCommonPrefixes && nKeys < PageLimit {
			depth := CommonPrefixDepth
			if seed != "" {
				depth = SeededCommonPrefixDepth
			}
			return CommonPrefix(delim, depth, seed), nil
		}

		if nPrefixes > 0 || page.Truncated() {
			flat = false
		}
		for _, k := range page.Keys {
			sample = append(sample, strings.TrimPrefix(k.Key, seed))
		}
		for _, p := range page.CommonPrefixes {
			sample = append(sample, strings.TrimPrefix(p, seed))
		}
	}

	if flat {
		return Flat(seed), nil
	}

	alphabet, err := charset.Detect(sample)
	if err != nil {
		return Strategy{}, fmt.Errorf("detect charset for %s: %w", bucket, err)
	}
	depth := NGramDepth(alphabet.Size(), info.EstimatedKeyCount, s.maxDepth())
	return NGram(alphabet, depth, seed), nil
}

// NGramDepth returns the smallest d >= 1 with size^d * PageLimit greater
// than estimated/PageLimit, capped at maxDepth.
func NGramDepth(size int, estimated int64, maxDepth int) int {
	if size < 1 {
		return 1
	}
	target := estimated / PageLimit
	cover := int64(size) * PageLimit
	depth := 1
	for cover <= target && depth < maxDepth {
		cover *= int64(size)
		depth++
	}
	return depth
}

func (s *Selector) delimiters() []string {
	if len(s.Delimiters) == 0 {
		return DefaultDelimiters
	}
	return s.Delimiters
}

func (s *Selector) maxDepth() int {
	if s.MaxNGramDepth < 1 {
		return DefaultMaxNGramDepth
	}
	return s.MaxNGramDepth
}
