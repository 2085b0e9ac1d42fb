// Package partition decides how a bucket's keyspace is split into
// independently listable prefixes.
package partition

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/eunmann/s3crawl/pkg/charset"
)

// ErrInvalidStrategy indicates a strategy whose fields do not fit its kind.
var ErrInvalidStrategy = errors.New("invalid strategy")

// Kind tags the Strategy variant.
type Kind string

const (
	// KindFlat pages every prefix directly without further splitting.
	KindFlat Kind = "flat"
	// KindNGram partitions by every fixed-length prefix over an alphabet.
	KindNGram Kind = "ngram"
	// KindCommonPrefix partitions by the common prefixes a delimited
	// listing reports.
	KindCommonPrefix Kind = "common-prefix"
)

// Strategy is a closed tagged variant; Kind decides which fields apply.
// It holds no state beyond its fields, so a copy carried in a job payload
// behaves identically to the original.
type Strategy struct {
	Kind      Kind             `json:"kind"`
	Alphabet  charset.Alphabet `json:"alphabet,omitempty"`
	Delimiter string           `json:"delimiter,omitempty"`
	Depth     int              `json:"depth,omitempty"`
	// Base is the prefix the strategy was selected under.
	Base string `json:"base,omitempty"`
}

// Flat returns a strategy that pages base directly.
func Flat(base string) Strategy {
	return Strategy{Kind: KindFlat, Base: base}
}

// NGram returns an n-gram strategy over alphabet with the given depth.
func NGram(alphabet charset.Alphabet, depth int, base string) Strategy {
	return Strategy{Kind: KindNGram, Alphabet: alphabet, Depth: depth, Base: base}
}

// CommonPrefix returns a common-prefix strategy splitting on delimiter.
func CommonPrefix(delimiter string, depth int, base string) Strategy {
	return Strategy{Kind: KindCommonPrefix, Delimiter: delimiter, Depth: depth, Base: base}
}

// Validate checks that the fields fit the kind.
func (s Strategy) Validate() error {
	switch s.Kind {
	case KindFlat:
		return nil
	case KindNGram:
		if s.Alphabet.Size() == 0 || s.Depth < 1 {
			return fmt.Errorf("%w: ngram needs an alphabet and depth >= 1", ErrInvalidStrategy)
		}
		return nil
	case KindCommonPrefix:
		if s.Delimiter == "" || s.Depth < 1 {
			return fmt.Errorf("%w: common-prefix needs a delimiter and depth >= 1", ErrInvalidStrategy)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidStrategy, s.Kind)
	}
}

func (s Strategy) String() string {
	switch s.Kind {
	case KindNGram:
		return fmt.Sprintf("ngram(alphabet=%d,depth=%d,base=%q)", s.Alphabet.Size(), s.Depth, s.Base)
	case KindCommonPrefix:
		return fmt.Sprintf("common-prefix(delimiter=%q,depth=%d,base=%q)", s.Delimiter, s.Depth, s.Base)
	default:
		return fmt.Sprintf("%s(base=%q)", s.Kind, s.Base)
	}
}

// InitialFrontier turns a seed into the frontier a scheduler starts from.
// An n-gram strategy seeded with exactly its base expands to every
// permutation of length 1..Depth under the base, shuffled so no single
// shard of the store is hit first by every scan. A non-empty base is kept
// as an exact entry so an object named like the base itself is not
// skipped. Any other seed is returned unchanged.
func (s Strategy) InitialFrontier(seed []string) []string {
	if s.Kind != KindNGram || len(seed) != 1 || seed[0] != s.Base {
		return seed
	}
	frontier := Permutations(s.Alphabet, s.Depth, s.Base)
	if s.Base != "" {
		frontier = append(frontier, s.Base)
	}
	rand.Shuffle(len(frontier), func(i, j int) {
		frontier[i], frontier[j] = frontier[j], frontier[i]
	})
	return frontier
}

// Expand appends the common prefixes observed under parent to the frontier.
// Only the common-prefix variant discovers prefixes incrementally; prefixes
// that do not strictly extend parent are ignored so a misbehaving store can
// never make the frontier revisit a prefix.
func (s Strategy) Expand(frontier []string, parent string, commonPrefixes []string) []string {
	if s.Kind != KindCommonPrefix {
		return frontier
	}
	for _, p := range commonPrefixes {
		if len(p) > len(parent) && strings.HasPrefix(p, parent) {
			frontier = append(frontier, p)
		}
	}
	return frontier
}

// IsDepthExceeded reports whether p must be paged directly rather than
// split further. Common-prefix depth counts delimiters below Base.
func (s Strategy) IsDepthExceeded(p string) bool {
	switch s.Kind {
	case KindFlat:
		return true
	case KindCommonPrefix:
		return strings.Count(strings.TrimPrefix(p, s.Base), s.Delimiter) > s.Depth
	default:
		return false
	}
}

// ExactOnly reports whether the n-gram entry p is shorter than the full
// n-gram length. Such entries stand only for the key equal to p; longer
// keys under p are covered by the longer permutations.
func (s Strategy) ExactOnly(p string) bool {
	if s.Kind != KindNGram {
		return false
	}
	return len([]rune(p))-len([]rune(s.Base)) < s.Depth
}

// ListDelimiter is the delimiter used when listing one frontier entry.
func (s Strategy) ListDelimiter() string {
	if s.Kind == KindCommonPrefix {
		return s.Delimiter
	}
	return ""
}

// Permutations returns base+w for every word w of length 1..depth over
// alphabet, shortest first.
func Permutations(alphabet charset.Alphabet, depth int, base string) []string {
	runes := alphabet.Runes()
	var out []string
	level := []string{base}
	for d := 0; d < depth; d++ {
		next := make([]string, 0, len(level)*len(runes))
		for _, p := range level {
			for _, r := range runes {
				next = append(next, p+string(r))
			}
		}
		out = append(out, next...)
		level = next
	}
	return out
}

// PermutationCount returns the number of entries Permutations would return.
func PermutationCount(size, depth int) int {
	total, level := 0, 1
	for d := 0; d < depth; d++ {
		level *= size
		total += level
	}
	return total
}
