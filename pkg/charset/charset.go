// Package charset infers the character alphabet used by the leading
// characters of a bucket's keys.
package charset

import (
	"errors"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrAmbiguousCharset indicates that no canonical alphabet covers the sample.
var ErrAmbiguousCharset = errors.New("ambiguous charset")

// SampleWidth is the number of leading characters inspected per key.
const SampleWidth = 4

// Alphabet is a sorted set of distinct characters.
type Alphabet string

// Size returns the number of characters in a.
func (a Alphabet) Size() int {
	return utf8.RuneCountInString(string(a))
}

// Runes returns the characters of a.
func (a Alphabet) Runes() []rune {
	return []rune(string(a))
}

// Contains reports whether r is in a.
func (a Alphabet) Contains(r rune) bool {
	return strings.ContainsRune(string(a), r)
}

const (
	digits = "0123456789"
	lower  = "abcdefghijklmnopqrstuvwxyz"
	upper  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Canonical alphabets in test order.
var (
	HexLower     = New(digits + "abcdef")
	Hex          = New(digits + "abcdefABCDEF")
	Digits       = New(digits)
	Lowercase    = New(lower)
	Letters      = New(lower + upper)
	LowerAlnum   = New(digits + lower)
	Alphanumeric = New(digits + lower + upper)
)

var canonical = []Alphabet{HexLower, Hex, Digits, Lowercase, Letters, LowerAlnum, Alphanumeric}

// New builds an Alphabet from the distinct characters of s.
func New(s string) Alphabet {
	rs := []rune(s)
	slices.Sort(rs)
	return Alphabet(string(slices.Compact(rs)))
}

// Detect returns the smallest canonical alphabet covering the first
// SampleWidth characters of every sampled key, extended with any
// punctuation or whitespace seen in the sample.
func Detect(sample []string) (Alphabet, error) {
	var seen, punct []rune
	for _, key := range sample {
		n := 0
		for _, r := range key {
			if n == SampleWidth {
				break
			}
			n++
			if isPunct(r) {
				punct = append(punct, r)
				continue
			}
			seen = append(seen, r)
		}
	}
	observed := New(string(seen))

	var best Alphabet
	for _, candidate := range canonical {
		if !covers(candidate, observed) {
			continue
		}
		if best == "" || candidate.Size() < best.Size() {
			best = candidate
		}
	}
	if best == "" {
		return "", ErrAmbiguousCharset
	}
	return symmetricDifference(best, New(string(punct))), nil
}

func isPunct(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) || unicode.IsControl(r))
}

func covers(a, sub Alphabet) bool {
	for _, r := range string(sub) {
		if !a.Contains(r) {
			return false
		}
	}
	return true
}

// symmetricDifference of a canonical alphabet and a punctuation set is
// their union, since the two never share characters.
func symmetricDifference(a, b Alphabet) Alphabet {
	var out []rune
	for _, r := range string(a) {
		if !b.Contains(r) {
			out = append(out, r)
		}
	}
	for _, r := range string(b) {
		if !a.Contains(r) {
			out = append(out, r)
		}
	}
	return New(string(out))
}
