package charset

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		sample []string
		want   Alphabet
	}{
		{"hex lowercase", []string{"3fa9c1", "beef", "0042"}, HexLower},
		{"hex mixed case", []string{"3FA9", "beef"}, Hex},
		{"digits only", []string{"2024", "1999"}, Digits},
		{"lowercase", []string{"logs", "zebra"}, Lowercase},
		{"letters", []string{"Logs", "zebra"}, Letters},
		{"lower alnum", []string{"logs", "2024x"}, LowerAlnum},
		{"alnum", []string{"Logs", "2024x"}, Alphanumeric},
		{"only first four characters", []string{"wxyzZZZZ"}, Lowercase},
		{"punctuation re-added", []string{"xy/z", "x-y"}, New(lower + "/-")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.sample)
			if err != nil {
				t.Fatalf("Detect() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectAmbiguous(t *testing.T) {
	_, err := Detect([]string{"ключ", "abc"})
	if !errors.Is(err, ErrAmbiguousCharset) {
		t.Errorf("Detect() error = %v, want ErrAmbiguousCharset", err)
	}
}

// Keys drawn from one canonical alphabet always detect to a superset of it.
func TestDetectCoverage(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, alphabet := range canonical {
		runes := alphabet.Runes()
		for trial := 0; trial < 50; trial++ {
			sample := make([]string, 1+rng.IntN(20))
			for i := range sample {
				key := make([]rune, 1+rng.IntN(12))
				for j := range key {
					key[j] = runes[rng.IntN(len(runes))]
				}
				sample[i] = string(key)
			}

			got, err := Detect(sample)
			if err != nil {
				t.Fatalf("Detect(%v) error: %v", sample, err)
			}
			for _, r := range runes {
				if !got.Contains(r) && sampleHas(sample, r) {
					t.Fatalf("Detect(%v) = %q, missing sampled %q", sample, got, r)
				}
			}
			for _, key := range sample {
				n := 0
				for _, r := range key {
					if n == SampleWidth {
						break
					}
					n++
					if !got.Contains(r) {
						t.Fatalf("Detect(%v) = %q does not cover %q", sample, got, r)
					}
				}
			}
		}
	}
}

func sampleHas(sample []string, r rune) bool {
	for _, key := range sample {
		n := 0
		for _, c := range key {
			if n == SampleWidth {
				break
			}
			n++
			if c == r {
				return true
			}
		}
	}
	return false
}

func TestNewDeduplicatesAndSorts(t *testing.T) {
	if got := New("cabba"); got != "abc" {
		t.Errorf("New() = %q, want abc", got)
	}
	if HexLower.Size() != 16 {
		t.Errorf("HexLower.Size() = %d, want 16", HexLower.Size())
	}
}
