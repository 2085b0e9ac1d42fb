package crawl

import (
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/s3crawl/pkg/batch"
	"github.com/eunmann/s3crawl/pkg/partition"
)

// ErrInvalidOptions indicates an option value that cannot work.
var ErrInvalidOptions = errors.New("invalid crawl options")

// Options tunes partitioning and remediation.
type Options struct {
	// BatchThreshold is the maximum number of keys per key-batch job.
	// Default: 1000
	BatchThreshold int

	// FanoutThreshold is the local frontier size above which the excess is
	// handed to new partition jobs in chunks of FanoutThreshold-1.
	// Default: 6
	FanoutThreshold int

	// EscapeHatchCalls is the partition-call count below which a truncated
	// listing with an otherwise empty frontier re-runs strategy selection.
	// Default: 5
	EscapeHatchCalls int

	// PageSize caps each partition or page listing. Zero lets the store
	// decide (1000 for S3).
	PageSize int

	// MaxNGramDepth caps the n-gram length. Default: 4
	MaxNGramDepth int

	// Width is the remediation worker-pool width per key batch.
	// Default: 10
	Width int

	// ThrottlePause is the slot-local pause after a throttled or
	// session-error remediation. Default: 1s
	ThrottlePause time.Duration
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		BatchThreshold:   batch.DefaultThreshold,
		FanoutThreshold:  6,
		EscapeHatchCalls: 5,
		MaxNGramDepth:    partition.DefaultMaxNGramDepth,
		Width:            batch.DefaultWidth,
		ThrottlePause:    batch.DefaultThrottlePause,
	}
}

// Validate fills zero values with defaults and rejects values that cannot
// work.
func (o *Options) Validate() error {
	def := DefaultOptions()
	if o.BatchThreshold == 0 {
		o.BatchThreshold = def.BatchThreshold
	}
	if o.FanoutThreshold == 0 {
		o.FanoutThreshold = def.FanoutThreshold
	}
	if o.EscapeHatchCalls == 0 {
		o.EscapeHatchCalls = def.EscapeHatchCalls
	}
	if o.MaxNGramDepth == 0 {
		o.MaxNGramDepth = def.MaxNGramDepth
	}
	if o.Width == 0 {
		o.Width = def.Width
	}
	if o.ThrottlePause == 0 {
		o.ThrottlePause = def.ThrottlePause
	}

	switch {
	case o.BatchThreshold < 1:
		return fmt.Errorf("%w: batch threshold %d", ErrInvalidOptions, o.BatchThreshold)
	case o.FanoutThreshold < 2:
		return fmt.Errorf("%w: fan-out threshold %d must be at least 2", ErrInvalidOptions, o.FanoutThreshold)
	case o.EscapeHatchCalls < 0:
		return fmt.Errorf("%w: escape hatch calls %d", ErrInvalidOptions, o.EscapeHatchCalls)
	case o.PageSize < 0:
		return fmt.Errorf("%w: page size %d", ErrInvalidOptions, o.PageSize)
	case o.MaxNGramDepth < 1:
		return fmt.Errorf("%w: max n-gram depth %d", ErrInvalidOptions, o.MaxNGramDepth)
	case o.Width < 1:
		return fmt.Errorf("%w: width %d", ErrInvalidOptions, o.Width)
	case o.ThrottlePause < 0:
		return fmt.Errorf("%w: throttle pause %s", ErrInvalidOptions, o.ThrottlePause)
	}
	return nil
}

// WithBatchThreshold sets the key-batch size.
func (o Options) WithBatchThreshold(n int) Options {
	o.BatchThreshold = n
	return o
}

// WithFanoutThreshold sets the fan-out threshold.
func (o Options) WithFanoutThreshold(n int) Options {
	o.FanoutThreshold = n
	return o
}

// WithEscapeHatchCalls sets the escape-hatch call limit.
func (o Options) WithEscapeHatchCalls(n int) Options {
	o.EscapeHatchCalls = n
	return o
}

// WithPageSize sets the listing page size.
func (o Options) WithPageSize(n int) Options {
	o.PageSize = n
	return o
}

// WithWidth sets the remediation pool width.
func (o Options) WithWidth(n int) Options {
	o.Width = n
	return o
}

// WithThrottlePause sets the throttle pause.
func (o Options) WithThrottlePause(d time.Duration) Options {
	o.ThrottlePause = d
	return o
}
