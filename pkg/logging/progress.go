package logging

import (
	"context"
	"time"

	"github.com/eunmann/s3crawl/pkg/humanfmt"
	"github.com/rs/zerolog"
)

// Counts is a snapshot of consumed jobs.
type Counts struct {
	Handled int64
	Failed  int64
}

// Progress periodically logs how many jobs a consumer has handled.
type Progress struct {
	log       zerolog.Logger
	phase     string
	read      func() Counts
	startTime time.Time
}

// NewProgress creates a reporter that reads counts through read.
func NewProgress(log zerolog.Logger, phase string, read func() Counts) *Progress {
	return &Progress{
		log:       log,
		phase:     phase,
		read:      read,
		startTime: time.Now(),
	}
}

// Run logs a progress line every interval until ctx ends.
func (p *Progress) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c := p.read()
			if c.Handled == last {
				continue
			}
			last = c.Handled
			p.event(p.log.Info(), "progress", c).Msg("crawl progress")
		}
	}
}

// Done logs the completion event with totals and overall rate.
func (p *Progress) Done() Counts {
	c := p.read()
	p.event(p.log.Info(), "phase_completed", c).Msg("crawl finished")
	return c
}

// Elapsed returns time since the reporter was created.
func (p *Progress) Elapsed() time.Duration {
	return time.Since(p.startTime)
}

func (p *Progress) event(e *zerolog.Event, name string, c Counts) *zerolog.Event {
	elapsed := p.Elapsed()
	e = e.Str("event", name).
		Str("phase", p.phase).
		Int64("jobs_handled", c.Handled).
		Int64("jobs_failed", c.Failed).
		Int64("duration_ms", elapsed.Milliseconds())
	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(elapsed)).
			Str("rate_h", humanfmt.Rate(c.Handled, elapsed))
	}
	return e
}
