package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/eunmann/s3crawl/internal/logctx"
	"golang.org/x/sync/errgroup"
)

// DefaultJobTimeout is the wall-clock budget of one job.
const DefaultJobTimeout = 30 * time.Minute

// Handler runs one job.
type Handler interface {
	Handle(ctx context.Context, j Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, j Job) error {
	return f(ctx, j)
}

// Stats counts consumed jobs.
type Stats struct {
	Handled int64
	Failed  int64
}

// Consumer pulls jobs and hands each to Handler under its own timeout.
// Failed jobs are logged and dropped; nothing is retried here.
type Consumer struct {
	Receiver Receiver
	Handler  Handler
	// Timeout bounds each job. Zero means DefaultJobTimeout.
	Timeout time.Duration
	// Workers is the number of jobs handled concurrently. Zero means one.
	Workers int

	handled atomic.Int64
	failed  atomic.Int64
}

// Run consumes until ctx ends or the receiver is closed, then waits for
// in-flight jobs to return.
func (c *Consumer) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(max(c.Workers, 1))

	var runErr error
loop:
	for {
		j, err := c.Receiver.Receive(ctx)
		switch {
		case err == nil:
			g.Go(func() error {
				c.handle(ctx, j)
				return nil
			})
		case errors.Is(err, ErrMalformed):
			log := logctx.FromContext(ctx)
			log.Error().Err(err).Msg("dropping malformed job")
		case errors.Is(err, ErrQueueClosed) || ctx.Err() != nil:
			break loop
		default:
			runErr = fmt.Errorf("consume: %w", err)
			break loop
		}
	}
	_ = g.Wait()
	return runErr
}

// Drain handles queued jobs one at a time until q is empty, including jobs
// dispatched by the handled ones.
func (c *Consumer) Drain(ctx context.Context, q *MemoryQueue) error {
	for ctx.Err() == nil {
		j, ok, err := q.TryReceive()
		if err != nil {
			log := logctx.FromContext(ctx)
			log.Error().Err(err).Msg("dropping malformed job")
			continue
		}
		if !ok {
			return nil
		}
		c.handle(ctx, j)
	}
	return fmt.Errorf("drain: %w", ctx.Err())
}

// Stats returns the counts so far.
func (c *Consumer) Stats() Stats {
	return Stats{Handled: c.handled.Load(), Failed: c.failed.Load()}
}

func (c *Consumer) handle(ctx context.Context, j Job) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = logctx.WithJob(ctx, j.ID, string(j.Payload.Kind()))
	log := logctx.FromContext(ctx)

	start := time.Now()
	err := c.Handler.Handle(ctx, j)
	c.handled.Add(1)
	if err != nil {
		c.failed.Add(1)
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
		return
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("job done")
}
