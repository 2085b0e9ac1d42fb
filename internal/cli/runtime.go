package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/eunmann/s3crawl/pkg/blobstore"
	"github.com/eunmann/s3crawl/pkg/config"
	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/crawl"
	"github.com/eunmann/s3crawl/pkg/jobs"
	"github.com/eunmann/s3crawl/pkg/s3store"
	"github.com/prometheus/client_golang/prometheus"
)

// closers runs cleanup functions in reverse order.
type closers []func() error

func (c *closers) add(f func() error) {
	*c = append(*c, f)
}

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// counterStore is what commands need from a counters backend.
type counterStore interface {
	counters.Store
	counters.Snapshotter
}

// openQueue connects the configured job queue.
func openQueue(ctx context.Context, cfg config.Config, cl *closers) (jobs.Queue, error) {
	switch cfg.Queue.Backend {
	case config.BackendMemory:
		q := jobs.NewMemoryQueue()
		cl.add(func() error { q.Close(); return nil })
		return q, nil
	case config.BackendRedis:
		r := cfg.Queue.Redis
		client, err := jobs.Dial(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			return nil, err
		}
		cl.add(client.Close)
		return jobs.NewRedisQueue(client, cfg.Queue.Key), nil
	}
	return nil, fmt.Errorf("%w: queue backend %q", config.ErrInvalid, cfg.Queue.Backend)
}

// openCounters connects the configured counters store.
func openCounters(ctx context.Context, cfg config.Config, cl *closers) (counterStore, error) {
	switch cfg.Counters.Backend {
	case config.BackendMemory:
		return counters.NewMemoryStore(), nil
	case config.BackendRedis:
		r := cfg.CountersRedis()
		client, err := jobs.Dial(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			return nil, err
		}
		cl.add(client.Close)
		return counters.NewRedisStore(client, cfg.Counters.Prefix), nil
	case config.BackendPostgres:
		s, err := counters.NewPostgresStore(ctx, cfg.Counters.PostgresDSN)
		if err != nil {
			return nil, err
		}
		cl.add(func() error { s.Close(); return nil })
		return s, nil
	}
	return nil, fmt.Errorf("%w: counters backend %q", config.ErrInvalid, cfg.Counters.Backend)
}

// instrument wraps store with prometheus counters when reg is set.
func instrument(store counters.Store, reg prometheus.Registerer, cfg config.Config) counters.Store {
	if reg == nil {
		return store
	}
	return counters.NewInstrumented(store, reg, cfg.Metrics.Namespace)
}

// openSessions routes each configured account to its object-store adapter.
func openSessions(cfg config.Config, cl *closers) (crawl.SessionRouter, error) {
	router := make(crawl.SessionRouter, len(cfg.Accounts))

	if s3Accounts := cfg.S3Accounts(); len(s3Accounts) > 0 {
		sessions, err := s3store.NewSessions(s3Accounts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}
		for _, a := range s3Accounts {
			router[a.Name] = sessions
		}
	}

	for _, a := range cfg.Accounts {
		if a.BlobURL == "" {
			continue
		}
		store := blobstore.New(a.Name, a.BlobURL, a.Buckets)
		cl.add(store.Close)
		router[a.Name] = store
	}
	return router, nil
}

// newWorker assembles the job handler.
func newWorker(cfg config.Config, sessions crawl.SessionProvider, q jobs.Dispatcher, store counters.Store) *crawl.Worker {
	return &crawl.Worker{
		Sessions:   sessions,
		Dispatcher: q,
		Counters:   store,
		Options:    cfg.CrawlOptions(),
	}
}
