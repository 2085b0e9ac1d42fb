package counters

import (
	"context"

	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrumented mirrors every increment into prometheus counters before
// passing it to the wrapped store. Bucket ids are not used as labels.
type Instrumented struct {
	next Store

	outcomes    *prometheus.CounterVec
	global      *prometheus.CounterVec
	writeErrors *prometheus.CounterVec
}

// NewInstrumented registers the crawl counters with reg and wraps next.
func NewInstrumented(next Store, reg prometheus.Registerer, namespace string) *Instrumented {
	if namespace == "" {
		namespace = "s3crawl"
	}
	factory := promauto.With(reg)
	return &Instrumented{
		next: next,
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Per-bucket counter increments by category",
			},
			[]string{"category"},
		),
		global: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "global_total",
				Help:      "Global counter increments by category",
			},
			[]string{"category"},
		),
		writeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "counter_write_errors_total",
				Help:      "Counter store writes that failed",
			},
			[]string{"scope"},
		),
	}
}

// Increment implements Store.
func (s *Instrumented) Increment(ctx context.Context, bucket keyspace.BucketID, category string, n int64) error {
	s.outcomes.WithLabelValues(category).Add(float64(n))
	err := s.next.Increment(ctx, bucket, category, n)
	if err != nil {
		s.writeErrors.WithLabelValues("bucket").Inc()
	}
	return err
}

// IncrementGlobal implements Store.
func (s *Instrumented) IncrementGlobal(ctx context.Context, category, member string, n int64) error {
	s.global.WithLabelValues(category).Add(float64(n))
	err := s.next.IncrementGlobal(ctx, category, member, n)
	if err != nil {
		s.writeErrors.WithLabelValues("global").Inc()
	}
	return err
}
