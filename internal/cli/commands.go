package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eunmann/s3crawl/pkg/config"
	"github.com/eunmann/s3crawl/pkg/counters"
	"github.com/eunmann/s3crawl/pkg/jobs"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/logging"
	"github.com/eunmann/s3crawl/pkg/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

const progressInterval = 30 * time.Second

func runWorker(ctx context.Context, args []string) (err error) {
	var c common
	fs := newFlagSet("worker", &c)
	workers := fs.Int("workers", 0, "concurrent jobs (default from config)")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *workers > 0 {
		cfg.Crawl.Workers = *workers
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	log := logging.WithPhase("worker")

	var cl closers
	defer func() { err = errors.Join(err, cl.close()) }()

	q, err := openQueue(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	store, err := openCounters(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	sessions, err := openSessions(cfg, &cl)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	consumer := &jobs.Consumer{
		Receiver: q,
		Handler:  newWorker(cfg, sessions, q, instrument(store, reg, cfg)),
		Timeout:  cfg.Crawl.JobTimeout,
		Workers:  cfg.Crawl.Workers,
	}
	if reg != nil {
		registerConsumer(reg, cfg.Metrics.Namespace, consumer)
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		cl.add(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
	}

	progress := logging.NewProgress(log, "worker", consumerCounts(consumer))
	go progress.Run(ctx, progressInterval)

	log.Info().Int("workers", max(cfg.Crawl.Workers, 1)).Str("queue", cfg.Queue.Backend).Msg("worker started")
	runErr := consumer.Run(ctx)
	progress.Done()
	return runErr
}

func consumerCounts(c *jobs.Consumer) func() logging.Counts {
	return func() logging.Counts {
		s := c.Stats()
		return logging.Counts{Handled: s.Handled, Failed: s.Failed}
	}
}

func registerConsumer(reg prometheus.Registerer, namespace string, c *jobs.Consumer) {
	factory := promauto.With(reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_handled_total",
		Help:      "Jobs handled by this worker",
	}, func() float64 { return float64(c.Stats().Handled) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_failed_total",
		Help:      "Jobs that returned an error",
	}, func() float64 { return float64(c.Stats().Failed) })
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return srv
}

// scanPayloads turns --account and --bucket values into scan jobs.
func scanPayloads(accounts, buckets []string, prefix string) ([]jobs.Payload, error) {
	var out []jobs.Payload
	for _, a := range accounts {
		out = append(out, jobs.AccountScan{Account: a})
	}
	for _, b := range buckets {
		id, err := keyspace.ParseBucketID(b)
		if err != nil {
			return nil, fmt.Errorf("--bucket %q: want account/bucket: %w", b, err)
		}
		out = append(out, jobs.BucketScan{Bucket: id, Prefix: prefix})
	}
	if len(out) == 0 {
		return nil, errors.New("at least one --account or --bucket is required")
	}
	if prefix != "" && len(accounts) > 0 {
		return nil, errors.New("--prefix applies to --bucket scans only")
	}
	return out, nil
}

func dispatchAll(ctx context.Context, d jobs.Dispatcher, payloads []jobs.Payload) error {
	for _, p := range payloads {
		if err := d.Dispatch(ctx, p); err != nil {
			return fmt.Errorf("dispatch %s: %w", p.Kind(), err)
		}
	}
	return nil
}

func runScan(ctx context.Context, args []string) (err error) {
	var c common
	fs := newFlagSet("scan", &c)
	accounts := fs.StringSlice("account", nil, "account to scan (repeatable)")
	buckets := fs.StringSlice("bucket", nil, "bucket to scan as account/bucket (repeatable)")
	prefix := fs.String("prefix", "", "only scan keys under this prefix")
	if ok, err := parse(fs, args); !ok {
		return err
	}

	payloads, err := scanPayloads(*accounts, *buckets, *prefix)
	if err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if cfg.Queue.Backend == config.BackendMemory {
		return errors.New("scan needs a shared queue; use local for in-memory crawls")
	}

	var cl closers
	defer func() { err = errors.Join(err, cl.close()) }()
	q, err := openQueue(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	if err := dispatchAll(ctx, q, payloads); err != nil {
		return err
	}
	log := logging.WithPhase("scan")
	log.Info().Int("jobs", len(payloads)).Msg("scans enqueued")
	return nil
}

func runSchedule(ctx context.Context, args []string) (err error) {
	var c common
	fs := newFlagSet("schedule", &c)
	expr := fs.String("cron", "", "cron expression (default from config)")
	once := fs.Bool("once", false, "enqueue one round immediately and exit")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *expr != "" {
		cfg.Schedule.Cron = *expr
	}
	log := logging.WithPhase("schedule")

	names := cfg.ScheduledAccounts()
	if len(names) == 0 {
		return errors.New("no accounts configured")
	}
	payloads := make([]jobs.Payload, 0, len(names))
	for _, n := range names {
		payloads = append(payloads, jobs.AccountScan{Account: n})
	}

	var cl closers
	defer func() { err = errors.Join(err, cl.close()) }()
	q, err := openQueue(ctx, cfg, &cl)
	if err != nil {
		return err
	}

	round := func() {
		if err := dispatchAll(ctx, q, payloads); err != nil {
			log.Error().Err(err).Msg("scheduled round failed")
			return
		}
		log.Info().Strs("accounts", names).Msg("account scans enqueued")
	}
	if *once {
		return dispatchAll(ctx, q, payloads)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Schedule.Cron, round); err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Schedule.Cron, err)
	}
	log.Info().Str("cron", cfg.Schedule.Cron).Msg("scheduler started")
	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}

func runReport(ctx context.Context, args []string, stdout io.Writer) (err error) {
	var c common
	fs := newFlagSet("report", &c)
	out := fs.String("out", "", "write counters to this parquet file")
	table := fs.Bool("table", false, "print a per-bucket table")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if *out == "" && !*table {
		return errors.New("--out or --table is required")
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}

	var cl closers
	defer func() { err = errors.Join(err, cl.close()) }()
	store, err := openCounters(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	return writeReport(ctx, store, *out, *table, c.human, stdout)
}

func writeReport(ctx context.Context, store counters.Snapshotter, out string, table, human bool, stdout io.Writer) error {
	rows, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot counters: %w", err)
	}
	counters.SortRows(rows)

	if out != "" {
		if err := report.WriteParquetFile(out, rows); err != nil {
			return err
		}
		log := logging.WithPhase("report")
		log.Info().Str("path", out).Int("rows", len(rows)).Msg("report written")
	}
	if table {
		return report.WriteTable(stdout, report.Summarize(rows), human)
	}
	return nil
}

func runLocal(ctx context.Context, args []string, stdout io.Writer) (err error) {
	var c common
	fs := newFlagSet("local", &c)
	accounts := fs.StringSlice("account", nil, "account to crawl (repeatable)")
	buckets := fs.StringSlice("bucket", nil, "bucket to crawl as account/bucket (repeatable)")
	prefix := fs.String("prefix", "", "only crawl keys under this prefix")
	out := fs.String("out", "", "also write counters to this parquet file")
	if ok, err := parse(fs, args); !ok {
		return err
	}

	payloads, err := scanPayloads(*accounts, *buckets, *prefix)
	if err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	log := logging.WithPhase("local")

	var cl closers
	defer func() { err = errors.Join(err, cl.close()) }()
	sessions, err := openSessions(cfg, &cl)
	if err != nil {
		return err
	}

	q := jobs.NewMemoryQueue()
	store := counters.NewMemoryStore()
	if err := dispatchAll(ctx, q, payloads); err != nil {
		return err
	}
	consumer := &jobs.Consumer{
		Receiver: q,
		Handler:  newWorker(cfg, sessions, q, store),
		Timeout:  cfg.Crawl.JobTimeout,
	}
	progress := logging.NewProgress(log, "local", consumerCounts(consumer))
	progressCtx, stop := context.WithCancel(ctx)
	go progress.Run(progressCtx, progressInterval)
	drainErr := consumer.Drain(ctx, q)
	stop()
	counts := progress.Done()

	if err := writeReport(ctx, store, *out, true, c.human, stdout); err != nil {
		return errors.Join(drainErr, err)
	}
	if drainErr != nil {
		return drainErr
	}
	if counts.Failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", counts.Failed, counts.Handled)
	}
	return nil
}
