package counters

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	incrementBucketSQL = `
		INSERT INTO crawl_bucket_counters (account, bucket, category, n)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account, bucket, category)
		DO UPDATE SET n = crawl_bucket_counters.n + EXCLUDED.n, updated_at = NOW()`

	incrementGlobalSQL = `
		INSERT INTO crawl_global_counters (category, member, n)
		VALUES ($1, $2, $3)
		ON CONFLICT (category, member)
		DO UPDATE SET n = crawl_global_counters.n + EXCLUDED.n, updated_at = NOW()`

	snapshotSQL = `
		SELECT account, bucket, category, '' AS member, n FROM crawl_bucket_counters
		UNION ALL
		SELECT '', '', category, member, n FROM crawl_global_counters`
)

// PostgresStore keeps counters in two tables. Increments are single-row
// upserts that add to the stored value.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the counter tables if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = 8
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Increment implements Store.
func (s *PostgresStore) Increment(ctx context.Context, bucket keyspace.BucketID, category string, n int64) error {
	if _, err := s.pool.Exec(ctx, incrementBucketSQL, bucket.Account, bucket.Bucket, category, n); err != nil {
		return fmt.Errorf("increment %s %s: %w", bucket, category, err)
	}
	return nil
}

// IncrementGlobal implements Store.
func (s *PostgresStore) IncrementGlobal(ctx context.Context, category, member string, n int64) error {
	if _, err := s.pool.Exec(ctx, incrementGlobalSQL, category, member, n); err != nil {
		return fmt.Errorf("increment global %s: %w", category, err)
	}
	return nil
}

// Snapshot implements Snapshotter.
func (s *PostgresStore) Snapshot(ctx context.Context) ([]Row, error) {
	rows, err := s.pool.Query(ctx, snapshotSQL)
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Row, error) {
		var r Row
		err := row.Scan(&r.Account, &r.Bucket, &r.Category, &r.Member, &r.Count)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan counters: %w", err)
	}
	SortRows(out)
	return out, nil
}
