package counters

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces counter keys.
const DefaultRedisPrefix = "s3crawl"

// RedisStore keeps one hash per bucket (field per category, HINCRBY) and
// one sorted set per global category (member per bucket, ZINCRBY).
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store writing under keys starting with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) bucketKey(bucket keyspace.BucketID) string {
	return s.prefix + ":bucket:" + bucket.String()
}

func (s *RedisStore) globalKey(category string) string {
	return s.prefix + ":global:" + category
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, bucket keyspace.BucketID, category string, n int64) error {
	if err := s.client.HIncrBy(ctx, s.bucketKey(bucket), category, n).Err(); err != nil {
		return fmt.Errorf("increment %s %s: %w", bucket, category, err)
	}
	return nil
}

// IncrementGlobal implements Store.
func (s *RedisStore) IncrementGlobal(ctx context.Context, category, member string, n int64) error {
	if err := s.client.ZIncrBy(ctx, s.globalKey(category), float64(n), member).Err(); err != nil {
		return fmt.Errorf("increment global %s: %w", category, err)
	}
	return nil
}

// Snapshot implements Snapshotter. It walks the keyspace with SCAN, so the
// result is not a point-in-time view while writers are active.
func (s *RedisStore) Snapshot(ctx context.Context) ([]Row, error) {
	var rows []Row

	bucketPrefix := s.prefix + ":bucket:"
	iter := s.client.Scan(ctx, 0, bucketPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		bucket, err := keyspace.ParseBucketID(strings.TrimPrefix(key, bucketPrefix))
		if err != nil {
			continue
		}
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		for category, raw := range fields {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s %s: %w", key, category, err)
			}
			rows = append(rows, Row{Account: bucket.Account, Bucket: bucket.Bucket, Category: category, Count: n})
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan bucket counters: %w", err)
	}

	globalPrefix := s.prefix + ":global:"
	iter = s.client.Scan(ctx, 0, globalPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		members, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		category := strings.TrimPrefix(key, globalPrefix)
		for _, z := range members {
			member, _ := z.Member.(string)
			rows = append(rows, Row{Category: category, Member: member, Count: int64(z.Score)})
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan global counters: %w", err)
	}

	SortRows(rows)
	return rows, nil
}
