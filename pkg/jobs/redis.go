package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisKey is the list jobs are pushed to.
	DefaultRedisKey = "s3crawl:jobs"
	// DefaultPollTimeout bounds one BRPOP so context cancellation is seen.
	DefaultPollTimeout = 5 * time.Second
)

// RedisQueue is a Redis list used as a FIFO: LPUSH to enqueue, BRPOP to
// receive. Delivery is at most once; a worker that dies mid-job loses it,
// and a fresh top-level scan is the recovery path.
type RedisQueue struct {
	client      redis.UniversalClient
	key         string
	pollTimeout time.Duration
}

// NewRedisQueue returns a queue on key (DefaultRedisKey when empty).
func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key, pollTimeout: DefaultPollTimeout}
}

// Dispatch implements Dispatcher.
func (q *RedisQueue) Dispatch(ctx context.Context, p Payload) error {
	data, err := Encode(NewJob(p))
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", p.Kind(), err)
	}
	return nil
}

// Receive implements Receiver.
func (q *RedisQueue) Receive(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, fmt.Errorf("receive: %w", err)
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return Job{}, ErrQueueClosed
		}
		if err != nil {
			return Job{}, fmt.Errorf("receive: %w", err)
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			return Job{}, fmt.Errorf("%w: unexpected BRPOP reply of %d elements", ErrMalformed, len(res))
		}
		return Decode([]byte(res[1]))
	}
}

// Len returns the queue depth.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return client, nil
}
