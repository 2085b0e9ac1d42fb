package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned by Receive once a queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Dispatcher enqueues one unit of work. It returns once the job is handed
// to the transport; it never waits for the job to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, p Payload) error
}

// Receiver hands out enqueued jobs.
type Receiver interface {
	Receive(ctx context.Context) (Job, error)
}

// Queue is both ends of a transport.
type Queue interface {
	Dispatcher
	Receiver
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, p Payload) error

// Dispatch calls f.
func (f DispatchFunc) Dispatch(ctx context.Context, p Payload) error {
	return f(ctx, p)
}

// MemoryQueue is an unbounded in-process FIFO. Jobs are stored encoded so
// that everything dispatched through it is known to survive the wire
// codec.
type MemoryQueue struct {
	mu      sync.Mutex
	items   [][]byte
	notify  chan struct{}
	closed  bool
	counted map[Kind]int
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1), counted: make(map[Kind]int)}
}

// Dispatch implements Dispatcher.
func (q *MemoryQueue) Dispatch(_ context.Context, p Payload) error {
	data, err := Encode(NewJob(p))
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, data)
	q.counted[p.Kind()]++
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// TryReceive pops the oldest job without blocking.
func (q *MemoryQueue) TryReceive() (Job, bool, error) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return Job{}, false, nil
	}
	data := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.mu.Unlock()

	j, err := Decode(data)
	if err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

// Receive implements Receiver. It blocks until a job is available, the
// context ends, or the queue is closed and empty.
func (q *MemoryQueue) Receive(ctx context.Context) (Job, error) {
	for {
		j, ok, err := q.TryReceive()
		if err != nil || ok {
			return j, err
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Job{}, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return Job{}, fmt.Errorf("receive: %w", ctx.Err())
		case <-q.notify:
		}
	}
}

// Close stops further dispatches and wakes blocked receivers once empty.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

// Len returns the number of queued jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dispatched returns how many jobs of kind have been enqueued in total.
func (q *MemoryQueue) Dispatched(kind Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counted[kind]
}

// Drain removes and returns every queued job.
func (q *MemoryQueue) Drain() ([]Job, error) {
	var out []Job
	for {
		j, ok, err := q.TryReceive()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, j)
	}
}
