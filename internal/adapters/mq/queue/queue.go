// Package queue holds upload batches between the HTTP layer and the import workers.
package queue

import (
	"context"
	"sync"

	"github.com/okian/resultportal/internal/domain/model"
	"github.com/okian/resultportal/pkg/metrics"
)

const defaultQueueCapacity = 1_000

// Batch is the payload flowing through the queue.
type Batch = model.ImportBatch

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a batch. Returns ErrQueueFull or ErrQueueClosed
	// without blocking when it cannot.
	Enqueue(ctx context.Context, b Batch) error

	// Dequeue returns a channel receiving batches until the queue is closed.
	Dequeue(ctx context.Context) <-chan Batch

	// Len returns the number of waiting batches.
	Len(ctx context.Context) int

	// Capacity returns the configured bound.
	Capacity() int

	// Close stops accepting batches; waiting ones are still delivered.
	Close() error

	IsClosed() bool

	// Drain empties a closed queue and returns what no consumer took.
	Drain() []Batch
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	batches  chan Batch
	capacity int

	mu     sync.RWMutex
	closed bool

	strandMu sync.Mutex
	stranded []Batch
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.batches = make(chan Batch, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0, q.capacity)
	return q
}

// Enqueue adds a batch to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, b Batch) error { //nolint:gocritic // hugeParam: batches travel by value
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected("context_cancelled")
		return err
	}

	select {
	case q.batches <- b:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.batches), q.capacity)
		return nil
	default:
		metrics.RecordQueueRejected("full")
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrQueueFull
	}
}

// Dequeue returns a channel that will receive batches as they become available.
// Once ctx ends the channel is closed; a batch taken off the queue but not yet
// handed over is kept for Drain.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Batch {
	out := make(chan Batch)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-q.batches:
				if !ok {
					return
				}
				select {
				case out <- b:
					metrics.UpdateQueueSize(len(q.batches), q.capacity)
				case <-ctx.Done():
					q.strand(b)
					return
				}
			}
		}
	}()
	return out
}

func (q *InMemoryQueue) strand(b Batch) { //nolint:gocritic // hugeParam
	q.strandMu.Lock()
	defer q.strandMu.Unlock()
	q.stranded = append(q.stranded, b)
}

// Drain removes and returns every batch no consumer will receive: those
// still waiting and those a cancelled Dequeue was holding. It returns nil
// while the queue is open.
func (q *InMemoryQueue) Drain() []Batch {
	if !q.IsClosed() {
		return nil
	}
	q.strandMu.Lock()
	out := q.stranded
	q.stranded = nil
	q.strandMu.Unlock()

	for {
		select {
		case b, ok := <-q.batches:
			if !ok {
				metrics.UpdateQueueSize(0, q.capacity)
				return out
			}
			out = append(out, b)
		default:
			return out
		}
	}
}

// Len returns the current number of queued batches.
func (q *InMemoryQueue) Len(context.Context) int {
	size := len(q.batches)
	metrics.UpdateQueueSize(size, q.capacity)
	return size
}

// Capacity returns the queue bound.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.batches)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
