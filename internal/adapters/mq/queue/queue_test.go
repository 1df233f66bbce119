package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/resultportal/internal/domain/model"
)

func batch(id string) Batch {
	return model.ImportBatch{JobID: id, Rows: []model.Result{{GRNumber: "GR-" + id}}}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if c := q.Capacity(); c != 2 {
		t.Errorf("expected capacity 2, got %d", c)
	}

	if err := q.Enqueue(ctx, batch("job1")); err != nil {
		t.Fatalf("expected enqueue to succeed: %v", err)
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.JobID != "job1" || got.Rows[0].GRNumber != "GR-job1" {
		t.Errorf("unexpected batch %+v", got)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, batch(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	if err := q.Enqueue(ctx, batch("c")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_DefaultCapacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(0))
	if q.Capacity() != defaultQueueCapacity {
		t.Errorf("expected default capacity %d, got %d", defaultQueueCapacity, q.Capacity())
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Enqueue(ctx, batch("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	const producers, perProducer = 10, 10

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if err := q.Enqueue(ctx, batch(fmt.Sprintf("%d-%d", id, j))); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	if l := q.Len(ctx); l != producers*perProducer {
		t.Fatalf("expected %d batches, got %d", producers*perProducer, l)
	}

	_ = q.Close()
	seen := 0
	for range q.Dequeue(ctx) {
		seen++
	}
	if seen != producers*perProducer {
		t.Errorf("expected to drain %d batches, got %d", producers*perProducer, seen)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if err := q.Enqueue(ctx, batch("before")); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if err := q.Enqueue(ctx, batch("after")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}

	ch := q.Dequeue(ctx)
	select {
	case b, ok := <-ch:
		if !ok || b.JobID != "before" {
			t.Errorf("expected the waiting batch to be delivered, got %+v ok=%v", b, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch")
	}
	if _, ok := <-ch; ok {
		t.Error("expected dequeue channel to close after draining")
	}
}

func TestInMemoryQueue_DrainAfterCancelledDequeue(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx, cancel := context.WithCancel(context.Background())

	for _, id := range []string{"held", "waiting"} {
		if err := q.Enqueue(context.Background(), batch(id)); err != nil {
			t.Fatal(err)
		}
	}
	if got := q.Drain(); got != nil {
		t.Fatalf("expected nothing drained from an open queue, got %d", len(got))
	}

	ch := q.Dequeue(ctx)
	// Let the dequeue goroutine pick up the first batch and block handing it over.
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	if b, ok := <-ch; ok {
		t.Fatalf("expected no delivery after cancel, got %s", b.JobID)
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}

	got := q.Drain()
	if len(got) != 2 || got[0].JobID != "held" || got[1].JobID != "waiting" {
		t.Fatalf("expected held and waiting batches, got %+v", got)
	}
	if q.Len(context.Background()) != 0 {
		t.Error("expected queue to be empty after drain")
	}
}
