// Package worker runs the import pool that drains the upload queue.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/resultportal/internal/adapters/mq/queue"
	"github.com/okian/resultportal/pkg/logger"
	"github.com/okian/resultportal/pkg/metrics"
)

const (
	defaultPoolShutdownTimeout = 30 * time.Second
	// abortGrace bounds the wait for workers after their context is cancelled.
	abortGrace = 5 * time.Second
)

// Processor handles one batch taken off the queue.
type Processor interface {
	Process(ctx context.Context, b queue.Batch) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, b queue.Batch) error

// DropFunc is told about a batch that was accepted but will never be processed.
type DropFunc func(ctx context.Context, b queue.Batch)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, b queue.Batch) error { //nolint:gocritic // hugeParam
	return f(ctx, b)
}

// Queue defines how workers receive batches.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Batch
}

// Worker processes batches until its source is exhausted.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)
	// Shutdown stops the worker after the batch in flight.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	name      string

	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}

	onDrop DropFunc

	base   logger.Logger
	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading from q.
func NewInMemoryWorker(q Queue, p Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		processor: p,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.base == nil {
		w.base = logger.Get()
	}
	w.logger = w.base.Named(w.name)
	return w
}

// Run starts the worker loop. Batches received after ctx ends are dropped,
// not processed.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	batches := w.queue.Dequeue(ctx)
	defer func() {
		cancel()
		for b := range batches {
			w.drop(ctx, b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				w.drop(ctx, b)
				return
			}
			if err := w.process(ctx, b); err != nil {
				w.logger.Error(ctx, "error processing batch", logger.String("job_id", b.JobID), logger.Error(err))
			}
		}
	}
}

func (w *InMemoryWorker) drop(ctx context.Context, b queue.Batch) { //nolint:gocritic // hugeParam
	ctx = context.WithoutCancel(ctx)
	w.logger.Warn(ctx, "batch dropped", logger.String("job_id", b.JobID), logger.Int("rows", len(b.Rows)))
	metrics.RecordErrorByComponent("worker", "batch_dropped")
	if w.onDrop != nil {
		w.onDrop(ctx, b)
	}
}

// Shutdown stops the worker and waits for it.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, b queue.Batch) error { //nolint:gocritic // hugeParam
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.processor.Process(ctx, b); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "process_error")
		metrics.RecordErrorByType("process_error", "high")
		return fmt.Errorf("process batch %s: %w", b.JobID, err)
	}
	w.logger.Debug(ctx, "batch processed",
		logger.String("job_id", b.JobID),
		logger.Int("rows", len(b.Rows)),
		logger.Duration("took", time.Since(start)),
	)
	return nil
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPool creates workerCount workers. Non-positive counts use runtime.NumCPU().
// Options apply to every worker; worker names are always "<prefix>-<i>".
func NewPool(workerCount int, q Queue, p Processor, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		cancel:  func() {},
		done:    make(chan struct{}),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append(append([]Option(nil), opts...), withIndex(i))
		pool.workers[i] = NewInMemoryWorker(q, p, wopts...)
	}
	pool.logger = pool.workers[0].base.Named("worker-pool")
	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool. They run under a context the pool
// cancels if Shutdown times out.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go func() {
		for _, w := range p.workers {
			<-w.done
		}
		close(p.done)
	}()
}

// Done is closed once every worker has returned.
func (p *Pool) Done() <-chan struct{} { return p.done }

// Shutdown closes the queue so workers drain what is waiting, then waits
// for them. When ctx expires first the workers' context is cancelled and
// every batch left unprocessed is handed to the drop handler.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPoolShutdownTimeout)
		defer cancel()
	}

	var shutdownErr error
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn(ctx, "workers did not drain in time; cancelling")
		p.cancel()
		select {
		case <-p.done:
			shutdownErr = fmt.Errorf("workers cancelled before draining: %w", ctx.Err())
		case <-time.After(abortGrace):
			shutdownErr = fmt.Errorf("%d workers still running after cancel: %w", p.running(), ctx.Err())
		}
	}
	p.cancel()

	if d, ok := p.queue.(interface{ Drain() []queue.Batch }); ok {
		for _, b := range d.Drain() {
			p.workers[0].drop(ctx, b)
		}
	}
	metrics.UpdateWorkerCount(0)
	return shutdownErr
}

func (p *Pool) running() int {
	n := 0
	for _, w := range p.workers {
		select {
		case <-w.done:
		default:
			n++
		}
	}
	return n
}
