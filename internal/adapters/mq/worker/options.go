package worker

import (
	"strconv"

	"github.com/okian/resultportal/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.base = l
		}
	}
}

// WithDropHandler registers fn for batches abandoned at shutdown.
func WithDropHandler(fn DropFunc) Option {
	return func(w *InMemoryWorker) {
		w.onDrop = fn
	}
}

// withIndex suffixes the worker name with its position in a pool.
func withIndex(i int) Option {
	return func(w *InMemoryWorker) {
		w.name = w.name + "-" + strconv.Itoa(i)
	}
}
