// Package dedupe remembers idempotency keys so a replayed request can be
// answered with the outcome of the first one.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 50_000

// Deduper maps idempotency keys to the value recorded on first sight.
type Deduper interface {
	// SeenOrRecord atomically returns the value stored for key and true, or
	// stores value and returns ("", false) when key is new.
	SeenOrRecord(ctx context.Context, key, value string) (string, bool)

	// Forget removes key so a failed attempt can be retried.
	Forget(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key   string
	value string
}

// inMemoryDeduper keeps at most maxSize keys and evicts the oldest first.
// maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.index = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenOrRecord(_ context.Context, key, value string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		return el.Value.(*entry).value, true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		if oldest := d.order.Front(); oldest != nil {
			delete(d.index, oldest.Value.(*entry).key)
			d.order.Remove(oldest)
			d.size.Add(-1)
		}
	}
	d.index[key] = d.order.PushBack(&entry{key: key, value: value})
	d.size.Add(1)
	return "", false
}

func (d *inMemoryDeduper) Forget(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		delete(d.index, key)
		d.order.Remove(el)
		d.size.Add(-1)
	}
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
