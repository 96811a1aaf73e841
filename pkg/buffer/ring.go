package buffer

import (
	"sync"

	"github.com/c360/semstreams-mtconnect/errors"
)

type ring[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int // oldest item
	size   int
	closed bool

	opts    *bufferOptions[T]
	stats   *Statistics
	metrics *bufferMetrics
}

func newRing[T any](capacity int, opts *bufferOptions[T]) (*ring[T], error) {
	r := &ring[T]{
		items: make([]T, capacity),
		opts:  opts,
		stats: newStatistics(),
	}
	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "New", "metrics registration")
		}
		r.metrics = m
	}
	return r, nil
}

func (r *ring[T]) slot(i int) int { return (r.head + i) % len(r.items) }

// Write runs the drop callback after releasing the ring lock, so the
// callback may inspect the buffer.
func (r *ring[T]) Write(item T) error {
	lost, dropped, err := r.push(item)
	if dropped && r.opts.dropCallback != nil {
		r.opts.dropCallback(lost)
	}
	return err
}

func (r *ring[T]) push(item T) (lost T, dropped bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return lost, false, errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "write to closed buffer")
	}

	if r.size == len(r.items) {
		r.stats.drops.Add(1)
		r.metrics.recordDrop()
		if r.opts.overflowPolicy == DropNewest {
			return item, true, nil
		}
		var zero T
		lost, r.items[r.head] = r.items[r.head], zero
		r.head = r.slot(1)
		r.size--
		dropped = true
	}

	r.items[r.slot(r.size)] = item
	r.size++
	r.stats.wrote(r.size)
	r.metrics.recordWrite(r.size, len(r.items))
	return lost, dropped, nil
}

func (r *ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(max, r.size)
	if n <= 0 {
		return nil
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i], r.items[r.head] = r.items[r.head], zero
		r.head = r.slot(1)
	}
	r.size -= n
	r.stats.read(n, r.size)
	r.metrics.recordRead(n, r.size, len(r.items))
	return out
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring[T]) Capacity() int { return len(r.items) }

func (r *ring[T]) Stats() *Statistics { return r.stats }

func (r *ring[T]) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
