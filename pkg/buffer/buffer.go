// Package buffer provides the bounded, thread-safe FIFO that queues
// observations for buffered delivery.
//
// A full buffer never blocks the writer. Depending on its OverflowPolicy it
// either evicts the oldest entry or rejects the new one, and reports the
// lost item through the drop callback. Statistics are always kept;
// Prometheus metrics are opt-in through WithMetrics.
package buffer

// Buffer is a bounded FIFO.
type Buffer[T any] interface {
	// Write appends item, applying the overflow policy when full.
	Write(item T) error

	// ReadBatch removes and returns up to max of the oldest items.
	ReadBatch(max int) []T

	Size() int
	Capacity() int

	Stats() *Statistics

	// Close rejects further writes. Queued items stay readable.
	Close() error
}

// OverflowPolicy decides which item is lost when a full buffer is written.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest rejects the item being written.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	}
	return "unknown"
}

// DropCallback receives every item lost to the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer holding at most capacity items.
// Capacities below one are raised to one. It fails only when metrics were
// requested and could not be registered.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newRing(max(capacity, 1), applyOptions(options...))
}
