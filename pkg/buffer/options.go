package buffer

import "github.com/c360/semstreams-mtconnect/metric"

// Option configures a Buffer.
type Option[T any] func(*bufferOptions[T])

type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithOverflowPolicy sets the overflow behavior. The default is DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *bufferOptions[T]) { o.overflowPolicy = policy }
}

// WithDropCallback is called for every item lost to the overflow policy.
func WithDropCallback[T any](fn DropCallback[T]) Option[T] {
	return func(o *bufferOptions[T]) { o.dropCallback = fn }
}

// WithMetrics exports the buffer under the given component label. A nil
// registry or empty prefix is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(o *bufferOptions[T]) {
		if registry != nil && prefix != "" {
			o.metricsReg, o.metricsPrefix = registry, prefix
		}
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	o := &bufferOptions[T]{overflowPolicy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
