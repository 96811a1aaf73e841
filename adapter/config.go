package adapter

import (
	"fmt"
	"time"

	"github.com/c360/semstreams-mtconnect/errors"
)

const (
	// DefaultBufferCapacity bounds the observation FIFO.
	DefaultBufferCapacity = 100000

	// DefaultBufferDrainCount is how many buffered observations one
	// buffered flush writes.
	DefaultBufferDrainCount = 1000

	// minInterval floors the worker's sleep between ticks.
	minInterval = time.Millisecond
)

// Config controls change tracking and the periodic worker.
type Config struct {
	// Interval between worker flushes. Zero disables the worker; flushes
	// then happen only through explicit Send calls.
	Interval time.Duration

	// FilterDuplicates drops an Add whose value matches the current value
	// of its key.
	FilterDuplicates bool

	// OutputTimestamps keeps caller timestamps. When false every value is
	// stamped with the time it was added.
	OutputTimestamps bool

	// EnableBuffer switches the worker from diff mode to buffered mode.
	EnableBuffer bool

	BufferDrainCount int
	BufferCapacity   int
}

// DefaultConfig returns a one second diff-mode configuration.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Second,
		FilterDuplicates: true,
		OutputTimestamps: true,
		BufferDrainCount: DefaultBufferDrainCount,
		BufferCapacity:   DefaultBufferCapacity,
	}
}

// withDefaults fills zero sizes.
func (c Config) withDefaults() Config {
	if c.BufferDrainCount == 0 {
		c.BufferDrainCount = DefaultBufferDrainCount
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Interval < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative interval %v", errors.ErrInvalidConfig, c.Interval),
			"Adapter", "Validate", "interval check")
	}
	if c.BufferDrainCount < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative buffer drain count %d", errors.ErrInvalidConfig, c.BufferDrainCount),
			"Adapter", "Validate", "buffer drain count check")
	}
	if c.BufferCapacity < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative buffer capacity %d", errors.ErrInvalidConfig, c.BufferCapacity),
			"Adapter", "Validate", "buffer capacity check")
	}
	return nil
}
