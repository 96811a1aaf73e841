package adapter

import (
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/mtconnect"
	"github.com/c360/semstreams-mtconnect/pkg/buffer"
)

// observationFamily adds the FIFO buffer used by buffered delivery. Every
// stored observation is queued, so with duplicate filtering off a repeated
// value is queued again even within the same millisecond.
//
// The buffer is written under the family lock.
type observationFamily struct {
	*family[mtconnect.Observation]

	queue buffer.Buffer[mtconnect.Observation]
}

func newObservationFamily(capacity int, registry *metric.MetricsRegistry) (*observationFamily, error) {
	f := &observationFamily{
		family: newFamily[mtconnect.Observation]("observations"),
	}

	opts := []buffer.Option[mtconnect.Observation]{
		buffer.WithOverflowPolicy[mtconnect.Observation](buffer.DropOldest),
	}
	if registry != nil {
		opts = append(opts, buffer.WithMetrics[mtconnect.Observation](registry, "adapter_observations"))
	}

	queue, err := buffer.NewCircularBuffer(capacity, opts...)
	if err != nil {
		return nil, err
	}
	f.queue = queue
	return f, nil
}

// add stores obs as current and queues a copy.
func (f *observationFamily) add(obs mtconnect.Observation, filter bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.putLocked(obs, filter) {
		return false
	}
	_ = f.queue.Write(obs.Clone())
	return true
}

// drain removes up to count of the oldest queued observations.
func (f *observationFamily) drain(count int) []mtconnect.Observation {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.queue.ReadBatch(count)
}

// snapshot copies every current observation, ordered by key.
func (f *observationFamily) snapshot() []mtconnect.Observation {
	f.mu.Lock()
	defer f.mu.Unlock()

	items := make([]mtconnect.Observation, 0, len(f.current))
	for _, obs := range f.current {
		items = append(items, obs.Clone())
	}
	sortByKey(items)
	return items
}

func (f *observationFamily) queued() int {
	return f.queue.Size()
}

func (f *observationFamily) close() {
	_ = f.queue.Close()
}
