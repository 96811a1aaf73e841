package adapter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semstreams-mtconnect/metric"
)

const (
	familyObservations = "observations"
	familyAssets       = "assets"
	familyDevices      = "devices"
	familyControl      = "control"
	familyWorker       = "worker"

	modeChanged = "changed"
	modeBuffer  = "buffer"
	modeLast    = "last"
)

// Metrics holds Prometheus metrics for the adapter
type Metrics struct {
	observationsAdded  prometheus.Counter
	duplicatesFiltered *prometheus.CounterVec
	flushDuration      *prometheus.HistogramVec
	flushFailures      *prometheus.CounterVec
	itemsSent          *prometheus.CounterVec
	bufferSize         prometheus.Gauge
}

// newMetrics creates and registers adapter metrics. It returns nil when no
// registry is given.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		observationsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "adapter",
			Name:      "observations_added_total",
			Help:      "Observations accepted into the cache",
		}),
		duplicatesFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "adapter",
			Name:      "duplicates_filtered_total",
			Help:      "Adds dropped because the value matched the current value",
		}, []string{"family"}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "adapter",
			Name:      "flush_duration_seconds",
			Help:      "Time spent in one flush, including writer calls",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"mode"}),
		flushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "adapter",
			Name:      "flush_failures_total",
			Help:      "Writer calls that reported failure, and recovered worker panics",
		}, []string{"family"}),
		itemsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "adapter",
			Name:      "items_sent_total",
			Help:      "Items handed to writers that reported success",
		}, []string{"family"}),
		bufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "adapter",
			Name:      "buffer_size",
			Help:      "Observations waiting in the FIFO buffer",
		}),
	}

	if err := registry.RegisterCounter("adapter", "observations_added", m.observationsAdded); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("adapter", "duplicates_filtered", m.duplicatesFiltered); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("adapter", "flush_duration", m.flushDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("adapter", "flush_failures", m.flushFailures); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("adapter", "items_sent", m.itemsSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("adapter", "buffer_size", m.bufferSize); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordAdd() {
	if m != nil {
		m.observationsAdded.Inc()
	}
}

func (m *Metrics) recordDuplicate(family string) {
	if m != nil {
		m.duplicatesFiltered.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) recordWrite(family string, n int, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.itemsSent.WithLabelValues(family).Add(float64(n))
		return
	}
	m.flushFailures.WithLabelValues(family).Inc()
}

func (m *Metrics) recordFlush(mode string, seconds float64) {
	if m != nil {
		m.flushDuration.WithLabelValues(mode).Observe(seconds)
	}
}

func (m *Metrics) recordPanic() {
	if m != nil {
		m.flushFailures.WithLabelValues(familyWorker).Inc()
	}
}

func (m *Metrics) setBufferSize(n int) {
	if m != nil {
		m.bufferSize.Set(float64(n))
	}
}
