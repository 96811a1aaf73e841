package nats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semstreams-mtconnect/metric"
)

// Metrics holds Prometheus metrics for the NATS output
type Metrics struct {
	published *prometheus.CounterVec
	errors    *prometheus.CounterVec
	bytes     prometheus.Counter
	connected prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"output": name}
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats",
			Name:        "messages_published_total",
			Help:        "Messages published to NATS",
			ConstLabels: labels,
		}, []string{"family"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats",
			Name:        "errors_total",
			Help:        "NATS output errors by type",
			ConstLabels: labels,
		}, []string{"type"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats",
			Name:        "bytes_published_total",
			Help:        "Payload bytes published to NATS",
			ConstLabels: labels,
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats",
			Name:        "connected",
			Help:        "1 while the NATS connection is up",
			ConstLabels: labels,
		}),
	}

	service := "nats_" + name
	if err := registry.RegisterCounterVec(service, "published", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "connected", m.connected); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordPublish(family string, size int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(family).Inc()
	m.bytes.Add(float64(size))
}

func (m *Metrics) recordError(errorType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errorType).Inc()
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
