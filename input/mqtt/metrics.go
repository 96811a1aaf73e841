package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semstreams-mtconnect/metric"
)

// Metrics holds Prometheus metrics for the MQTT input
type Metrics struct {
	items     *prometheus.CounterVec
	errors    *prometheus.CounterVec
	connected prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"input": name}
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "mqtt",
			Name:        "items_received_total",
			Help:        "Items decoded from MQTT messages",
			ConstLabels: labels,
		}, []string{"family"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "mqtt",
			Name:        "errors_total",
			Help:        "MQTT input errors by type",
			ConstLabels: labels,
		}, []string{"type"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "mqtt",
			Name:        "connected",
			Help:        "1 while the broker connection is up",
			ConstLabels: labels,
		}),
	}

	service := "mqtt_" + name
	if err := registry.RegisterCounterVec(service, "items", m.items); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "connected", m.connected); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordItems(family string, n int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(family).Add(float64(n))
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
