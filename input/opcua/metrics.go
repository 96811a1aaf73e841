package opcua

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semstreams-mtconnect/metric"
)

// Metrics holds Prometheus metrics for the OPC UA input
type Metrics struct {
	notifications prometheus.Counter
	observations  prometheus.Counter
	errors        *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"input": name}
	m := &Metrics{
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "opcua",
			Name:        "notifications_total",
			Help:        "Publish notifications received from the OPC UA server",
			ConstLabels: labels,
		}),
		observations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "opcua",
			Name:        "observations_total",
			Help:        "Observations handed to the adapter",
			ConstLabels: labels,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "opcua",
			Name:        "errors_total",
			Help:        "OPC UA input errors by type",
			ConstLabels: labels,
		}, []string{"type"}),
	}

	service := "opcua_" + name
	if err := registry.RegisterCounter(service, "notifications", m.notifications); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "observations", m.observations); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordNotification() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) recordObservation() {
	if m == nil {
		return
	}
	m.observations.Inc()
}

func (m *Metrics) recordError(errorType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errorType).Inc()
}
