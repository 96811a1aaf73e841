package agent

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semstreams-mtconnect/metric"
)

// Metrics holds Prometheus metrics for the SHDR output
type Metrics struct {
	renderErrors *prometheus.CounterVec
	linesWritten *prometheus.CounterVec
	replays      prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"output": name}
	m := &Metrics{
		renderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "shdr",
			Name:        "render_errors_total",
			Help:        "Batches that could not be rendered as SHDR",
			ConstLabels: labels,
		}, []string{"family"}),
		linesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "shdr",
			Name:        "lines_rendered_total",
			Help:        "SHDR lines rendered and handed to the listener",
			ConstLabels: labels,
		}, []string{"family"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "shdr",
			Name:        "replays_total",
			Help:        "Last-state replays sent to newly connected agents",
			ConstLabels: labels,
		}),
	}

	service := "shdr_" + name
	if err := registry.RegisterCounterVec(service, "render_errors", m.renderErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "lines_rendered", m.linesWritten); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "replays", m.replays); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordRenderError(family string) {
	if m == nil {
		return
	}
	m.renderErrors.WithLabelValues(family).Inc()
}

func (m *Metrics) recordLines(family string, n int) {
	if m == nil {
		return
	}
	m.linesWritten.WithLabelValues(family).Add(float64(n))
}

func (m *Metrics) recordReplay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}
