package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semstreams-mtconnect/metric"
)

// Metrics holds Prometheus metrics for one listener
type Metrics struct {
	connections      prometheus.Gauge
	connectionsTotal prometheus.Counter
	disconnections   prometheus.Counter
	linesSent        prometheus.Counter
	bytesSent        prometheus.Counter
	sendErrors       prometheus.Counter
	pings            prometheus.Counter
	eventsDropped    prometheus.Counter
}

// newMetrics creates and registers listener metrics. It returns nil when
// no registry is given.
func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"listener": name}
	counter := func(metricName, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "transport",
			Name:        metricName,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "transport",
			Name:        "connections",
			Help:        "Currently registered agent connections",
			ConstLabels: labels,
		}),
		connectionsTotal: counter("connections_total", "Agent connections accepted"),
		disconnections:   counter("disconnections_total", "Agent connections closed"),
		linesSent:        counter("lines_sent_total", "Protocol lines written, counted per connection"),
		bytesSent:        counter("bytes_sent_total", "Bytes written to agents"),
		sendErrors:       counter("send_errors_total", "Failed writes to an agent connection"),
		pings:            counter("pings_total", "Heartbeat pings received"),
		eventsDropped:    counter("events_dropped_total", "Events dropped because the event channel was full"),
	}

	service := "transport_" + name
	registrations := []struct {
		name string
		c    prometheus.Counter
	}{
		{"connections_total", m.connectionsTotal},
		{"disconnections", m.disconnections},
		{"lines_sent", m.linesSent},
		{"bytes_sent", m.bytesSent},
		{"send_errors", m.sendErrors},
		{"pings", m.pings},
		{"events_dropped", m.eventsDropped},
	}
	if err := registry.RegisterGauge(service, "connections", m.connections); err != nil {
		return nil, err
	}
	for _, r := range registrations {
		if err := registry.RegisterCounter(service, r.name, r.c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) recordConnect(current int) {
	if m != nil {
		m.connectionsTotal.Inc()
		m.connections.Set(float64(current))
	}
}

func (m *Metrics) recordDisconnect(current int) {
	if m != nil {
		m.disconnections.Inc()
		m.connections.Set(float64(current))
	}
}

func (m *Metrics) recordSent(lines, bytes int) {
	if m != nil {
		m.linesSent.Add(float64(lines))
		m.bytesSent.Add(float64(bytes))
	}
}

func (m *Metrics) recordSendError() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) recordPing() {
	if m != nil {
		m.pings.Inc()
	}
}

func (m *Metrics) recordEventDropped() {
	if m != nil {
		m.eventsDropped.Inc()
	}
}
