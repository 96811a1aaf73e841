package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semstreams-mtconnect/metric"
)

// Metrics holds Prometheus metrics for the WebSocket output
type Metrics struct {
	messagesSent       *prometheus.CounterVec
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	broadcastDuration  *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers Output metrics. nil registry, nil
// metrics.
func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"output": name}
	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "websocket",
			Name:        "messages_sent_total",
			Help:        "Total messages sent to WebSocket clients",
			ConstLabels: labels,
		}, []string{"type"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "websocket",
			Name:        "bytes_sent_total",
			Help:        "Total bytes sent to WebSocket clients",
			ConstLabels: labels,
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "websocket",
			Name:        "clients_connected",
			Help:        "Number of currently connected clients",
			ConstLabels: labels,
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "websocket",
			Name:        "client_connections_total",
			Help:        "Total client connections (including disconnected)",
			ConstLabels: labels,
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "websocket",
			Name:        "client_disconnections_total",
			Help:        "Total client disconnections",
			ConstLabels: labels,
		}, []string{"disconnect_reason"}),
		broadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "websocket",
			Name:        "broadcast_duration_seconds",
			Help:        "Time to broadcast one batch to all clients",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			ConstLabels: labels,
		}, []string{"type"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "websocket",
			Name:        "errors_total",
			Help:        "WebSocket server errors",
			ConstLabels: labels,
		}, []string{"error_type"}),
	}

	service := "websocket_" + name
	if err := registry.RegisterCounterVec(service, "messages_sent", m.messagesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "bytes_sent", m.bytesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "client_connections", m.connectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "client_disconnections", m.disconnectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(service, "broadcast_duration", m.broadcastDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors", m.errorsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordConnect(clients int) {
	if m == nil {
		return
	}
	m.connectionTotal.Inc()
	m.clientsConnected.Set(float64(clients))
}

func (m *Metrics) recordDisconnect(reason string, clients int) {
	if m == nil {
		return
	}
	m.disconnectionTotal.WithLabelValues(reason).Inc()
	m.clientsConnected.Set(float64(clients))
}

func (m *Metrics) recordSent(msgType string, bytes int) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
	m.bytesSent.Add(float64(bytes))
}

func (m *Metrics) recordBroadcast(msgType string, seconds float64) {
	if m == nil {
		return
	}
	m.broadcastDuration.WithLabelValues(msgType).Observe(seconds)
}

func (m *Metrics) recordError(errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errorType).Inc()
}
