package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/semstreams-mtconnect/errors"
)

type metricKey struct {
	service string
	name    string
}

func (k metricKey) String() string { return k.service + "." + k.name }

// MetricsRegistry owns a private prometheus registry. Collectors are keyed
// by service and metric name so that a module registering twice gets an
// error instead of a panic.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	core               *Metrics

	mu         sync.Mutex
	registered map[metricKey]prometheus.Collector
}

// NewMetricsRegistry creates a registry carrying the process-level adapter
// metrics plus the Go runtime and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		core:               NewMetrics(),
		registered:         make(map[metricKey]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(r.core.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the process-level metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.core
}

func (r *MetricsRegistry) RegisterCounter(service, name string, c prometheus.Counter) error {
	return r.register("RegisterCounter", metricKey{service, name}, c)
}

func (r *MetricsRegistry) RegisterGauge(service, name string, g prometheus.Gauge) error {
	return r.register("RegisterGauge", metricKey{service, name}, g)
}

func (r *MetricsRegistry) RegisterCounterVec(service, name string, cv *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", metricKey{service, name}, cv)
}

func (r *MetricsRegistry) RegisterHistogramVec(service, name string, hv *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", metricKey{service, name}, hv)
}

func (r *MetricsRegistry) register(method string, key metricKey, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered", key),
			"MetricsRegistry", method, "register metric")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if errors.As(err, &dup) {
			return errors.WrapInvalid(err, "MetricsRegistry", method,
				fmt.Sprintf("register %s: name collides with another collector", key))
		}
		return errors.WrapFatal(err, "MetricsRegistry", method, "register collector with prometheus")
	}
	r.registered[key] = c
	return nil
}
