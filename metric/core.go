package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the prometheus namespace shared by every adapter metric.
const Namespace = "mtconnect"

// Module status values reported by ModuleStatus.
const (
	StatusStopped  = 0
	StatusStarting = 1
	StatusRunning  = 2
	StatusStopping = 3
	StatusFailed   = 4
)

// Metrics contains process-level metrics that are not owned by one component
type Metrics struct {
	ModuleStatus *prometheus.GaugeVec
	ErrorsTotal  *prometheus.CounterVec
	HealthStatus *prometheus.GaugeVec
	BuildInfo    *prometheus.GaugeVec
}

// NewMetrics creates the process-level metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ModuleStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "module",
			Name:      "status",
			Help:      "Module status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"module", "type"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total errors by component and class",
		}, []string{"component", "class"}),

		HealthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),

		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Build information, always 1",
		}, []string{"version"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ModuleStatus,
		m.ErrorsTotal,
		m.HealthStatus,
		m.BuildInfo,
	}
}

// RecordModuleStatus sets the status gauge for a module
func (m *Metrics) RecordModuleStatus(module, moduleType string, status int) {
	m.ModuleStatus.WithLabelValues(module, moduleType).Set(float64(status))
}

// RecordError increments the error counter for a component
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealth sets the health gauge for a component
func (m *Metrics) RecordHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthStatus.WithLabelValues(component).Set(value)
}
