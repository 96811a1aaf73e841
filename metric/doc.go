// Package metric provides the Prometheus plumbing for the adapter.
//
// MetricsRegistry wraps a private prometheus.Registry. Components receive a
// *MetricsRegistry that may be nil; a nil registry means the component runs
// without metrics:
//
//	func newMetrics(registry *metric.MetricsRegistry) *Metrics {
//	    if registry == nil {
//	        return nil
//	    }
//	    ...
//	}
//
// Every metric lives under the "mtconnect" namespace with a per-component
// subsystem (adapter, transport, websocket, nats, mqtt, opcua).
//
// Server exposes the registry on /metrics and the aggregated module health on
// /health.
package metric
