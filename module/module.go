package module

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// Kind is the role of a module.
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
)

// Module is a running extension.
type Module interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() health.Status
}

// Sink is an output module. Each write reports whether the whole batch
// was delivered.
type Sink interface {
	Module
	WriteObservations(batch []mtconnect.Observation) bool
	WriteAssets(batch []mtconnect.Asset) bool
	WriteDevices(batch []mtconnect.Device) bool
	WriteRemoval(r mtconnect.Removal) bool
}

// Dependencies are handed to every factory.
type Dependencies struct {
	Name            string                  // instance name, set by Set.CreateAll
	Logger          *slog.Logger            // can be nil, defaults to slog.Default()
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Adapter         adapter.Ingest          // used by inputs
	Replay          adapter.Replayer        // used by outputs that replay on connect
}

// GetLogger returns the configured logger or the default logger.
func (d Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// InstanceName returns Name, or fallback when Name is empty.
func (d Dependencies) InstanceName(fallback string) string {
	if d.Name != "" {
		return d.Name
	}
	return fallback
}

// GetLoggerWithComponent returns a logger tagged with the module name.
func (d Dependencies) GetLoggerWithComponent(name string) *slog.Logger {
	return d.GetLogger().With("component", name)
}
