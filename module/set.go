package module

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// Spec names one module instance to create.
type Spec struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

type member struct {
	name     string
	typeName string
	kind     Kind
	module   Module
	sink     Sink
	started  bool
}

// Set is the group of modules loaded for one adapter.
type Set struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu      sync.RWMutex
	members []*member
}

// NewSet creates an empty set backed by registry.
func NewSet(registry *Registry, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		registry: registry,
		logger:   logger.With("component", "modules"),
	}
}

// CreateAll builds every enabled spec in order. A failing factory is
// logged and skipped; the joined failures are returned once all specs have
// been tried.
func (s *Set) CreateAll(specs []Spec, deps Dependencies) error {
	if deps.MetricsRegistry != nil {
		s.metrics = deps.MetricsRegistry.CoreMetrics()
	}

	var errs []error
	for _, spec := range specs {
		if !spec.Enabled {
			s.logger.Debug("Module disabled", "name", spec.Name, "type", spec.Type)
			continue
		}
		if err := s.create(spec, deps); err != nil {
			s.logger.Error("Module failed to load, skipping",
				"name", spec.Name, "type", spec.Type, "error", err)
			s.recordStatus(spec.Name, spec.Type, metric.StatusFailed)
			errs = append(errs, fmt.Errorf("module %s: %w", spec.Name, err))
		}
	}
	return stderrors.Join(errs...)
}

func (s *Set) create(spec Spec, deps Dependencies) error {
	reg, ok := s.registry.Lookup(spec.Type)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownModule, spec.Type),
			"Set", "CreateAll", "factory lookup")
	}

	s.mu.RLock()
	for _, m := range s.members {
		if m.name == spec.Name {
			s.mu.RUnlock()
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate module name %q", errors.ErrInvalidConfig, spec.Name),
				"Set", "CreateAll", "name check")
		}
	}
	s.mu.RUnlock()

	deps.Name = spec.Name
	mod, err := s.registry.Create(spec.Type, spec.Config, deps)
	if err != nil {
		return err
	}

	m := &member{name: spec.Name, typeName: spec.Type, kind: reg.Kind, module: mod}
	if sink, ok := mod.(Sink); ok && reg.Kind == KindOutput {
		m.sink = sink
	}

	s.mu.Lock()
	s.members = append(s.members, m)
	s.mu.Unlock()

	s.recordStatus(spec.Name, spec.Type, metric.StatusStopped)
	s.logger.Info("Module loaded", "name", spec.Name, "type", spec.Type, "kind", reg.Kind)
	return nil
}

// Add registers an already built module.
func (s *Set) Add(name string, kind Kind, mod Module) {
	m := &member{name: name, typeName: name, kind: kind, module: mod}
	if sink, ok := mod.(Sink); ok && kind == KindOutput {
		m.sink = sink
	}
	s.mu.Lock()
	s.members = append(s.members, m)
	s.mu.Unlock()
}

// Len returns the number of loaded modules.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Sinks returns the number of loaded output modules.
func (s *Set) Sinks() int {
	return len(s.sinks())
}

func (s *Set) sinks() []Sink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sink, 0, len(s.members))
	for _, m := range s.members {
		if m.sink != nil {
			out = append(out, m.sink)
		}
	}
	return out
}

// Writers returns adapter writers that deliver each batch to every sink
// loaded at call time. A batch succeeds only if every sink accepts it.
func (s *Set) Writers() adapter.Writers {
	return adapter.Writers{
		Observations: func(batch []mtconnect.Observation) bool {
			return s.fanOut(func(sink Sink) bool { return sink.WriteObservations(batch) })
		},
		Assets: func(batch []mtconnect.Asset) bool {
			return s.fanOut(func(sink Sink) bool { return sink.WriteAssets(batch) })
		},
		Devices: func(batch []mtconnect.Device) bool {
			return s.fanOut(func(sink Sink) bool { return sink.WriteDevices(batch) })
		},
		Control: func(r mtconnect.Removal) bool {
			return s.fanOut(func(sink Sink) bool { return sink.WriteRemoval(r) })
		},
	}
}

func (s *Set) fanOut(write func(Sink) bool) bool {
	ok := true
	for _, sink := range s.sinks() {
		if !write(sink) {
			ok = false
		}
	}
	return ok
}

// StartAll starts modules in load order. Outputs start before inputs so
// values are not produced before anything can receive them. A module that
// fails to start is logged, removed from the set and reported in the
// joined error.
func (s *Set) StartAll(ctx context.Context) error {
	s.mu.RLock()
	ordered := make([]*member, 0, len(s.members))
	for _, m := range s.members {
		if m.kind == KindOutput {
			ordered = append(ordered, m)
		}
	}
	for _, m := range s.members {
		if m.kind != KindOutput {
			ordered = append(ordered, m)
		}
	}
	s.mu.RUnlock()

	var errs []error
	var failed []*member
	for _, m := range ordered {
		s.recordStatus(m.name, m.typeName, metric.StatusStarting)
		if err := m.module.Start(ctx); err != nil {
			s.logger.Error("Module failed to start", "name", m.name, "error", err)
			s.recordStatus(m.name, m.typeName, metric.StatusFailed)
			errs = append(errs, fmt.Errorf("module %s: %w", m.name, err))
			failed = append(failed, m)
			continue
		}
		s.mu.Lock()
		m.started = true
		s.mu.Unlock()
		s.recordStatus(m.name, m.typeName, metric.StatusRunning)
		s.logger.Info("Module started", "name", m.name)
	}

	if len(failed) > 0 {
		s.mu.Lock()
		s.members = slices.DeleteFunc(s.members, func(m *member) bool {
			return slices.Contains(failed, m)
		})
		s.mu.Unlock()
	}
	return stderrors.Join(errs...)
}

// StopAll stops started modules in reverse start order: inputs first, then
// outputs.
func (s *Set) StopAll(timeout time.Duration) error {
	s.mu.RLock()
	var inputs, outputs []*member
	for _, m := range s.members {
		if !m.started {
			continue
		}
		if m.kind == KindOutput {
			outputs = append(outputs, m)
		} else {
			inputs = append(inputs, m)
		}
	}
	s.mu.RUnlock()

	slices.Reverse(inputs)
	slices.Reverse(outputs)

	var errs []error
	for _, m := range append(inputs, outputs...) {
		s.recordStatus(m.name, m.typeName, metric.StatusStopping)
		if err := m.module.Stop(timeout); err != nil {
			s.logger.Warn("Module stop failed", "name", m.name, "error", err)
			errs = append(errs, fmt.Errorf("module %s: %w", m.name, err))
		}
		s.mu.Lock()
		m.started = false
		s.mu.Unlock()
		s.recordStatus(m.name, m.typeName, metric.StatusStopped)
	}
	return stderrors.Join(errs...)
}

// Health aggregates the health of every loaded module.
func (s *Set) Health() health.Status {
	s.mu.RLock()
	mods := make([]Module, 0, len(s.members))
	for _, m := range s.members {
		mods = append(mods, m.module)
	}
	s.mu.RUnlock()

	statuses := make([]health.Status, 0, len(mods))
	for _, mod := range mods {
		st := mod.Health()
		if s.metrics != nil {
			s.metrics.RecordHealth(st.Component, st.IsHealthy())
		}
		statuses = append(statuses, st)
	}
	return health.Aggregate("modules", statuses)
}

func (s *Set) recordStatus(name, typeName string, status int) {
	if s.metrics != nil {
		s.metrics.RecordModuleStatus(name, typeName, status)
	}
}
