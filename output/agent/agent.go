package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/mtconnect"
	"github.com/c360/semstreams-mtconnect/shdr"
	"github.com/c360/semstreams-mtconnect/transport"
)

const (
	familyObservations = "observations"
	familyAssets       = "assets"
	familyDevices      = "devices"
	familyControl      = "control"
)

// Output serves SHDR to connected agents.
type Output struct {
	name    string
	cfg     Config
	format  shdr.Format
	server  *transport.Server
	replay  adapter.Replayer
	logger  *slog.Logger
	metrics *Metrics

	// limits render error logs
	errLimiter *rate.Limiter

	// Lifecycle management
	mu        sync.Mutex
	running   bool
	shutdown  chan struct{}
	wg        sync.WaitGroup
	startTime time.Time

	lastActivity atomic.Int64
	renderErrors atomic.Int64
}

var _ module.Sink = (*Output)(nil)

// NewOutput creates an SHDR output. deps.Replay, when set, replays the last
// sent state to each new agent and attaches it to the broadcast set.
func NewOutput(cfg Config, deps module.Dependencies) (*Output, error) {
	name := deps.InstanceName("shdr")
	o := &Output{
		name:       name,
		cfg:        cfg,
		format:     cfg.format(),
		replay:     deps.Replay,
		logger:     deps.GetLoggerWithComponent(name),
		errLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}

	metrics, err := newMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Output", "NewOutput", "metrics registration")
	}
	o.metrics = metrics

	opts := []transport.ServerOption{
		transport.WithLogger(deps.GetLogger()),
		transport.WithMetrics(deps.MetricsRegistry),
	}
	if o.replay != nil && cfg.replay() {
		opts = append(opts, transport.WithConnectHandler(o.onConnect))
	}

	server, err := transport.NewServer(cfg.server(name), opts...)
	if err != nil {
		return nil, err
	}
	o.server = server
	return o, nil
}

// Name returns the instance name.
func (o *Output) Name() string { return o.name }

// Addr returns the bound listener address.
func (o *Output) Addr() string { return o.server.Addr() }

// Server exposes the underlying listener.
func (o *Output) Server() *transport.Server { return o.server }

// Start binds the listener.
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Output", "Start", "state check")
	}
	if err := o.server.Start(ctx); err != nil {
		return err
	}

	o.shutdown = make(chan struct{})
	o.running = true
	o.startTime = time.Now()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.watchEvents(o.shutdown)
	}()
	return nil
}

// Stop closes the listener and every agent connection.
func (o *Output) Stop(timeout time.Duration) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.shutdown)
	o.mu.Unlock()

	err := o.server.Stop(timeout)
	o.wg.Wait()
	return err
}

// watchEvents drains listener events so the channel never backs up.
func (o *Output) watchEvents(shutdown <-chan struct{}) {
	events := o.server.Events()
	for {
		select {
		case <-shutdown:
			return
		case e := <-events:
			o.lastActivity.Store(e.Time.UnixMilli())
			switch e.Type {
			case transport.EventConnectionError:
				o.logger.Warn("Agent connection error", "connection_id", e.ConnectionID, "error", e.Err)
			case transport.EventLineSent, transport.EventPingReceived, transport.EventPongSent:
			default:
				o.logger.Debug("Agent event", "type", e.Type, "connection_id", e.ConnectionID)
			}
		}
	}
}

// onConnect replays the last sent state to one agent and attaches it to
// broadcasts before the adapter can commit another flush.
func (o *Output) onConnect(info transport.ConnectionInfo, w transport.LineWriter, attach func()) {
	o.metrics.recordReplay()
	if !o.replay.AttachReader(0, o.writersFor(w), attach) {
		o.logger.Warn("Replay to new agent incomplete", "connection_id", info.ID, "remote", info.RemoteAddr)
	}
}

// Writers returns adapter writers that broadcast to every agent.
func (o *Output) Writers() adapter.Writers {
	return o.writersFor(o.server)
}

func (o *Output) writersFor(w transport.LineWriter) adapter.Writers {
	return adapter.Writers{
		Observations: func(batch []mtconnect.Observation) bool {
			return o.write(w, familyObservations, func() ([]string, error) {
				return shdr.FormatObservations(o.format, batch)
			})
		},
		Assets: func(batch []mtconnect.Asset) bool {
			return o.write(w, familyAssets, func() ([]string, error) {
				return shdr.FormatAssets(o.format, batch)
			})
		},
		Devices: func(batch []mtconnect.Device) bool {
			return o.write(w, familyDevices, func() ([]string, error) {
				return shdr.FormatDevices(o.format, batch)
			})
		},
		Control: func(r mtconnect.Removal) bool {
			return o.write(w, familyControl, func() ([]string, error) {
				line, err := shdr.FormatRemoval(o.format, r)
				if err != nil {
					return nil, err
				}
				return []string{line}, nil
			})
		},
	}
}

func (o *Output) write(w transport.LineWriter, family string, render func() ([]string, error)) bool {
	lines, err := render()
	if err != nil {
		o.renderErrors.Add(1)
		o.metrics.recordRenderError(family)
		if o.errLimiter.Allow() {
			o.logger.Error("Failed to render batch", "family", family, "error", err)
		}
		return false
	}
	if len(lines) == 0 {
		return true
	}
	o.metrics.recordLines(family, len(lines))
	return w.WriteLine(strings.Join(lines, "\n"))
}

// WriteObservations renders and broadcasts an observation batch.
func (o *Output) WriteObservations(batch []mtconnect.Observation) bool {
	return o.Writers().Observations(batch)
}

// WriteAssets renders and broadcasts an asset batch.
func (o *Output) WriteAssets(batch []mtconnect.Asset) bool {
	return o.Writers().Assets(batch)
}

// WriteDevices renders and broadcasts a device batch.
func (o *Output) WriteDevices(batch []mtconnect.Device) bool {
	return o.Writers().Devices(batch)
}

// WriteRemoval broadcasts a removal control line.
func (o *Output) WriteRemoval(r mtconnect.Removal) bool {
	return o.Writers().Control(r)
}

// Health reports the listener state and render failures.
func (o *Output) Health() health.Status {
	o.mu.Lock()
	running := o.running
	startTime := o.startTime
	o.mu.Unlock()

	if !running {
		return health.Unhealthy(o.name, "not running")
	}

	server := o.server.Health()
	status := health.Healthy(o.name, server.Message)
	if n := o.renderErrors.Load(); n > 0 {
		status = health.Degraded(o.name, fmt.Sprintf("%d render errors", n))
	}

	m := &health.Metrics{
		Uptime:      time.Since(startTime),
		ErrorCount:  o.renderErrors.Load(),
		Connections: o.server.ConnectionCount(),
	}
	if server.Metrics != nil {
		m.ErrorCount += server.Metrics.ErrorCount
	}
	if ms := o.lastActivity.Load(); ms > 0 {
		m.LastActivity = time.UnixMilli(ms)
	}
	return status.WithMetrics(m)
}

// Register registers the SHDR output with the module registry
func Register(registry *module.Registry) error {
	return registry.Register(module.Registration{
		Name:        "shdr",
		Kind:        module.KindOutput,
		Description: "SHDR listener serving MTConnect agents",
		Factory:     CreateOutput,
	})
}

// CreateOutput creates an SHDR output from raw JSON config
func CreateOutput(rawConfig json.RawMessage, deps module.Dependencies) (module.Module, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "shdr-output-factory", "create", "parse config")
		}
	}
	return NewOutput(cfg, deps)
}
