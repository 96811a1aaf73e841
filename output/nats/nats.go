package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/mtconnect"
	"github.com/c360/semstreams-mtconnect/natsclient"
	"github.com/c360/semstreams-mtconnect/pkg/retry"
)

// Message families, also the last subject token.
const (
	FamilyObservations = "observations"
	FamilyAssets       = "assets"
	FamilyDevices      = "devices"
	FamilyControl      = "control"
)

// Envelope is the JSON body of every published message
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload"`
}

// Publisher is the part of natsclient.Client the output uses.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, subject string, data []byte) error
	Close(ctx context.Context) error
	IsHealthy() bool
}

// Option configures an Output
type Option func(*Output)

// WithPublisher replaces the NATS client, mostly for tests.
func WithPublisher(p Publisher) Option {
	return func(o *Output) {
		o.client = p
	}
}

// Output publishes sent batches to NATS subjects.
type Output struct {
	name    string
	cfg     Config
	client  Publisher
	logger  *slog.Logger
	metrics *Metrics

	errLimiter *rate.Limiter

	// Lifecycle management
	mu        sync.Mutex
	running   bool
	startTime time.Time

	published    atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64
}

var _ module.Sink = (*Output)(nil)

// NewOutput creates a NATS output. The connection is made by Start.
func NewOutput(cfg Config, deps module.Dependencies, opts ...Option) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.InstanceName("nats")
	o := &Output{
		name:       name,
		cfg:        cfg,
		logger:     deps.GetLoggerWithComponent(name),
		errLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}

	metrics, err := newMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Output", "NewOutput", "metrics registration")
	}
	o.metrics = metrics

	for _, opt := range opts {
		opt(o)
	}

	if o.client == nil {
		client, err := o.newClient(deps.GetLogger())
		if err != nil {
			return nil, err
		}
		o.client = client
	}
	return o, nil
}

func (o *Output) newClient(logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithTimeout(o.cfg.ConnectTimeout.Std()),
		natsclient.WithMaxReconnects(o.cfg.MaxReconnects),
		natsclient.WithHealthChangeCallback(o.metrics.setConnected),
	}
	if o.cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(o.cfg.ReconnectWait.Std()))
	}
	if o.cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(o.cfg.Username, o.cfg.Password))
	}
	if o.cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(o.cfg.Token))
	}
	if o.cfg.TLSCert != "" || o.cfg.TLSCA != "" {
		opts = append(opts, natsclient.WithTLS(o.cfg.TLSCert, o.cfg.TLSKey, o.cfg.TLSCA))
	}
	if o.cfg.ClientName != "" {
		opts = append(opts, natsclient.WithName(o.cfg.ClientName))
	} else {
		opts = append(opts, natsclient.WithName("mtconnect-"+o.name))
	}

	client, err := natsclient.NewClient(o.cfg.URL, opts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Output", "newClient", "create NATS client")
	}
	return client, nil
}

// Name returns the instance name.
func (o *Output) Name() string { return o.name }

// Start connects to NATS, retrying with backoff.
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Output", "Start", "state check")
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = o.cfg.ConnectAttempts
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		o.logger.Warn("NATS connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, retryCfg, func() error {
		return o.client.Connect(ctx)
	}); err != nil {
		o.metrics.recordError("connect")
		return errors.WrapTransient(err, "Output", "Start", "connect to NATS")
	}

	o.running = true
	o.startTime = time.Now()
	o.metrics.setConnected(true)
	o.logger.Info("NATS output started", "url", o.cfg.URL, "prefix", o.cfg.SubjectPrefix)
	return nil
}

// Stop drains the connection.
func (o *Output) Stop(timeout time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}
	o.running = false
	o.metrics.setConnected(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.client.Close(ctx); err != nil {
		return errors.Wrap(err, "Output", "Stop", "close NATS client")
	}
	return nil
}

// WriteObservations publishes an observation batch.
func (o *Output) WriteObservations(batch []mtconnect.Observation) bool {
	return o.publish(FamilyObservations, batch)
}

// WriteAssets publishes an asset batch.
func (o *Output) WriteAssets(batch []mtconnect.Asset) bool {
	return o.publish(FamilyAssets, batch)
}

// WriteDevices publishes a device batch.
func (o *Output) WriteDevices(batch []mtconnect.Device) bool {
	return o.publish(FamilyDevices, batch)
}

// WriteRemoval publishes a removal on the control subject.
func (o *Output) WriteRemoval(r mtconnect.Removal) bool {
	return o.publish(FamilyControl, r)
}

// publish reports false only when the batch cannot be encoded. A broker
// failure is counted and the batch is dropped for this output.
func (o *Output) publish(family string, payload any) bool {
	data, err := o.encode(family, payload)
	if err != nil {
		o.errors.Add(1)
		o.metrics.recordError("encode")
		o.logLimited("Failed to encode batch", "family", family, "error", err)
		return false
	}

	if err := o.client.Publish(context.Background(), o.cfg.Subject(family), data); err != nil {
		o.errors.Add(1)
		o.metrics.recordError("publish")
		o.logLimited("Failed to publish batch", "family", family, "error", err)
		return true
	}

	o.published.Add(1)
	o.lastActivity.Store(time.Now().UnixMilli())
	o.metrics.recordPublish(family, len(data))
	return true
}

func (o *Output) encode(family string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Output", "encode", "marshal payload")
	}
	data, err := json.Marshal(Envelope{
		Type:      family,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Output", "encode", "marshal envelope")
	}
	return data, nil
}

func (o *Output) logLimited(msg string, args ...any) {
	if o.errLimiter.Allow() {
		o.logger.Error(msg, args...)
	}
}

// Health reports the connection state and publish failures.
func (o *Output) Health() health.Status {
	o.mu.Lock()
	running := o.running
	startTime := o.startTime
	o.mu.Unlock()

	if !running {
		return health.Unhealthy(o.name, "not running")
	}

	var status health.Status
	switch errs := o.errors.Load(); {
	case !o.client.IsHealthy():
		status = health.Degraded(o.name, "NATS connection down")
	case errs > 0:
		status = health.Degraded(o.name, fmt.Sprintf("%d publish errors", errs))
	default:
		status = health.Healthy(o.name, "connected to "+o.cfg.URL)
	}

	m := &health.Metrics{
		Uptime:     time.Since(startTime),
		ErrorCount: o.errors.Load(),
		ItemsSent:  o.published.Load(),
	}
	if ms := o.lastActivity.Load(); ms > 0 {
		m.LastActivity = time.UnixMilli(ms)
	}
	return status.WithMetrics(m)
}

// Register registers the NATS output with the module registry
func Register(registry *module.Registry) error {
	return registry.Register(module.Registration{
		Name:        "nats",
		Kind:        module.KindOutput,
		Description: "Publishes sent batches as JSON to NATS subjects",
		Factory:     CreateOutput,
	})
}

// CreateOutput creates a NATS output from raw JSON config
func CreateOutput(rawConfig json.RawMessage, deps module.Dependencies) (module.Module, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "nats-output-factory", "create", "parse config")
		}
	}
	return NewOutput(cfg, deps)
}
