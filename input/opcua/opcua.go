package opcua

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"golang.org/x/time/rate"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/pkg/retry"
)

// Input subscribes to OPC UA nodes and feeds value changes to the adapter.
type Input struct {
	name    string
	cfg     Config
	ingest  adapter.Ingest
	handles map[uint32]NodeConfig
	logger  *slog.Logger
	metrics *Metrics

	errLimiter *rate.Limiter
	now        func() time.Time

	// Lifecycle management
	mu        sync.Mutex
	running   bool
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time

	received     atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64
}

// NewInput creates an OPC UA input. The session is opened by Start.
func NewInput(cfg Config, deps module.Dependencies) (*Input, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Adapter == nil {
		return nil, errors.WrapFatal(fmt.Errorf("adapter dependency is required"), "Input", "NewInput", "dependency check")
	}

	name := deps.InstanceName("opcua")
	in := &Input{
		name:       name,
		cfg:        cfg,
		ingest:     deps.Adapter,
		handles:    make(map[uint32]NodeConfig, len(cfg.Nodes)),
		logger:     deps.GetLoggerWithComponent(name),
		errLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		now:        time.Now,
	}
	for i, node := range cfg.Nodes {
		in.handles[uint32(i+1)] = node
	}

	metrics, err := newMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Input", "NewInput", "metrics registration")
	}
	in.metrics = metrics
	return in, nil
}

// Name returns the instance name.
func (in *Input) Name() string { return in.name }

// Start connects, subscribes to every node and starts the consumer.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Input", "Start", "state check")
	}

	runCtx, cancel := context.WithCancel(context.Background())

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = in.cfg.ConnectAttempts
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		in.logger.Warn("OPC UA connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	client, err := retry.DoWithResult(ctx, retryCfg, func() (*opcua.Client, error) {
		return in.connect(ctx)
	})
	if err != nil {
		cancel()
		in.metrics.recordError("connect")
		return errors.WrapTransient(err, "Input", "Start", "connect to OPC UA server")
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(in.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: in.cfg.PublishInterval.Std(),
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return errors.WrapTransient(err, "Input", "Start", "create subscription")
	}

	if err := in.monitor(ctx, sub); err != nil {
		cancel()
		_ = sub.Cancel(ctx)
		_ = client.Close(ctx)
		return err
	}

	in.client = client
	in.sub = sub
	in.cancel = cancel
	in.running = true
	in.startTime = time.Now()

	in.wg.Add(1)
	go in.consume(runCtx, notifyCh)

	in.logger.Info("OPC UA input started", "endpoint", in.cfg.Endpoint, "nodes", len(in.cfg.Nodes))
	return nil
}

func (in *Input) connect(ctx context.Context) (*opcua.Client, error) {
	client, err := opcua.NewClient(in.cfg.Endpoint, in.clientOptions()...)
	if err != nil {
		return nil, retry.NonRetryable(err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (in *Input) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(in.cfg.SecurityMode)),
		opcua.SecurityPolicy(in.cfg.SecurityPolicy),
		opcua.ApplicationName(in.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if in.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(in.cfg.Username, in.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (in *Input) monitor(ctx context.Context, sub *opcua.Subscription) error {
	for handle := uint32(1); handle <= uint32(len(in.cfg.Nodes)); handle++ {
		node := in.handles[handle]
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			return errors.WrapInvalid(err, "Input", "monitor", fmt.Sprintf("parse node id %q", node.NodeID))
		}

		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if in.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(in.cfg.SamplingInterval.Std() / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			return errors.WrapTransient(err, "Input", "monitor", fmt.Sprintf("monitor node %q", node.NodeID))
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			status := "empty result"
			if len(res.Results) > 0 {
				status = res.Results[0].StatusCode.Error()
			}
			return errors.WrapInvalid(fmt.Errorf("monitor node %q failed: %s", node.NodeID, status),
				"Input", "monitor", "monitored item result")
		}
	}
	return nil
}

// Stop cancels the subscription and closes the session.
func (in *Input) Stop(timeout time.Duration) error {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return nil
	}
	in.running = false
	cancel, sub, client := in.cancel, in.sub, in.client
	in.cancel, in.sub, in.client = nil, nil, nil
	in.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), timeout)
	defer ctxCancel()

	var errs []error
	if err := sub.Cancel(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		errs = append(errs, errors.Wrap(err, "Input", "Stop", "cancel subscription"))
	}
	if err := client.Close(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		errs = append(errs, errors.Wrap(err, "Input", "Stop", "close session"))
	}

	in.wg.Wait()
	return stderrors.Join(errs...)
}

func (in *Input) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer in.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			in.metrics.recordNotification()
			if notif.Error != nil {
				in.fail("notification", "OPC UA notification error", notif.Error)
				continue
			}
			if data, ok := notif.Value.(*ua.DataChangeNotification); ok {
				in.handleDataChange(data)
			}
		}
	}
}

// handleDataChange adds one observation per monitored item.
func (in *Input) handleDataChange(data *ua.DataChangeNotification) {
	now := in.now()
	for _, item := range data.MonitoredItems {
		if item == nil {
			continue
		}
		node, ok := in.handles[item.ClientHandle]
		if !ok {
			continue
		}

		obs, err := observation(node, item.Value, now)
		if err != nil {
			in.fail("convert", "Skipping node value", fmt.Errorf("node %s: %w", node.NodeID, err))
			continue
		}

		in.received.Add(1)
		in.lastActivity.Store(now.UnixMilli())
		in.metrics.recordObservation()
		in.ingest.AddObservation(obs)
	}
}

func (in *Input) fail(errorType, msg string, err error) {
	in.errors.Add(1)
	in.metrics.recordError(errorType)
	if in.errLimiter.Allow() {
		in.logger.Warn(msg, "error", err)
	}
}

// Health reports the session state.
func (in *Input) Health() health.Status {
	in.mu.Lock()
	running := in.running
	startTime := in.startTime
	in.mu.Unlock()

	if !running {
		return health.Unhealthy(in.name, "not running")
	}

	status := health.Healthy(in.name, "subscribed to "+in.cfg.Endpoint)
	if n := in.errors.Load(); n > 0 {
		status = health.Degraded(in.name, fmt.Sprintf("%d errors", n))
	}

	m := &health.Metrics{
		Uptime:     time.Since(startTime),
		ErrorCount: in.errors.Load(),
		ItemsSent:  in.received.Load(),
	}
	if ms := in.lastActivity.Load(); ms > 0 {
		m.LastActivity = time.UnixMilli(ms)
	}
	return status.WithMetrics(m)
}

// Register registers the OPC UA input with the module registry
func Register(registry *module.Registry) error {
	return registry.Register(module.Registration{
		Name:        "opcua",
		Kind:        module.KindInput,
		Description: "Subscribes to OPC UA nodes and reports them as data items",
		Factory:     CreateInput,
	})
}

// CreateInput creates an OPC UA input from raw JSON config
func CreateInput(rawConfig json.RawMessage, deps module.Dependencies) (module.Module, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "opcua-input-factory", "create", "parse config")
		}
	}
	return NewInput(cfg, deps)
}
