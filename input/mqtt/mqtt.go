package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/pkg/retry"
)

// Input subscribes to device topics on an MQTT broker and feeds the
// decoded payloads to the adapter.
type Input struct {
	name    string
	cfg     Config
	ingest  adapter.Ingest
	logger  *slog.Logger
	metrics *Metrics

	errLimiter *rate.Limiter

	// Lifecycle management
	mu        sync.Mutex
	running   bool
	client    pahomqtt.Client
	startTime time.Time

	received     atomic.Int64
	errors       atomic.Int64
	connected    atomic.Bool
	lastActivity atomic.Int64
}

// NewInput creates an MQTT input. The broker connection is made by Start.
func NewInput(cfg Config, deps module.Dependencies) (*Input, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Adapter == nil {
		return nil, errors.WrapFatal(fmt.Errorf("adapter dependency is required"), "Input", "NewInput", "dependency check")
	}

	name := deps.InstanceName("mqtt")
	in := &Input{
		name:       name,
		cfg:        cfg,
		ingest:     deps.Adapter,
		logger:     deps.GetLoggerWithComponent(name),
		errLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
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

func (in *Input) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(in.cfg.Broker).
		SetClientID(in.cfg.ClientID).
		SetConnectTimeout(in.cfg.ConnectTimeout.Std()).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(in.onConnect).
		SetConnectionLostHandler(in.onConnectionLost)
	if in.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(in.cfg.KeepAlive.Std())
	}
	if in.cfg.Username != "" {
		opts.SetUsername(in.cfg.Username).SetPassword(in.cfg.Password)
	}
	return opts
}

// Start connects to the broker. Subscriptions are made by the connect
// handler so they survive reconnects.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Input", "Start", "state check")
	}

	client := pahomqtt.NewClient(in.clientOptions())

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = in.cfg.ConnectAttempts
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		in.logger.Warn("MQTT connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	err := retry.Do(ctx, retryCfg, func() error {
		token := client.Connect()
		if !token.WaitTimeout(in.cfg.ConnectTimeout.Std()) {
			return fmt.Errorf("connect to %s timed out", in.cfg.Broker)
		}
		return token.Error()
	})
	if err != nil {
		in.metrics.recordError("connect")
		return errors.WrapTransient(err, "Input", "Start", "connect to MQTT broker")
	}

	in.client = client
	in.running = true
	in.startTime = time.Now()
	in.logger.Info("MQTT input started", "broker", in.cfg.Broker, "prefix", in.cfg.TopicPrefix)
	return nil
}

// Stop disconnects from the broker.
func (in *Input) Stop(timeout time.Duration) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.running {
		return nil
	}
	in.running = false
	in.client.Disconnect(uint(timeout / time.Millisecond))
	in.client = nil
	in.connected.Store(false)
	return nil
}

func (in *Input) onConnect(client pahomqtt.Client) {
	in.connected.Store(true)
	in.metrics.setConnected(true)

	token := client.SubscribeMultiple(in.cfg.Topics(), func(_ pahomqtt.Client, msg pahomqtt.Message) {
		in.handleMessage(msg.Topic(), msg.Payload())
	})
	if token.WaitTimeout(in.cfg.ConnectTimeout.Std()) && token.Error() == nil {
		in.logger.Info("Subscribed to device topics", "prefix", in.cfg.TopicPrefix, "qos", in.cfg.QoS)
		return
	}
	in.fail("subscribe", "MQTT subscribe failed", fmt.Errorf("subscribe under %s: %v", in.cfg.TopicPrefix, token.Error()))
}

func (in *Input) onConnectionLost(_ pahomqtt.Client, err error) {
	in.connected.Store(false)
	in.metrics.setConnected(false)
	in.logger.Warn("MQTT connection lost", "error", err)
}

// handleMessage decodes one message and adds its items to the adapter.
func (in *Input) handleMessage(topic string, payload []byte) {
	device, kind, ok := splitTopic(in.cfg.TopicPrefix, topic)
	if !ok {
		in.fail("topic", "Ignoring message on unexpected topic", fmt.Errorf("topic %q", topic))
		return
	}
	in.lastActivity.Store(time.Now().UnixMilli())

	switch kind {
	case topicObservations:
		batch, err := decodeObservations(payload)
		if err != nil {
			in.fail("decode", "Invalid observation payload", fmt.Errorf("topic %s: %w", topic, err))
			return
		}
		for _, obs := range batch {
			if in.cfg.QualifyKeys && obs.DeviceKey == "" {
				obs.DeviceKey = device
			}
			in.ingest.AddObservation(obs)
		}
		in.received.Add(int64(len(batch)))
		in.metrics.recordItems(topicObservations, len(batch))
	case topicAssets:
		assets, err := decodeAssets(payload)
		if err != nil {
			in.fail("decode", "Invalid asset payload", fmt.Errorf("topic %s: %w", topic, err))
			return
		}
		for _, asset := range assets {
			in.ingest.AddAsset(asset)
		}
		in.received.Add(int64(len(assets)))
		in.metrics.recordItems(topicAssets, len(assets))
	default:
		in.fail("topic", "Ignoring message on unexpected topic", fmt.Errorf("topic %q", topic))
	}
}

func (in *Input) fail(errorType, msg string, err error) {
	in.errors.Add(1)
	in.metrics.recordError(errorType)
	if in.errLimiter.Allow() {
		in.logger.Warn(msg, "error", err)
	}
}

// Health reports the broker connection state.
func (in *Input) Health() health.Status {
	in.mu.Lock()
	running := in.running
	startTime := in.startTime
	in.mu.Unlock()

	if !running {
		return health.Unhealthy(in.name, "not running")
	}

	var status health.Status
	switch {
	case !in.connected.Load():
		status = health.Degraded(in.name, "broker connection lost")
	case in.errors.Load() > 0:
		status = health.Degraded(in.name, fmt.Sprintf("%d errors", in.errors.Load()))
	default:
		status = health.Healthy(in.name, "subscribed on "+in.cfg.Broker)
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

// Register registers the MQTT input with the module registry
func Register(registry *module.Registry) error {
	return registry.Register(module.Registration{
		Name:        "mqtt",
		Kind:        module.KindInput,
		Description: "Subscribes to device topics on an MQTT broker",
		Factory:     CreateInput,
	})
}

// CreateInput creates an MQTT input from raw JSON config
func CreateInput(rawConfig json.RawMessage, deps module.Dependencies) (module.Module, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "mqtt-input-factory", "create", "parse config")
		}
	}
	return NewInput(cfg, deps)
}
