package mqtt

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// recordingIngest collects added items.
type recordingIngest struct {
	mu     sync.Mutex
	obs    []mtconnect.Observation
	assets []mtconnect.Asset
}

func (r *recordingIngest) AddObservation(obs mtconnect.Observation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, obs)
	return true
}

func (r *recordingIngest) AddAsset(asset mtconnect.Asset) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = append(r.assets, asset)
	return true
}

func (r *recordingIngest) AddDevice(mtconnect.Device) bool    { return true }
func (r *recordingIngest) RemoveAsset(string, int64) bool     { return true }
func (r *recordingIngest) RemoveAllAssets(string, int64) bool { return true }
func (r *recordingIngest) RemoveDevice(string, int64) bool    { return true }

func (r *recordingIngest) observations() []mtconnect.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mtconnect.Observation(nil), r.obs...)
}

func newTestInput(t *testing.T, mutate func(*Config), deps module.Dependencies) (*Input, *recordingIngest) {
	t.Helper()
	ingest := &recordingIngest{}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	deps.Adapter = ingest
	in, err := NewInput(cfg, deps)
	require.NoError(t, err)
	return in, ingest
}

func TestHandleMessage_FlatValues(t *testing.T) {
	in, ingest := newTestInput(t, nil, module.Dependencies{})

	in.handleMessage("mtconnect/mill/observations",
		[]byte(`{"timestamp":1700000000000,"mode":"AUTOMATIC","Xpos":10.5,"door":null}`))

	obs := ingest.observations()
	require.Len(t, obs, 3)
	assert.Equal(t, mtconnect.NewSample("Xpos", "10.5", 1700000000000), obs[0])
	assert.Equal(t, "door", obs[1].DataItemKey)
	assert.True(t, obs[1].Unavailable)
	assert.Equal(t, mtconnect.NewSample("mode", "AUTOMATIC", 1700000000000), obs[2])
}

func TestHandleMessage_TypedObservations(t *testing.T) {
	in, ingest := newTestInput(t, func(c *Config) { c.QualifyKeys = true }, module.Dependencies{})

	in.handleMessage("mtconnect/mill/observations", []byte(`[
		{"key":"alarm","kind":"message","value":{"native_code":"A1","text":"Low coolant"}},
		{"device":"lathe","key":"Xpos","value":"1.0"}
	]`))

	obs := ingest.observations()
	require.Len(t, obs, 2)
	assert.Equal(t, "mill:alarm", obs[0].Key())
	assert.Equal(t, mtconnect.Message{NativeCode: "A1", Text: "Low coolant"}, obs[0].Value)
	assert.Equal(t, "lathe:Xpos", obs[1].Key(), "explicit device wins")

	in.handleMessage("mtconnect/mill/observations", []byte(`{"key":"mode","value":"MANUAL"}`))
	obs = ingest.observations()
	require.Len(t, obs, 3)
	assert.Equal(t, "mill:mode", obs[2].Key())
}

func TestHandleMessage_Assets(t *testing.T) {
	in, ingest := newTestInput(t, nil, module.Dependencies{})

	in.handleMessage("mtconnect/mill/assets",
		[]byte(`{"asset_id":"T1","type":"CuttingTool","body":"<CuttingTool/>"}`))
	in.handleMessage("mtconnect/mill/assets",
		[]byte(`[{"asset_id":"T2","type":"CuttingTool","body":"<a/>"},{"asset_id":"T3","type":"File","body":"<b/>"}]`))

	require.Len(t, ingest.assets, 3)
	assert.Equal(t, "T1", ingest.assets[0].AssetID)
	assert.Equal(t, "File", ingest.assets[2].Type)
}

func TestHandleMessage_Errors(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	in, ingest := newTestInput(t, nil, module.Dependencies{Name: "broker", MetricsRegistry: registry})

	in.handleMessage("other/mill/observations", []byte(`{"a":1}`))
	in.handleMessage("mtconnect/mill/status", []byte(`{"a":1}`))
	in.handleMessage("mtconnect/mill/observations", []byte(`not json`))
	in.handleMessage("mtconnect/mill/observations", []byte(`{"a":{"nested":1}}`))
	in.handleMessage("mtconnect/mill/observations", []byte(`{"timestamp":"yesterday","a":1}`))

	assert.Empty(t, ingest.observations())
	assert.Equal(t, int64(5), in.errors.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(in.metrics.errors.WithLabelValues("topic")))
	assert.Equal(t, float64(3), testutil.ToFloat64(in.metrics.errors.WithLabelValues("decode")))
}

func TestParseTime(t *testing.T) {
	got, err := parseTime(json.RawMessage(`"2024-03-01T12:00:00Z"`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), got.UTC())

	got, err = parseTime(json.RawMessage(`"1700000000"`))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got.Unix())

	got, err = parseTime(json.RawMessage(`1700000000123`))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), got.UnixMilli())

	_, err = parseTime(json.RawMessage(`true`))
	assert.Error(t, err)
}

func TestSplitTopic(t *testing.T) {
	device, kind, ok := splitTopic("shop/floor", "shop/floor/mill/observations")
	require.True(t, ok)
	assert.Equal(t, "mill", device)
	assert.Equal(t, "observations", kind)

	_, _, ok = splitTopic("shop", "shop/mill/a/observations")
	assert.False(t, ok)
	_, _, ok = splitTopic("shop", "shop//observations")
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no broker", func(c *Config) { c.Broker = "" }},
		{"wildcard prefix", func(c *Config) { c.TopicPrefix = "a/#" }},
		{"bad qos", func(c *Config) { c.QoS = 3 }},
		{"zero timeout", func(c *Config) { c.ConnectTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	topics := DefaultConfig().Topics()
	assert.Contains(t, topics, "mtconnect/+/observations")
	assert.Contains(t, topics, "mtconnect/+/assets")
}

func TestCreateInput(t *testing.T) {
	raw := json.RawMessage(`{"broker":"tcp://broker:1883","topic_prefix":"plant"}`)

	_, err := CreateInput(raw, module.Dependencies{})
	require.Error(t, err)

	mod, err := CreateInput(raw, module.Dependencies{Name: "broker", Adapter: &recordingIngest{}})
	require.NoError(t, err)
	assert.Equal(t, "broker", mod.Name())
	assert.Equal(t, health.StateUnhealthy, mod.Health().Status)
}

// TestSubscribeFromBroker needs a broker at MQTT_BROKER.
func TestSubscribeFromBroker(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = "tcp://localhost:1883"
	}

	in, ingest := newTestInput(t, func(c *Config) {
		c.Broker = broker
		c.ClientID = "mtconnect-it-sub"
		c.TopicPrefix = "it"
		c.QoS = 1
	}, module.Dependencies{})
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop(time.Second)
	require.Eventually(t, func() bool { return in.Health().IsHealthy() }, 5*time.Second, 50*time.Millisecond)

	pub := pahomqtt.NewClient(pahomqtt.NewClientOptions().AddBroker(broker).SetClientID("mtconnect-it-pub"))
	token := pub.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	defer pub.Disconnect(250)

	token = pub.Publish("it/mill/observations", 1, false, `{"Xpos":"1.5"}`)
	require.True(t, token.WaitTimeout(5*time.Second))

	require.Eventually(t, func() bool { return len(ingest.observations()) == 1 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "1.5", ingest.observations()[0].Value.(mtconnect.Sample).Value)
}
