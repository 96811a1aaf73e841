package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

const ts1 = int64(1700000000000)

// staticReplay replays a fixed observation batch.
type staticReplay struct {
	batch []mtconnect.Observation
}

func (r staticReplay) AttachReader(_ int64, w adapter.Writers, attach func()) bool {
	ok := w.Observations(r.batch)
	attach()
	return ok
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func startOutput(t *testing.T, cfg Config, deps module.Dependencies) *Output {
	t.Helper()
	out, err := NewOutput(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	t.Cleanup(func() { _ = out.Stop(time.Second) })
	return out
}

func connect(t *testing.T, out *Output, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+out.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return out.ClientCount() == want }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) MessageEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env MessageEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestBroadcastObservations(t *testing.T) {
	out := startOutput(t, testConfig(), module.Dependencies{})
	first := connect(t, out, 1)
	second := connect(t, out, 2)

	batch := []mtconnect.Observation{
		mtconnect.NewSample("Xpos", "10.5", ts1),
		{DataItemKey: "estop", Timestamp: ts1, Value: mtconnect.Sample{Value: "ARMED"}},
	}
	require.True(t, out.WriteObservations(batch))

	for _, conn := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeObservations, env.Type)
		assert.NotEmpty(t, env.ID)

		var got []mtconnect.Observation
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		require.Len(t, got, 2)
		assert.Equal(t, "Xpos", got[0].DataItemKey)
		assert.Equal(t, mtconnect.Sample{Value: "10.5"}, got[0].Value)
		assert.Equal(t, ts1, got[1].Timestamp)
	}
}

func TestRemovalAndDocuments(t *testing.T) {
	out := startOutput(t, testConfig(), module.Dependencies{})
	conn := connect(t, out, 1)

	require.True(t, out.WriteAssets([]mtconnect.Asset{{AssetID: "T1", Type: "CuttingTool", Body: "<x/>", Timestamp: ts1}}))
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeAssets, env.Type)
	assert.JSONEq(t, `[{"asset_id":"T1","type":"CuttingTool","body":"<x/>","timestamp":1700000000000}]`, string(env.Payload))

	require.True(t, out.WriteRemoval(mtconnect.Removal{Kind: mtconnect.RemoveAsset, Key: "T1", Timestamp: ts1}))
	env = readEnvelope(t, conn)
	assert.Equal(t, TypeRemoval, env.Type)
	assert.JSONEq(t, `{"kind":"remove_asset","key":"T1","timestamp":1700000000000}`, string(env.Payload))
}

func TestReplayOnConnect(t *testing.T) {
	replay := staticReplay{batch: []mtconnect.Observation{mtconnect.NewSample("Xpos", "3", ts1)}}
	out := startOutput(t, testConfig(), module.Dependencies{Replay: replay})

	conn := connect(t, out, 1)
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeObservations, env.Type)

	var got []mtconnect.Observation
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Xpos", got[0].DataItemKey)
}

func TestClientDisconnectRemovesClient(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out := startOutput(t, testConfig(), module.Dependencies{Name: "mirror", MetricsRegistry: registry})
	conn := connect(t, out, 1)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return out.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	// no clients left is still a delivered batch
	assert.True(t, out.WriteObservations([]mtconnect.Observation{mtconnect.NewSample("x", "1", ts1)}))
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.connectionTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(out.metrics.clientsConnected))
}

func TestLifecycle(t *testing.T) {
	out, err := NewOutput(testConfig(), module.Dependencies{})
	require.NoError(t, err)
	assert.True(t, out.Health().IsUnhealthy())

	require.NoError(t, out.Start(context.Background()))
	assert.Error(t, out.Start(context.Background()))
	assert.True(t, out.Health().IsHealthy())

	connect(t, out, 1)
	require.NoError(t, out.Stop(time.Second))
	assert.Equal(t, 0, out.ClientCount())
	assert.NoError(t, out.Stop(time.Second))
}

func TestConfigValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Path = "ws"
	_, err := NewOutput(cfg, module.Dependencies{})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.PingInterval = 0
	_, err = NewOutput(cfg, module.Dependencies{})
	assert.Error(t, err)
}

func TestCreateOutput(t *testing.T) {
	reg := module.NewRegistry()
	require.NoError(t, Register(reg))

	m, err := reg.Create("websocket", json.RawMessage(`{"port":0,"path":"/mirror","ping_interval":"5s"}`),
		module.Dependencies{Name: "mirror"})
	require.NoError(t, err)
	out := m.(*Output)
	assert.Equal(t, "mirror", out.Name())
	assert.Equal(t, "/mirror", out.cfg.Path)
	assert.Equal(t, 5*time.Second, out.cfg.PingInterval.Std())

	_, err = reg.Create("websocket", json.RawMessage(`{"port":[]}`), module.Dependencies{})
	assert.Error(t, err)
}
