package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

const (
	ts1     = int64(1700000000000)
	ts1Text = "2023-11-14T22:13:20.000Z"
	ts2     = ts1 + 1000
	ts2Text = "2023-11-14T22:13:21.000Z"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

// newPipeline wires an adapter to an SHDR output the same way the binary
// does: the adapter writes to the output, the output replays from the
// adapter.
func newPipeline(t *testing.T, cfg Config, registry *metric.MetricsRegistry) (*adapter.Adapter, *Output) {
	t.Helper()

	var out *Output
	writers := adapter.Writers{
		Observations: func(b []mtconnect.Observation) bool { return out.WriteObservations(b) },
		Assets:       func(b []mtconnect.Asset) bool { return out.WriteAssets(b) },
		Devices:      func(b []mtconnect.Device) bool { return out.WriteDevices(b) },
		Control:      func(r mtconnect.Removal) bool { return out.WriteRemoval(r) },
	}

	acfg := adapter.DefaultConfig()
	acfg.Interval = 0
	a, err := adapter.New(acfg, writers)
	require.NoError(t, err)

	out, err = NewOutput(cfg, module.Dependencies{Name: "agent", Replay: a, MetricsRegistry: registry})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	t.Cleanup(func() { _ = out.Stop(time.Second) })
	return a, out
}

type agentConn struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, out *Output, want int) *agentConn {
	t.Helper()
	conn, err := net.Dial("tcp", out.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return out.Server().ConnectionCount() == want
	}, 2*time.Second, 5*time.Millisecond)
	return &agentConn{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *agentConn) readLine() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimSuffix(line, "\n")
}

func (c *agentConn) expectSilence() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err := c.reader.ReadString('\n')
	var netErr net.Error
	require.ErrorAs(c.t, err, &netErr)
	assert.True(c.t, netErr.Timeout())
}

func TestBroadcastToAgents(t *testing.T) {
	a, out := newPipeline(t, testConfig(), nil)
	first := dial(t, out, 1)
	second := dial(t, out, 2)

	a.AddObservation(mtconnect.NewSample("Xpos", "10.5", ts1))
	a.AddObservation(mtconnect.NewSample("mode", "AUTOMATIC", ts1))
	require.True(t, a.SendChanged())

	want := ts1Text + "|Xpos|10.5|mode|AUTOMATIC"
	assert.Equal(t, want, first.readLine())
	assert.Equal(t, want, second.readLine())
}

func TestReconnectReplaysLastState(t *testing.T) {
	a, out := newPipeline(t, testConfig(), nil)

	// sent before any agent is connected
	a.AddObservation(mtconnect.NewSample("Xpos", "10", ts1))
	a.AddAsset(mtconnect.Asset{AssetID: "T1", Type: "CuttingTool", Body: "<CuttingTool/>", Timestamp: ts1})
	require.True(t, a.SendChanged())

	first := dial(t, out, 1)
	assert.Equal(t, ts1Text+"|Xpos|10", first.readLine())
	assert.Equal(t, ts1Text+"|@ASSET@|T1|CuttingTool|<CuttingTool/>", first.readLine())

	a.AddObservation(mtconnect.NewSample("Xpos", "11", ts2))
	require.True(t, a.SendChanged())
	assert.Equal(t, ts2Text+"|Xpos|11", first.readLine())

	require.NoError(t, first.conn.Close())
	require.Eventually(t, func() bool {
		return out.Server().ConnectionCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	second := dial(t, out, 1)
	assert.Equal(t, ts2Text+"|Xpos|11", second.readLine())
	assert.Equal(t, ts1Text+"|@ASSET@|T1|CuttingTool|<CuttingTool/>", second.readLine())
	second.expectSilence()
}

func TestAgentConnectingDuringFlushGetsValue(t *testing.T) {
	var out *Output
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	writers := adapter.Writers{
		Observations: func(b []mtconnect.Observation) bool {
			ok := out.WriteObservations(b)
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			return ok
		},
	}

	acfg := adapter.DefaultConfig()
	acfg.Interval = 0
	a, err := adapter.New(acfg, writers)
	require.NoError(t, err)

	out, err = NewOutput(testConfig(), module.Dependencies{Name: "agent", Replay: a})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	t.Cleanup(func() { _ = out.Stop(time.Second) })

	// the batch is broadcast to no agents, then the writer stalls before
	// the flush commits
	a.AddObservation(mtconnect.NewSample("temp", "1", ts1))
	flushed := make(chan bool, 1)
	go func() { flushed <- a.SendChanged() }()
	<-entered

	conn, err := net.Dial("tcp", out.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	c := &agentConn{t: t, conn: conn, reader: bufio.NewReader(conn)}

	// the replay waits for the flush, so the agent is not attached yet
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, out.Server().ConnectionCount())

	close(release)
	require.True(t, <-flushed)

	assert.Equal(t, ts1Text+"|temp|1", c.readLine())
	require.Eventually(t, func() bool {
		return out.Server().ConnectionCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, a.SendChanged())
	c.expectSilence()

	a.AddObservation(mtconnect.NewSample("temp", "2", ts2))
	require.True(t, a.SendChanged())
	assert.Equal(t, ts2Text+"|temp|2", c.readLine())
}

func TestReplayDisabled(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.ReplayOnConnect = &off
	a, out := newPipeline(t, cfg, nil)

	a.AddObservation(mtconnect.NewSample("Xpos", "10", ts1))
	require.True(t, a.SendChanged())

	c := dial(t, out, 1)
	c.expectSilence()
}

func TestRemovalLines(t *testing.T) {
	a, out := newPipeline(t, testConfig(), nil)
	c := dial(t, out, 1)

	require.True(t, a.RemoveAsset("T1", ts1))
	assert.Equal(t, ts1Text+"|@REMOVE_ASSET@|T1", c.readLine())

	require.True(t, a.RemoveAllAssets("CuttingTool", ts1))
	assert.Equal(t, ts1Text+"|@REMOVE_ALL_ASSETS@|CuttingTool", c.readLine())

	require.True(t, a.RemoveDevice("mill-1", ts1))
	assert.Equal(t, ts1Text+"|@REMOVE_DEVICE@|mill-1", c.readLine())
}

func TestMultilineDevice(t *testing.T) {
	cfg := testConfig()
	cfg.MultilineDevices = true
	a, out := newPipeline(t, cfg, nil)
	c := dial(t, out, 1)

	dev := mtconnect.Device{DeviceKey: "mill-1", Body: "<Device>\r\n<Axes/>\r\n</Device>\r\n", Timestamp: ts1}
	a.AddDevice(dev)
	require.True(t, a.SendChanged())

	boundary := "--multiline--" + dev.ChangeID().String()
	assert.Equal(t, ts1Text+"|@DEVICE@|mill-1|"+boundary, c.readLine())
	assert.Equal(t, "<Device>", c.readLine())
	assert.Equal(t, "<Axes/>", c.readLine())
	assert.Equal(t, "</Device>", c.readLine())
	assert.Equal(t, boundary, c.readLine())
}

func TestRenderErrorFailsBatch(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	_, out := newPipeline(t, testConfig(), registry)

	bad := mtconnect.NewSample("bad|key", "1", ts1)
	assert.False(t, out.WriteObservations([]mtconnect.Observation{bad}))

	st := out.Health()
	assert.True(t, st.IsDegraded())
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.renderErrors.WithLabelValues(familyObservations)))
}

func TestWriteWithoutAgentsSucceeds(t *testing.T) {
	_, out := newPipeline(t, testConfig(), nil)
	assert.True(t, out.WriteObservations([]mtconnect.Observation{mtconnect.NewSample("x", "1", ts1)}))
	assert.True(t, out.WriteObservations(nil))
}

func TestHealth(t *testing.T) {
	_, out := newPipeline(t, testConfig(), nil)
	dial(t, out, 1)

	st := out.Health()
	assert.True(t, st.IsHealthy())
	require.NotNil(t, st.Metrics)
	assert.Equal(t, 1, st.Metrics.Connections)

	require.NoError(t, out.Stop(time.Second))
	assert.True(t, out.Health().IsUnhealthy())
	assert.NoError(t, out.Stop(time.Second))
}

func TestCreateOutput(t *testing.T) {
	reg := module.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Error(t, Register(reg))

	m, err := reg.Create("shdr", json.RawMessage(`{"bind":"127.0.0.1","port":0,"heartbeat":"5s","multiline_assets":true}`),
		module.Dependencies{Name: "agent"})
	require.NoError(t, err)
	out := m.(*Output)
	assert.Equal(t, "agent", out.Name())
	assert.True(t, out.format.OutputTimestamps)
	assert.True(t, out.format.MultilineAssets)
	assert.Equal(t, 5*time.Second, out.cfg.Heartbeat.Std())

	_, err = reg.Create("shdr", json.RawMessage(`{"port":"x"}`), module.Dependencies{})
	assert.Error(t, err)

	_, err = reg.Create("shdr", json.RawMessage(`{"port":70000}`), module.Dependencies{})
	assert.Error(t, err)
}
