package transport

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/mtconnect"
	"github.com/c360/semstreams-mtconnect/shdr"
)

func testConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0
	cfg.WriteTimeout = time.Second
	return cfg
}

func startServer(t *testing.T, cfg ServerConfig, opts ...ServerOption) *Server {
	t.Helper()
	s, err := NewServer(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(2 * time.Second) })
	return s
}

type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, s *Server) *client {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func waitForConnections(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.ConnectionCount() == n
	}, 2*time.Second, 5*time.Millisecond)
}

// collectEvents drains the event channel until it is idle.
func collectEvents(s *Server, idle time.Duration) []Event {
	var events []Event
	for {
		select {
		case e := <-s.Events():
			events = append(events, e)
		case <-time.After(idle):
			return events
		}
	}
}

func countEvents(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestServer_FanOut(t *testing.T) {
	s := startServer(t, testConfig())

	clients := []*client{dial(t, s), dial(t, s), dial(t, s)}
	waitForConnections(t, s, 3)

	require.True(t, s.WriteLine("|temp|1|load|2"))
	for _, c := range clients {
		assert.Equal(t, "|temp|1|load|2", c.readLine(t))
	}

	infos := s.Connections()
	require.Len(t, infos, 3)
	for _, info := range infos {
		assert.NotEmpty(t, info.ID)
		assert.Equal(t, int64(1), info.LinesSent)
		assert.Equal(t, int64(len("|temp|1|load|2\n")), info.BytesSent)
	}
}

func TestServer_WriteLineSplitsAndEncodes(t *testing.T) {
	s := startServer(t, testConfig())
	c := dial(t, s)
	waitForConnections(t, s, 1)

	require.True(t, s.WriteLine("|a|1\r\n\r\n|msg||Temp 25°C\n"))
	assert.Equal(t, "|a|1", c.readLine(t))
	assert.Equal(t, "|msg||Temp 25?C", c.readLine(t))
}

func TestServer_WriteLineWithoutConnections(t *testing.T) {
	s := startServer(t, testConfig())
	assert.True(t, s.WriteLine("|a|1"))
	assert.True(t, s.WriteLine(""))
}

// failingConn is a net.Conn whose writes always fail.
type failingConn struct {
	net.Conn
}

func (failingConn) Write([]byte) (int, error)        { return 0, errors.ErrConnectionLost }
func (failingConn) SetWriteDeadline(time.Time) error { return nil }
func (failingConn) Close() error                     { return nil }

func TestServer_PartialFailureIsolation(t *testing.T) {
	s, err := NewServer(testConfig())
	require.NoError(t, err)

	var readers []*bufio.Reader
	for _, id := range []string{"a", "b"} {
		server, peer := net.Pipe()
		t.Cleanup(func() { _ = server.Close(); _ = peer.Close() })
		s.conns.add(&Connection{id: id, conn: server, server: s})
		readers = append(readers, bufio.NewReader(peer))
	}
	s.conns.add(&Connection{id: "c", conn: failingConn{}, server: s})

	received := make(chan string, 2)
	for _, r := range readers {
		go func() {
			line, _ := r.ReadString('\n')
			received <- line
		}()
	}

	assert.False(t, s.WriteLine("|temp|1"))
	for range readers {
		select {
		case line := <-received:
			assert.Equal(t, "|temp|1\n", line)
		case <-time.After(2 * time.Second):
			t.Fatal("healthy connection did not receive the line")
		}
	}

	// the failing connection stays registered
	assert.Equal(t, 3, s.ConnectionCount())

	events := collectEvents(s, 50*time.Millisecond)
	assert.Equal(t, 2, countEvents(events, EventLineSent))
	require.Equal(t, 1, countEvents(events, EventSendError))
	for _, e := range events {
		if e.Type == EventSendError {
			assert.Equal(t, "c", e.ConnectionID)
			assert.True(t, errors.IsTransient(e.Err))
		}
	}
}

func TestServer_PingPong(t *testing.T) {
	cfg := testConfig()
	cfg.Heartbeat = 3 * time.Second
	s := startServer(t, cfg)

	c := dial(t, s)
	waitForConnections(t, s, 1)

	_, err := c.conn.Write([]byte("* PING\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "* PONG 3000", c.readLine(t))

	require.Eventually(t, func() bool {
		info := s.Connections()[0]
		return !info.LastPing.IsZero() && !info.LastPong.IsZero()
	}, time.Second, 5*time.Millisecond)

	events := collectEvents(s, 50*time.Millisecond)
	assert.Equal(t, 1, countEvents(events, EventConnected))
	assert.Equal(t, 1, countEvents(events, EventPingReceived))
	assert.Equal(t, 1, countEvents(events, EventPongSent))
}

func TestServer_IgnoresOtherAgentLines(t *testing.T) {
	s := startServer(t, testConfig())
	c := dial(t, s)
	waitForConnections(t, s, 1)

	_, err := c.conn.Write([]byte("hello\n* PING\n"))
	require.NoError(t, err)
	assert.Equal(t, "* PONG 10000", c.readLine(t))
}

func TestServer_ConnectHandlerAttaches(t *testing.T) {
	replayed := make(chan struct{})
	release := make(chan struct{})
	s := startServer(t, testConfig(), WithConnectHandler(func(info ConnectionInfo, w LineWriter, attach func()) {
		assert.NotEmpty(t, info.ID)
		assert.True(t, w.WriteLine("|replay|1"))
		close(replayed)
		<-release
		attach()
		attach()
	}))

	c := dial(t, s)
	<-replayed

	// not attached yet, so the broadcast skips the new connection
	assert.Equal(t, 0, s.ConnectionCount())
	require.True(t, s.WriteLine("|tick|1"))

	close(release)
	waitForConnections(t, s, 1)
	require.True(t, s.WriteLine("|tick|2"))

	assert.Equal(t, "|replay|1", c.readLine(t))
	assert.Equal(t, "|tick|2", c.readLine(t))
}

func TestServer_ConnectHandlerAttachedOnReturn(t *testing.T) {
	s := startServer(t, testConfig(), WithConnectHandler(func(_ ConnectionInfo, w LineWriter, _ func()) {
		assert.True(t, w.WriteLine("|replay|1"))
	}))

	c := dial(t, s)
	waitForConnections(t, s, 1)
	require.True(t, s.WriteLine("|tick|1"))

	assert.Equal(t, "|replay|1", c.readLine(t))
	assert.Equal(t, "|tick|1", c.readLine(t))
}

func TestServer_Disconnect(t *testing.T) {
	var mu sync.Mutex
	var seen []EventType
	s := startServer(t, testConfig(), WithListener(ListenerFunc(func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})))

	c := dial(t, s)
	waitForConnections(t, s, 1)
	require.NoError(t, c.conn.Close())
	waitForConnections(t, s, 0)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventConnected, EventDisconnected}, seen)
}

func TestServer_Lifecycle(t *testing.T) {
	s, err := NewServer(testConfig())
	require.NoError(t, err)
	assert.Empty(t, s.Addr())
	assert.True(t, s.Health().IsUnhealthy())

	require.NoError(t, s.Start(context.Background()))
	assert.NotEmpty(t, s.Addr())
	assert.True(t, s.Health().IsHealthy())

	err = s.Start(context.Background())
	assert.True(t, errors.Is(err, errors.ErrAlreadyStarted))

	c := dial(t, s)
	waitForConnections(t, s, 1)

	require.NoError(t, s.Stop(2*time.Second))
	require.NoError(t, s.Stop(time.Second))
	assert.Zero(t, s.ConnectionCount())

	// the agent sees the close
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = c.reader.ReadString('\n')
	assert.Error(t, err)
}

func TestServer_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 70000
	_, err := NewServer(cfg)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestServer_EventOverflowIsCounted(t *testing.T) {
	cfg := testConfig()
	cfg.EventBuffer = 1
	registry := metric.NewMetricsRegistry()
	s, err := NewServer(cfg, WithMetrics(registry))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s.emit(Event{Type: EventLineSent})
	}

	assert.Equal(t, int64(2), s.eventsDropped.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.eventsDropped))
	assert.Len(t, collectEvents(s, 10*time.Millisecond), 1)
}

func TestServer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s := startServer(t, testConfig(), WithMetrics(registry))

	c := dial(t, s)
	waitForConnections(t, s, 1)
	require.True(t, s.WriteLine("|a|1\n|b|2"))
	c.readLine(t)
	c.readLine(t)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.connectionsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.linesSent))
	assert.Equal(t, 10.0, testutil.ToFloat64(s.metrics.bytesSent))
}

func TestEncodeLines(t *testing.T) {
	lines, payload := encodeLines("a\r\nb\n\nc\rd")
	assert.Equal(t, []string{"a", "b", "c", "d"}, lines)
	assert.Equal(t, "a\nb\nc\nd\n", string(payload))

	lines, payload = encodeLines("\r\n")
	assert.Nil(t, lines)
	assert.Nil(t, payload)

	assert.Equal(t, "caf?", toASCII("café"))
}

func TestEncodeLines_KeepsMultilineBody(t *testing.T) {
	asset := mtconnect.Asset{AssetID: "T1", Type: "CuttingTool", Body: "<a>\n\n  <b/>\n</a>", Timestamp: 1700000000000}
	rendered, err := shdr.FormatAssets(shdr.Format{MultilineAssets: true}, []mtconnect.Asset{asset})
	require.NoError(t, err)

	boundary := shdr.MultilinePrefix + asset.ChangeID().String()
	lines, payload := encodeLines("|a|1\n\n" + strings.Join(rendered, "\n") + "\n\n|b|2\n")
	assert.Equal(t, []string{
		"|a|1",
		"|@ASSET@|T1|CuttingTool|" + boundary,
		"<a>",
		"",
		"  <b/>",
		"</a>",
		boundary,
		"|b|2",
	}, lines)
	assert.Equal(t, strings.Join(lines, "\n")+"\n", string(payload))
}
