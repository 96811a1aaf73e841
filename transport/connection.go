package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// LineWriter writes SHDR text to one or more readers.
type LineWriter interface {
	WriteLine(text string) bool
}

// Connection is one registered agent socket.
type Connection struct {
	id          string
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time
	server      *Server

	// serializes writes
	writeMu sync.Mutex

	// Heartbeat state, Unix milliseconds
	lastPing atomic.Int64
	lastPong atomic.Int64

	linesSent atomic.Int64
	bytesSent atomic.Int64

	closing   atomic.Bool
	closeOnce sync.Once
}

// ConnectionInfo is a read-only view of a connection.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastPing    time.Time `json:"last_ping,omitempty"`
	LastPong    time.Time `json:"last_pong,omitempty"`
	LinesSent   int64     `json:"lines_sent"`
	BytesSent   int64     `json:"bytes_sent"`
}

// ID returns the stable logical id of the connection.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Info returns a snapshot of the connection state.
func (c *Connection) Info() ConnectionInfo {
	info := ConnectionInfo{
		ID:          c.id,
		RemoteAddr:  c.remoteAddr,
		ConnectedAt: c.connectedAt,
		LinesSent:   c.linesSent.Load(),
		BytesSent:   c.bytesSent.Load(),
	}
	if ms := c.lastPing.Load(); ms > 0 {
		info.LastPing = time.UnixMilli(ms)
	}
	if ms := c.lastPong.Load(); ms > 0 {
		info.LastPong = time.UnixMilli(ms)
	}
	return info
}

// WriteLine writes text to this connection only.
func (c *Connection) WriteLine(text string) bool {
	lines, payload := encodeLines(text)
	if len(lines) == 0 {
		return true
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.deliverLocked(lines, payload)
}

// deliverLocked writes payload and reports the outcome as events. The
// caller holds writeMu.
func (c *Connection) deliverLocked(lines []string, payload []byte) bool {
	if err := c.writeLocked(payload); err != nil {
		c.server.reportSendError(c, err)
		return false
	}

	c.linesSent.Add(int64(len(lines)))
	c.bytesSent.Add(int64(len(payload)))
	c.server.metrics.recordSent(len(lines), len(payload))
	c.server.emit(Event{Type: EventLineSent, ConnectionID: c.id, Message: lines[len(lines)-1]})
	return true
}

func (c *Connection) writeLocked(payload []byte) error {
	if c.server.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
	}
	_, err := c.conn.Write(payload)
	return err
}

// close shuts the socket once. A close we initiate is not reported as a
// connection error by the reader.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		_ = c.conn.Close()
	})
}
