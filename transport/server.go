package transport

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/pkg/retry"
	"github.com/c360/semstreams-mtconnect/shdr"
)

// ConnectHandler runs on the accept path for every new connection. Lines
// written through w go only to the new connection. The connection receives
// broadcasts once attach has run; attach is idempotent and runs after the
// handler returns if the handler did not call it.
type ConnectHandler func(info ConnectionInfo, w LineWriter, attach func())

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics registers transport metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) ServerOption {
	return func(s *Server) {
		s.registryMetrics = registry
	}
}

// WithListener installs a synchronous event listener.
func WithListener(l Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

// WithConnectHandler installs the handler run for each new connection.
func WithConnectHandler(h ConnectHandler) ServerOption {
	return func(s *Server) {
		s.onConnect = h
	}
}

// WithRetryConfig overrides the retry policy used to bind the listener.
func WithRetryConfig(cfg retry.Config) ServerOption {
	return func(s *Server) {
		s.retryConfig = cfg
	}
}

// Server is the agent-facing TCP listener and fan-out writer.
type Server struct {
	cfg         ServerConfig
	logger      *slog.Logger
	listener    Listener
	onConnect   ConnectHandler
	retryConfig retry.Config

	registryMetrics *metric.MetricsRegistry
	metrics         *Metrics

	conns  *Registry
	events chan Event

	// limits per-connection send error logs
	warnLimiter *rate.Limiter

	// Lifecycle management
	mu        sync.Mutex
	ln        net.Listener
	shutdown  chan struct{}
	running   atomic.Bool
	wg        sync.WaitGroup
	startTime time.Time

	eventsDropped atomic.Int64
	sendErrors    atomic.Int64
}

// NewServer creates a listener. It does not bind until Start.
func NewServer(cfg ServerConfig, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &Server{
		cfg:         cfg,
		logger:      slog.Default(),
		retryConfig: retry.Quick(),
		conns:       newRegistry(),
		events:      make(chan Event, cfg.EventBuffer),
		warnLimiter: rate.NewLimiter(rate.Every(5*time.Second), 5),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With("component", "transport", "listener", cfg.Name)

	metrics, err := newMetrics(s.registryMetrics, cfg.Name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Server", "NewServer", "metrics registration")
	}
	s.metrics = metrics
	return s, nil
}

// Events returns the event channel. It is never closed.
func (s *Server) Events() <-chan Event {
	return s.events
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "state check")
	}

	address := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	ln, err := retry.DoWithResult(ctx, s.retryConfig, func() (net.Listener, error) {
		return lc.Listen(ctx, "tcp", address)
	})
	if err != nil {
		return errors.WrapTransient(err, "Server", "Start", fmt.Sprintf("listen on %s", address))
	}

	s.ln = ln
	s.shutdown = make(chan struct{})
	s.startTime = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln, s.shutdown)
	}()

	// a cancelled context stops accepting new connections
	shutdown := s.shutdown
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-shutdown:
		}
	}()

	s.logger.Info("Listening for agents", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop(ln net.Listener, shutdown <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-shutdown:
				return
			default:
			}
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.handleConnect(conn)
	}
}

// handleConnect runs the connect handler and then registers conn, unless
// the handler already attached it.
func (s *Server) handleConnect(nc net.Conn) {
	c := &Connection{
		id:          uuid.NewString(),
		conn:        nc,
		remoteAddr:  nc.RemoteAddr().String(),
		connectedAt: time.Now(),
		server:      s,
	}

	var once sync.Once
	attach := func() {
		once.Do(func() { s.attach(c) })
	}
	if s.onConnect != nil {
		s.runConnectHandler(c, attach)
	}
	attach()

	s.logger.Info("Agent connected", "connection_id", c.id, "remote", c.remoteAddr)
	s.emit(Event{Type: EventConnected, ConnectionID: c.id, Message: c.remoteAddr})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

func (s *Server) runConnectHandler(c *Connection, attach func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Connect handler panicked", "connection_id", c.id, "panic", r)
		}
	}()
	s.onConnect(c.Info(), c, attach)
}

// attach makes c visible to broadcasts. A Stop that snapshotted the
// registry before the add has already cleared running, so c is closed here
// instead.
func (s *Server) attach(c *Connection) {
	s.conns.add(c)
	s.metrics.recordConnect(s.conns.Len())
	if !s.running.Load() {
		c.close()
	}
}

// readLoop answers heartbeats until the connection closes.
func (s *Server) readLoop(c *Connection) {
	scanner := bufio.NewScanner(c.conn)
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		if !scanner.Scan() {
			break
		}

		line := scanner.Text()
		if !shdr.IsPing(line) {
			s.logger.Debug("Ignoring agent line", "connection_id", c.id, "line", line)
			continue
		}
		s.handlePing(c)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.disconnect(c, err)
}

func (s *Server) handlePing(c *Connection) {
	now := time.Now()
	c.lastPing.Store(now.UnixMilli())
	s.metrics.recordPing()
	s.emit(Event{Type: EventPingReceived, ConnectionID: c.id})

	pong := shdr.PongLine(s.cfg.Heartbeat)
	c.writeMu.Lock()
	err := c.writeLocked([]byte(pong + "\n"))
	c.writeMu.Unlock()
	if err != nil {
		s.reportSendError(c, err)
		return
	}

	c.lastPong.Store(time.Now().UnixMilli())
	s.emit(Event{Type: EventPongSent, ConnectionID: c.id, Message: pong})
}

// disconnect removes c once and reports why.
func (s *Server) disconnect(c *Connection, cause error) {
	if !s.conns.remove(c.id) {
		return
	}
	initiated := c.closing.Load()
	c.close()
	s.metrics.recordDisconnect(s.conns.Len())

	if !initiated && !stderrors.Is(cause, io.EOF) {
		s.emit(Event{Type: EventConnectionError, ConnectionID: c.id, Message: cause.Error(), Err: cause})
	}

	s.logger.Info("Agent disconnected", "connection_id", c.id, "remote", c.remoteAddr)
	s.emit(Event{Type: EventDisconnected, ConnectionID: c.id, Message: c.remoteAddr})
}

func (s *Server) reportSendError(c *Connection, err error) {
	s.sendErrors.Add(1)
	s.metrics.recordSendError()
	if s.warnLimiter.Allow() {
		s.logger.Warn("Write to agent failed", "connection_id", c.id, "error", err)
	}
	s.emit(Event{
		Type:         EventSendError,
		ConnectionID: c.id,
		Message:      err.Error(),
		Err:          errors.WrapTransient(err, "Server", "WriteLine", "socket write"),
	})
}

// Stop closes the listener and every connection, then waits up to timeout
// for the accept and reader goroutines.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return nil
	}
	s.running.Store(false)
	close(s.shutdown)
	_ = s.ln.Close()
	s.mu.Unlock()

	for _, c := range s.conns.snapshot() {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Server", "Stop", "graceful shutdown")
	}

	s.logger.Info("Listener stopped")
	return nil
}

// Connections returns a snapshot of every registered connection.
func (s *Server) Connections() []ConnectionInfo {
	conns := s.conns.snapshot()
	infos := make([]ConnectionInfo, len(conns))
	for i, c := range conns {
		infos[i] = c.Info()
	}
	return infos
}

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int {
	return s.conns.Len()
}

// Health reports listener state. Send errors degrade but never fail it.
func (s *Server) Health() health.Status {
	if !s.running.Load() {
		return health.Unhealthy("transport", "listener not running")
	}

	status := health.Healthy("transport", fmt.Sprintf("listening on %s", s.Addr()))
	return status.WithMetrics(&health.Metrics{
		Uptime:      time.Since(s.startTime),
		ErrorCount:  s.sendErrors.Load(),
		Connections: s.conns.Len(),
	})
}
