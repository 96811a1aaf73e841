package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// Envelope types
const (
	TypeObservations = "observations"
	TypeAssets       = "assets"
	TypeDevices      = "devices"
	TypeRemoval      = "removal"
)

// MessageEnvelope wraps every WebSocket message with type discrimination
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// clientInfo holds information about a connected WebSocket client
type clientInfo struct {
	conn         *websocket.Conn
	connectedAt  time.Time
	messagesSent atomic.Int64
	lastPong     atomic.Int64
	closed       atomic.Bool
	closeOnce    sync.Once
	writeMutex   sync.Mutex // gorilla/websocket panics on concurrent writes
}

// Output mirrors adapter batches to WebSocket clients.
type Output struct {
	name    string
	cfg     Config
	replay  adapter.Replayer
	logger  *slog.Logger
	metrics *Metrics

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex

	// Lifecycle management
	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	shutdown  chan struct{}
	running   bool
	startTime time.Time
	wg        sync.WaitGroup

	messagesSent atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64
}

var _ module.Sink = (*Output)(nil)

// NewOutput creates a WebSocket output. It does not listen until Start.
func NewOutput(cfg Config, deps module.Dependencies) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.InstanceName("websocket")
	metrics, err := newMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Output", "NewOutput", "metrics registration")
	}

	return &Output{
		name:    name,
		cfg:     cfg,
		replay:  deps.Replay,
		logger:  deps.GetLoggerWithComponent(name),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*clientInfo),
	}, nil
}

// Name returns the instance name.
func (w *Output) Name() string { return w.name }

// Addr returns the bound address, or "" before Start.
func (w *Output) Addr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

// Start begins serving WebSocket clients
func (w *Output) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Output", "Start", "state check")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Output", "Start", "context already cancelled or timed out")
	}

	address := net.JoinHostPort(w.cfg.Bind, strconv.Itoa(w.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return errors.WrapTransient(err, "Output", "Start", fmt.Sprintf("listen on %s", address))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleWebSocket)
	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.listener = ln
	w.shutdown = make(chan struct{})
	w.running = true
	w.startTime = time.Now()

	server, shutdown := w.server, w.shutdown
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.runServer(server, ln)
	}()
	go func() {
		defer w.wg.Done()
		w.maintainClients(shutdown)
	}()

	w.logger.Info("WebSocket output listening", "address", ln.Addr().String(), "path", w.cfg.Path)
	return nil
}

func (w *Output) runServer(server *http.Server, ln net.Listener) {
	if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		w.errors.Add(1)
		w.metrics.recordError("server")
		w.logger.Error("HTTP server failed", "error", err)
	}
}

// Stop closes the server and every client
func (w *Output) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.shutdown)
	server := w.server
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownErr := server.Shutdown(ctx)

	// hijacked connections are not closed by Shutdown
	w.closeAllClients()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), "Output", "Stop", "graceful shutdown")
	}

	if shutdownErr != nil {
		return errors.WrapTransient(shutdownErr, "Output", "Stop", "http server shutdown")
	}
	return nil
}

func (w *Output) closeAllClients() {
	w.clientsMu.RLock()
	clients := make(map[*websocket.Conn]*clientInfo, len(w.clients))
	for conn, info := range w.clients {
		clients[conn] = info
	}
	w.clientsMu.RUnlock()

	for conn, info := range clients {
		w.removeClient(conn, info, "shutdown")
	}
}

// handleWebSocket upgrades a request, replays the last sent state to the
// new client and then registers it for broadcasts.
func (w *Output) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.errors.Add(1)
		w.metrics.recordError("connection_upgrade")
		return
	}

	info := &clientInfo{conn: conn, connectedAt: time.Now()}
	info.lastPong.Store(time.Now().UnixMilli())

	attach := func() { w.addClient(conn, info) }
	if w.replay != nil && w.cfg.replay() {
		if !w.replay.AttachReader(0, w.clientWriters(conn, info), attach) {
			w.logger.Debug("Replay to new client incomplete", "remote", conn.RemoteAddr().String())
		}
	} else {
		attach()
	}

	w.wg.Add(1)
	go w.handleClient(conn, info)
}

// addClient registers a client for broadcasts. A client added after Stop
// took its snapshot is closed here.
func (w *Output) addClient(conn *websocket.Conn, info *clientInfo) {
	w.clientsMu.Lock()
	w.clients[conn] = info
	count := len(w.clients)
	w.clientsMu.Unlock()
	w.metrics.recordConnect(count)

	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		w.removeClient(conn, info, "shutdown")
		return
	}
	w.logger.Debug("WebSocket client connected", "remote", conn.RemoteAddr().String(), "clients", count)
}

// clientWriters writes to one client only.
func (w *Output) clientWriters(conn *websocket.Conn, info *clientInfo) adapter.Writers {
	send := func(msgType string, payload any) bool {
		data, err := w.encode(msgType, payload)
		if err != nil {
			return false
		}
		info.writeMutex.Lock()
		err = w.writeLocked(conn, data)
		info.writeMutex.Unlock()
		if err != nil {
			return false
		}
		info.messagesSent.Add(1)
		w.metrics.recordSent(msgType, len(data))
		return true
	}
	return adapter.Writers{
		Observations: func(b []mtconnect.Observation) bool { return send(TypeObservations, b) },
		Assets:       func(b []mtconnect.Asset) bool { return send(TypeAssets, b) },
		Devices:      func(b []mtconnect.Device) bool { return send(TypeDevices, b) },
	}
}

// handleClient reads until the client goes away. Clients only send pongs
// and close frames; any other message is ignored.
func (w *Output) handleClient(conn *websocket.Conn, info *clientInfo) {
	defer w.wg.Done()
	defer w.removeClient(conn, info, "normal")

	readTimeout := time.Duration(w.cfg.ReadTimeout)
	conn.SetPongHandler(func(string) error {
		info.lastPong.Store(time.Now().UnixMilli())
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection with atomic cleanup
func (w *Output) removeClient(conn *websocket.Conn, info *clientInfo, reason string) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)

		w.clientsMu.Lock()
		delete(w.clients, conn)
		count := len(w.clients)
		w.clientsMu.Unlock()

		w.metrics.recordDisconnect(reason, count)
		_ = conn.Close()
	})
}

func (w *Output) encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		w.errors.Add(1)
		w.metrics.recordError("payload_marshal")
		w.logger.Error("Failed to encode batch", "type", msgType, "error", err)
		return nil, errors.WrapInvalid(err, "Output", "encode", "marshal payload")
	}

	data, err := json.Marshal(MessageEnvelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	})
	if err != nil {
		w.errors.Add(1)
		w.metrics.recordError("envelope_marshal")
		return nil, errors.WrapInvalid(err, "Output", "encode", "marshal envelope")
	}
	return data, nil
}

// broadcast sends a batch to every client concurrently. Failing clients
// are removed; only an encoding failure fails the batch.
func (w *Output) broadcast(msgType string, payload any) bool {
	data, err := w.encode(msgType, payload)
	if err != nil {
		return false
	}

	start := time.Now()
	w.clientsMu.RLock()
	clients := make(map[*websocket.Conn]*clientInfo, len(w.clients))
	for conn, info := range w.clients {
		if !info.closed.Load() {
			clients[conn] = info
		}
	}
	w.clientsMu.RUnlock()

	var wg sync.WaitGroup
	for conn, info := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.sendToClient(conn, info, msgType, data)
		}()
	}
	wg.Wait()

	w.messagesSent.Add(1)
	w.lastActivity.Store(time.Now().UnixMilli())
	w.metrics.recordBroadcast(msgType, time.Since(start).Seconds())
	return true
}

func (w *Output) sendToClient(conn *websocket.Conn, info *clientInfo, msgType string, data []byte) {
	info.writeMutex.Lock()
	err := w.writeLocked(conn, data)
	info.writeMutex.Unlock()

	if err != nil {
		w.errors.Add(1)
		w.metrics.recordError("write")
		w.logger.Debug("Dropping WebSocket client after write error", "remote", conn.RemoteAddr().String(), "error", err)
		w.removeClient(conn, info, "write_error")
		return
	}
	info.messagesSent.Add(1)
	w.metrics.recordSent(msgType, len(data))
}

func (w *Output) writeLocked(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Duration(w.cfg.WriteTimeout)))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// maintainClients pings clients periodically
func (w *Output) maintainClients(shutdown <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(w.cfg.PingInterval))
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			w.pingClients()
		}
	}
}

func (w *Output) pingClients() {
	w.clientsMu.RLock()
	clients := make(map[*websocket.Conn]*clientInfo, len(w.clients))
	for conn, info := range w.clients {
		clients[conn] = info
	}
	w.clientsMu.RUnlock()

	deadline := time.Now().Add(time.Duration(w.cfg.WriteTimeout))
	for conn, info := range clients {
		if info.closed.Load() {
			continue
		}
		info.writeMutex.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, deadline)
		info.writeMutex.Unlock()
		if err != nil {
			w.errors.Add(1)
			w.removeClient(conn, info, "ping_failed")
		}
	}
}

// ClientCount returns the number of connected clients.
func (w *Output) ClientCount() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// WriteObservations mirrors an observation batch.
func (w *Output) WriteObservations(batch []mtconnect.Observation) bool {
	return w.broadcast(TypeObservations, batch)
}

// WriteAssets mirrors an asset batch.
func (w *Output) WriteAssets(batch []mtconnect.Asset) bool {
	return w.broadcast(TypeAssets, batch)
}

// WriteDevices mirrors a device batch.
func (w *Output) WriteDevices(batch []mtconnect.Device) bool {
	return w.broadcast(TypeDevices, batch)
}

// WriteRemoval mirrors a removal.
func (w *Output) WriteRemoval(r mtconnect.Removal) bool {
	return w.broadcast(TypeRemoval, r)
}

// Health returns the current health status
func (w *Output) Health() health.Status {
	w.mu.Lock()
	running := w.running
	startTime := w.startTime
	w.mu.Unlock()

	if !running {
		return health.Unhealthy(w.name, "not running")
	}

	m := &health.Metrics{
		Uptime:      time.Since(startTime),
		ErrorCount:  w.errors.Load(),
		Connections: w.ClientCount(),
		ItemsSent:   w.messagesSent.Load(),
	}
	if ms := w.lastActivity.Load(); ms > 0 {
		m.LastActivity = time.UnixMilli(ms)
	}
	return health.Healthy(w.name, fmt.Sprintf("%d clients", m.Connections)).WithMetrics(m)
}

// Register registers the WebSocket output with the module registry
func Register(registry *module.Registry) error {
	return registry.Register(module.Registration{
		Name:        "websocket",
		Kind:        module.KindOutput,
		Description: "WebSocket JSON mirror of flushed batches",
		Factory:     CreateOutput,
	})
}

// CreateOutput creates a WebSocket output from raw JSON config
func CreateOutput(rawConfig json.RawMessage, deps module.Dependencies) (module.Module, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "websocket-output-factory", "create", "parse config")
		}
	}
	return NewOutput(cfg, deps)
}
