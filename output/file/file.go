// Package file provides an output that records sent changes to a file,
// either as SHDR lines or as JSON lines.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/mtconnect"
	"github.com/c360/semstreams-mtconnect/shdr"
)

// jsonRecord is one JSON line.
type jsonRecord struct {
	Type    string `json:"type"`
	Written int64  `json:"written"` // Unix milliseconds
	Payload any    `json:"payload"`
}

// Output appends every sent batch to a file
type Output struct {
	name   string
	cfg    Config
	logger *slog.Logger

	// File handling
	file   *os.File
	fileMu sync.Mutex

	// Buffer for batching writes
	buffer   [][]byte
	bufferMu sync.Mutex

	// Lifecycle management
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	// Metrics
	linesWritten atomic.Int64
	bytesWritten atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64
}

var _ module.Sink = (*Output)(nil)

// NewOutput creates a file output. The file is opened by Start.
func NewOutput(cfg Config, deps module.Dependencies) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := deps.InstanceName("file")
	return &Output{
		name:   name,
		cfg:    cfg,
		logger: deps.GetLoggerWithComponent(name),
		buffer: make([][]byte, 0, cfg.BufferSize),
	}, nil
}

// Name returns the instance name.
func (f *Output) Name() string { return f.name }

// Path returns the full path of the output file.
func (f *Output) Path() string {
	return filepath.Join(f.cfg.Directory, f.cfg.Filename())
}

// Start creates the directory, opens the file and starts the flush loop.
func (f *Output) Start(_ context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if f.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Output", "Start", "check running state")
	}

	if err := os.MkdirAll(f.cfg.Directory, 0o755); err != nil {
		return errors.WrapFatal(err, "Output", "Start", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if f.cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(f.Path(), flags, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Output", "Start", "open output file")
	}

	f.fileMu.Lock()
	f.file = file
	f.fileMu.Unlock()

	f.shutdown = make(chan struct{})
	f.wg.Add(1)
	go f.flushLoop(f.shutdown)

	f.mu.Lock()
	f.running = true
	f.startTime = time.Now()
	f.mu.Unlock()

	f.logger.Info("File output started",
		"output_file", f.Path(),
		"format", f.cfg.Format,
		"append", f.cfg.Append,
		"buffer_size", f.cfg.BufferSize)
	return nil
}

// Stop flushes the buffer and closes the file.
func (f *Output) Stop(timeout time.Duration) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.mu.Unlock()

	close(f.shutdown)

	waitCh := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Output", "Stop", "shutdown")
	}

	f.flush()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()
	if f.file != nil {
		if err := f.file.Close(); err != nil {
			f.logger.Warn("Failed to close output file", "error", err, "path", f.Path())
		}
		f.file = nil
	}
	return nil
}

// WriteObservations records an observation batch.
func (f *Output) WriteObservations(batch []mtconnect.Observation) bool {
	return f.record(familyObservations, batch, func() ([]string, error) {
		return shdr.FormatObservations(f.cfg.shdrFormat(), batch)
	})
}

// WriteAssets records an asset batch.
func (f *Output) WriteAssets(batch []mtconnect.Asset) bool {
	return f.record(familyAssets, batch, func() ([]string, error) {
		return shdr.FormatAssets(f.cfg.shdrFormat(), batch)
	})
}

// WriteDevices records a device batch.
func (f *Output) WriteDevices(batch []mtconnect.Device) bool {
	return f.record(familyDevices, batch, func() ([]string, error) {
		return shdr.FormatDevices(f.cfg.shdrFormat(), batch)
	})
}

// WriteRemoval records a removal.
func (f *Output) WriteRemoval(r mtconnect.Removal) bool {
	return f.record(familyControl, r, func() ([]string, error) {
		line, err := shdr.FormatRemoval(f.cfg.shdrFormat(), r)
		if err != nil {
			return nil, err
		}
		return []string{line}, nil
	})
}

const (
	familyObservations = "observations"
	familyAssets       = "assets"
	familyDevices      = "devices"
	familyControl      = "control"
)

// record encodes a batch in the configured format and buffers it. It
// reports false only when the batch cannot be encoded.
func (f *Output) record(family string, payload any, render func() ([]string, error)) bool {
	var lines [][]byte
	switch f.cfg.Format {
	case FormatJSONL:
		data, err := json.Marshal(jsonRecord{Type: family, Written: time.Now().UnixMilli(), Payload: payload})
		if err != nil {
			f.errors.Add(1)
			f.logger.Error("Failed to encode batch", "family", family, "error", err)
			return false
		}
		lines = append(lines, data)
	default:
		rendered, err := render()
		if err != nil {
			f.errors.Add(1)
			f.logger.Error("Failed to render batch", "family", family, "error", err)
			return false
		}
		for _, line := range rendered {
			lines = append(lines, []byte(line))
		}
	}

	f.bufferMu.Lock()
	f.buffer = append(f.buffer, lines...)
	shouldFlush := len(f.buffer) >= f.cfg.BufferSize
	f.bufferMu.Unlock()

	if shouldFlush {
		f.flush()
	}
	f.lastActivity.Store(time.Now().UnixMilli())
	return true
}

// flushLoop periodically flushes the buffer
func (f *Output) flushLoop(shutdown <-chan struct{}) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.FlushInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

// flush writes buffered lines to the file
func (f *Output) flush() {
	f.bufferMu.Lock()
	if len(f.buffer) == 0 {
		f.bufferMu.Unlock()
		return
	}
	lines := f.buffer
	f.buffer = make([][]byte, 0, f.cfg.BufferSize)
	f.bufferMu.Unlock()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.file == nil {
		f.errors.Add(int64(len(lines)))
		f.logger.Error("File handle is nil during flush", "lines_lost", len(lines))
		return
	}

	for _, line := range lines {
		n, err := f.file.Write(append(line, '\n'))
		if err != nil {
			f.errors.Add(1)
			f.logger.Error("Failed to write line to file", "error", err)
			continue
		}
		f.linesWritten.Add(1)
		f.bytesWritten.Add(int64(n))
	}
}

// Health returns the current health status
func (f *Output) Health() health.Status {
	f.mu.RLock()
	running := f.running
	startTime := f.startTime
	f.mu.RUnlock()

	if !running {
		return health.Unhealthy(f.name, "not running")
	}

	status := health.Healthy(f.name, "writing "+f.Path())
	if n := f.errors.Load(); n > 0 {
		status = health.Degraded(f.name, fmt.Sprintf("%d write errors", n))
	}

	m := &health.Metrics{
		Uptime:     time.Since(startTime),
		ErrorCount: f.errors.Load(),
		ItemsSent:  f.linesWritten.Load(),
	}
	if ms := f.lastActivity.Load(); ms > 0 {
		m.LastActivity = time.UnixMilli(ms)
	}
	return status.WithMetrics(m)
}

// Register registers the file output with the module registry
func Register(registry *module.Registry) error {
	return registry.Register(module.Registration{
		Name:        "file",
		Kind:        module.KindOutput,
		Description: "Records sent changes to a file as SHDR or JSON lines",
		Factory:     CreateOutput,
	})
}

// CreateOutput creates a file output from raw JSON config
func CreateOutput(rawConfig json.RawMessage, deps module.Dependencies) (module.Module, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "file-output-factory", "create", "parse config")
		}
	}
	return NewOutput(cfg, deps)
}
