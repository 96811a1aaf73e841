package adapter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/health"
	"github.com/c360/semstreams-mtconnect/metric"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. The adapter adds its own component attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics registers adapter metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(a *Adapter) {
		a.registry = registry
	}
}

// WithHooks installs lifecycle and ingestion callbacks.
func WithHooks(hooks Hooks) Option {
	return func(a *Adapter) {
		a.hooks = hooks
	}
}

// WithErrorHandler receives every worker flush failure and recovered panic.
func WithErrorHandler(fn func(error)) Option {
	return func(a *Adapter) {
		a.onError = fn
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// Adapter tracks observation, asset and device state and flushes changes
// to its writers.
type Adapter struct {
	cfg      Config
	writers  Writers
	hooks    Hooks
	onError  func(error)
	now      func() time.Time
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *Metrics

	// limits repeated flush failure logs from the worker
	errLimiter *rate.Limiter

	observations *observationFamily
	assets       *family[mtconnect.Asset]
	devices      *family[mtconnect.Device]

	// serializes every write that commits or replays lastSent, and the
	// attach of new readers, so commits land in order and a reader
	// attached after a replay sees every later commit
	flushMu sync.Mutex

	// Lifecycle management
	lifecycleMu sync.Mutex
	running     atomic.Bool
	cancel      context.CancelFunc
	done        chan struct{}
	wg          sync.WaitGroup
	startTime   time.Time

	// Health counters
	failures     atomic.Int64
	itemsSent    atomic.Int64
	lastActivity atomic.Int64
	lastFlushOK  atomic.Bool
}

// New creates an adapter. A nil writer always fails.
func New(cfg Config, writers Writers, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	a := &Adapter{
		cfg:        cfg,
		hooks:      Hooks{},
		now:        time.Now,
		logger:     slog.Default(),
		errLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		assets:     newFamily[mtconnect.Asset](familyAssets),
		devices:    newFamily[mtconnect.Device](familyDevices),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger = a.logger.With("component", "adapter")
	a.lastFlushOK.Store(true)

	metrics, err := newMetrics(a.registry)
	if err != nil {
		return nil, errors.WrapTransient(err, "Adapter", "New", "metrics registration")
	}
	a.metrics = metrics

	observations, err := newObservationFamily(cfg.BufferCapacity, a.registry)
	if err != nil {
		return nil, errors.WrapTransient(err, "Adapter", "New", "buffer creation")
	}
	a.observations = observations

	a.writers = a.guardWriters(writers)
	return a, nil
}

// guardWriters replaces nil batch writers with ones that log and fail.
func (a *Adapter) guardWriters(w Writers) Writers {
	if w.Observations == nil {
		w.Observations = func([]mtconnect.Observation) bool {
			a.logNoWriter(familyObservations)
			return false
		}
	}
	if w.Assets == nil {
		w.Assets = func([]mtconnect.Asset) bool {
			a.logNoWriter(familyAssets)
			return false
		}
	}
	if w.Devices == nil {
		w.Devices = func([]mtconnect.Device) bool {
			a.logNoWriter(familyDevices)
			return false
		}
	}
	return w
}

func (a *Adapter) logNoWriter(family string) {
	if a.errLimiter.Allow() {
		a.logger.Warn("No writer configured", "family", family, "error", errors.ErrNoWriter)
	}
}

// Config returns the adapter configuration.
func (a *Adapter) Config() Config {
	return a.cfg
}

// stamp applies the timestamp policy: caller timestamps are kept only when
// timestamps are output and the value is set.
func (a *Adapter) stamp(ts int64) int64 {
	if !a.cfg.OutputTimestamps || ts <= 0 {
		return mtconnect.Timestamp(a.now())
	}
	return ts
}

// AddObservation stores obs as the current value of its key and queues it
// for buffered delivery. It returns false when obs duplicates the current
// value and duplicates are filtered, or when the key is empty.
func (a *Adapter) AddObservation(obs mtconnect.Observation) bool {
	if obs.DataItemKey == "" {
		a.logger.Debug("Dropping observation with empty key")
		return false
	}

	obs = obs.Clone()
	obs.Timestamp = a.stamp(obs.Timestamp)
	return a.addObservation(obs)
}

// addObservation stores an already stamped copy.
func (a *Adapter) addObservation(obs mtconnect.Observation) bool {
	if !a.observations.add(obs, a.cfg.FilterDuplicates) {
		a.metrics.recordDuplicate(familyObservations)
		return false
	}
	a.metrics.recordAdd()
	a.metrics.setBufferSize(a.observations.queued())

	if a.hooks.OnObservationAdd != nil {
		a.hooks.OnObservationAdd(obs)
	}
	return true
}

// AddAsset stores asset as the current value of its id.
func (a *Adapter) AddAsset(asset mtconnect.Asset) bool {
	if asset.AssetID == "" {
		a.logger.Debug("Dropping asset with empty id")
		return false
	}

	asset.Timestamp = a.stamp(asset.Timestamp)
	if !a.assets.put(asset, a.cfg.FilterDuplicates) {
		a.metrics.recordDuplicate(familyAssets)
		return false
	}

	if a.hooks.OnAssetAdd != nil {
		a.hooks.OnAssetAdd(asset)
	}
	return true
}

// AddDevice stores device as the current value of its key.
func (a *Adapter) AddDevice(device mtconnect.Device) bool {
	if device.DeviceKey == "" {
		a.logger.Debug("Dropping device with empty key")
		return false
	}

	device.Timestamp = a.stamp(device.Timestamp)
	if !a.devices.put(device, a.cfg.FilterDuplicates) {
		a.metrics.recordDuplicate(familyDevices)
		return false
	}

	if a.hooks.OnDeviceAdd != nil {
		a.hooks.OnDeviceAdd(device)
	}
	return true
}

// SendObservation writes obs immediately. The key is removed from the
// current state before the write, so a failed send is not retried.
func (a *Adapter) SendObservation(obs mtconnect.Observation) bool {
	obs = obs.Clone()
	obs.Timestamp = a.stamp(obs.Timestamp)

	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.observations.take(obs.Key())
	return writeAndCommit(a, a.observations.family, familyObservations, a.writers.Observations,
		[]mtconnect.Observation{obs})
}

// SendAsset writes asset immediately, bypassing change tracking.
func (a *Adapter) SendAsset(asset mtconnect.Asset) bool {
	asset.Timestamp = a.stamp(asset.Timestamp)

	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.assets.take(asset.Key())
	return writeAndCommit(a, a.assets, familyAssets, a.writers.Assets, []mtconnect.Asset{asset})
}

// SendDevice writes device immediately, bypassing change tracking.
func (a *Adapter) SendDevice(device mtconnect.Device) bool {
	device.Timestamp = a.stamp(device.Timestamp)

	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.devices.take(device.Key())
	return writeAndCommit(a, a.devices, familyDevices, a.writers.Devices, []mtconnect.Device{device})
}

// WriteChangedObservations writes every observation whose value changed
// since it was last written.
func (a *Adapter) WriteChangedObservations() bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	return a.writeChangedObservations()
}

// WriteChangedAssets writes every asset that changed since it was last written.
func (a *Adapter) WriteChangedAssets() bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	return a.writeChangedAssets()
}

// WriteChangedDevices writes every device that changed since it was last written.
func (a *Adapter) WriteChangedDevices() bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	return a.writeChangedDevices()
}

func (a *Adapter) writeChangedObservations() bool {
	return writeAndCommit(a, a.observations.family, familyObservations, a.writers.Observations,
		a.observations.changed())
}

func (a *Adapter) writeChangedAssets() bool {
	return writeAndCommit(a, a.assets, familyAssets, a.writers.Assets, a.assets.changed())
}

func (a *Adapter) writeChangedDevices() bool {
	return writeAndCommit(a, a.devices, familyDevices, a.writers.Devices, a.devices.changed())
}

// WriteBufferObservations drains up to count queued observations, oldest
// first, and writes them. Drained entries are not requeued when the write
// fails.
func (a *Adapter) WriteBufferObservations(count int) bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	return a.writeBufferObservations(count)
}

func (a *Adapter) writeBufferObservations(count int) bool {
	batch := a.observations.drain(count)
	a.metrics.setBufferSize(a.observations.queued())
	return writeAndCommit(a, a.observations.family, familyObservations, a.writers.Observations, batch)
}

// WriteLastObservations replays the last written observations. A positive
// ts re-stamps the copies.
func (a *Adapter) WriteLastObservations(ts int64) bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	return deliver(a, familyObservations, a.writers.Observations, a.observations.last(ts))
}

// WriteLastAssets replays the last written assets.
func (a *Adapter) WriteLastAssets(ts int64) bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	return deliver(a, familyAssets, a.writers.Assets, a.assets.last(ts))
}

// WriteLastDevices replays the last written devices.
func (a *Adapter) WriteLastDevices(ts int64) bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	return deliver(a, familyDevices, a.writers.Devices, a.devices.last(ts))
}

// SendChanged flushes changed observations, then assets, then devices,
// stopping at the first family that fails.
func (a *Adapter) SendChanged() bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	start := a.now()
	ok := a.writeChangedObservations() &&
		a.writeChangedAssets() &&
		a.writeChangedDevices()
	a.finishFlush(modeChanged, start, ok)
	return ok
}

// SendBuffer drains the observation buffer, then flushes changed assets and
// devices, stopping at the first family that fails.
func (a *Adapter) SendBuffer() bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	start := a.now()
	ok := a.writeBufferObservations(a.cfg.BufferDrainCount) &&
		a.writeChangedAssets() &&
		a.writeChangedDevices()
	a.finishFlush(modeBuffer, start, ok)
	return ok
}

// Flush runs the strategy selected by the configuration.
func (a *Adapter) Flush() bool {
	if a.cfg.EnableBuffer {
		return a.SendBuffer()
	}
	return a.SendChanged()
}

// SendLast replays the last written state of every family to the
// adapter's writers.
func (a *Adapter) SendLast(ts int64) bool {
	return a.SendLastWith(ts, a.writers)
}

// SendLastWith replays the last written state into writers, which usually
// target one newly connected reader. Nothing is committed.
func (a *Adapter) SendLastWith(ts int64, writers Writers) bool {
	return a.AttachReader(ts, writers, nil)
}

// AttachReader replays the last written state into writers and then runs
// attach before any other flush can commit. A reader that attach makes
// visible to the shared writers therefore receives every batch committed
// after its replay, and the replay holds every batch committed before.
//
// attach must not call back into the adapter.
func (a *Adapter) AttachReader(ts int64, writers Writers, attach func()) bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	start := a.now()
	ok := deliver(a, familyObservations, writers.Observations, a.observations.last(ts)) &&
		deliver(a, familyAssets, writers.Assets, a.assets.last(ts)) &&
		deliver(a, familyDevices, writers.Devices, a.devices.last(ts))
	a.metrics.recordFlush(modeLast, a.now().Sub(start).Seconds())

	if attach != nil {
		attach()
	}
	return ok
}

// SetUnavailable marks every current observation unavailable at ts. The
// markers keep ts whatever the timestamp policy; a ts of 0 stamps now.
// Already unavailable keys are filtered as duplicates when filtering is on.
func (a *Adapter) SetUnavailable(ts int64) {
	if ts <= 0 {
		ts = mtconnect.Timestamp(a.now())
	}
	for _, obs := range a.observations.snapshot() {
		a.addObservation(obs.AsUnavailable(ts))
	}
}

// RemoveAsset forgets an asset and notifies readers.
func (a *Adapter) RemoveAsset(assetID string, ts int64) bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.assets.forget(func(asset mtconnect.Asset) bool {
		return asset.AssetID == assetID
	})
	return a.control(mtconnect.Removal{Kind: mtconnect.RemoveAsset, Key: assetID, Timestamp: a.stamp(ts)})
}

// RemoveAllAssets forgets every asset of assetType, or every asset when
// assetType is empty, and notifies readers.
func (a *Adapter) RemoveAllAssets(assetType string, ts int64) bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.assets.forget(func(asset mtconnect.Asset) bool {
		return assetType == "" || asset.Type == assetType
	})
	return a.control(mtconnect.Removal{Kind: mtconnect.RemoveAllAssets, Key: assetType, Timestamp: a.stamp(ts)})
}

// RemoveDevice forgets a device and the observations qualified by it, and
// notifies readers.
func (a *Adapter) RemoveDevice(deviceKey string, ts int64) bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.devices.forget(func(d mtconnect.Device) bool {
		return d.DeviceKey == deviceKey
	})
	a.observations.forget(func(o mtconnect.Observation) bool {
		return o.DeviceKey == deviceKey
	})
	return a.control(mtconnect.Removal{Kind: mtconnect.RemoveDevice, Key: deviceKey, Timestamp: a.stamp(ts)})
}

func (a *Adapter) control(r mtconnect.Removal) bool {
	if a.writers.Control == nil {
		return true
	}
	ok := a.writers.Control(r)
	a.metrics.recordWrite(familyControl, 1, ok)
	if !ok {
		a.logger.Warn("Removal not delivered", "kind", r.Kind, "key", r.Key)
	}
	return ok
}

// CurrentObservation returns a copy of the current value of key.
func (a *Adapter) CurrentObservation(key string) (mtconnect.Observation, bool) {
	return a.observations.get(key)
}

// CurrentAsset returns a copy of the current value of an asset id.
func (a *Adapter) CurrentAsset(assetID string) (mtconnect.Asset, bool) {
	return a.assets.get(assetID)
}

// LastObservations returns the last written observations, ordered by key.
func (a *Adapter) LastObservations() []mtconnect.Observation {
	return a.observations.last(0)
}

// LastAssets returns the last written assets, ordered by id.
func (a *Adapter) LastAssets() []mtconnect.Asset {
	return a.assets.last(0)
}

// LastDevices returns the last written devices, ordered by key.
func (a *Adapter) LastDevices() []mtconnect.Device {
	return a.devices.last(0)
}

// BufferLen returns the number of queued observations.
func (a *Adapter) BufferLen() int {
	return a.observations.queued()
}

// Health reports the adapter state. A running adapter whose last flush
// failed is degraded.
func (a *Adapter) Health() health.Status {
	var status health.Status
	switch {
	case !a.running.Load():
		status = health.Unhealthy("adapter", "not running")
	case !a.lastFlushOK.Load():
		status = health.Degraded("adapter", "last flush failed")
	default:
		status = health.Healthy("adapter", "running")
	}

	a.lifecycleMu.Lock()
	startTime := a.startTime
	a.lifecycleMu.Unlock()

	m := &health.Metrics{
		ErrorCount: a.failures.Load(),
		ItemsSent:  a.itemsSent.Load(),
	}
	if !startTime.IsZero() {
		m.Uptime = time.Since(startTime)
	}
	if last := a.lastActivity.Load(); last > 0 {
		m.LastActivity = mtconnect.Time(last)
	}
	return status.WithMetrics(m)
}

func (a *Adapter) finishFlush(mode string, start time.Time, ok bool) {
	a.metrics.recordFlush(mode, a.now().Sub(start).Seconds())
	a.lastFlushOK.Store(ok)
}

// writeAndCommit writes batch and, on success, records it as last sent.
func writeAndCommit[T entry[T]](a *Adapter, f *family[T], name string, write func([]T) bool, batch []T) bool {
	if !deliver(a, name, write, batch) {
		return false
	}
	f.commit(batch)
	return true
}

// deliver calls write outside any lock. An empty batch succeeds without a
// call; a nil writer fails.
func deliver[T any](a *Adapter, name string, write func([]T) bool, batch []T) bool {
	if len(batch) == 0 {
		return true
	}
	if write == nil {
		a.logNoWriter(name)
		return false
	}

	ok := write(batch)
	a.metrics.recordWrite(name, len(batch), ok)
	if ok {
		a.itemsSent.Add(int64(len(batch)))
		a.lastActivity.Store(mtconnect.Timestamp(a.now()))
	} else {
		a.failures.Add(1)
	}
	return ok
}
