package adapter

import (
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// Writers deliver batches to readers. Each returns true only if the whole
// batch was delivered.
type Writers struct {
	Observations func([]mtconnect.Observation) bool
	Assets       func([]mtconnect.Asset) bool
	Devices      func([]mtconnect.Device) bool

	// Control delivers removals. It is optional; when nil removals only
	// change the cache.
	Control func(mtconnect.Removal) bool
}

// Hooks are optional callbacks invoked by the adapter. They run on the
// calling goroutine, outside any cache lock.
type Hooks struct {
	OnStart          func()
	OnStop           func()
	OnObservationAdd func(mtconnect.Observation)
	OnAssetAdd       func(mtconnect.Asset)
	OnDeviceAdd      func(mtconnect.Device)
}

// Ingest is the write side of the adapter used by data sources.
type Ingest interface {
	AddObservation(obs mtconnect.Observation) bool
	AddAsset(asset mtconnect.Asset) bool
	AddDevice(device mtconnect.Device) bool
	RemoveAsset(assetID string, ts int64) bool
	RemoveAllAssets(assetType string, ts int64) bool
	RemoveDevice(deviceKey string, ts int64) bool
}

// Replayer replays the last sent state into the writers of one newly
// connected reader, then runs attach so the reader joins the shared
// writers before the next flush commits.
type Replayer interface {
	AttachReader(ts int64, writers Writers, attach func()) bool
}

var (
	_ Ingest   = (*Adapter)(nil)
	_ Replayer = (*Adapter)(nil)
)
