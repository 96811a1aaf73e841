package mtconnect

// RemovalKind names what a Removal forgets.
type RemovalKind string

const (
	RemoveAsset     RemovalKind = "remove_asset"
	RemoveAllAssets RemovalKind = "remove_all_assets"
	RemoveDevice    RemovalKind = "remove_device"
)

// Removal tells readers to forget an asset, a type of assets or a device.
// For RemoveAllAssets the Key is the asset type; empty means every asset.
type Removal struct {
	Kind      RemovalKind `json:"kind"`
	Key       string      `json:"key"`
	Timestamp int64       `json:"timestamp,omitempty"`
}
