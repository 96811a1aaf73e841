package mtconnect

// Asset is an opaque asset document, such as a cutting tool definition.
type Asset struct {
	AssetID   string `json:"asset_id"`
	Type      string `json:"type"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Key returns the asset id.
func (a Asset) Key() string { return a.AssetID }

// ChangeID fingerprints the asset id, type and body.
func (a Asset) ChangeID() ChangeID {
	h := &hasher{}
	h.str(a.AssetID)
	h.str(a.Type)
	h.str(a.Body)
	return h.sum()
}

func (a Asset) Clone() Asset { return a }

func (a Asset) WithTimestamp(ts int64) Asset {
	a.Timestamp = ts
	return a
}

// Device is an opaque device model document.
type Device struct {
	DeviceKey string `json:"device_key"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Key returns the device key.
func (d Device) Key() string { return d.DeviceKey }

// ChangeID fingerprints the device key and body.
func (d Device) ChangeID() ChangeID {
	h := &hasher{}
	h.str(d.DeviceKey)
	h.str(d.Body)
	return h.sum()
}

func (d Device) Clone() Device { return d }

func (d Device) WithTimestamp(ts int64) Device {
	d.Timestamp = ts
	return d
}
