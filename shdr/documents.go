package shdr

import (
	"strings"

	"github.com/c360/semstreams-mtconnect/mtconnect"
)

const (
	assetCommand           = "@ASSET@"
	deviceCommand          = "@DEVICE@"
	removeAssetCommand     = "@REMOVE_ASSET@"
	removeAllAssetsCommand = "@REMOVE_ALL_ASSETS@"
	removeDeviceCommand    = "@REMOVE_DEVICE@"
)

// FormatAssets renders one entry per asset. In multiline mode an entry
// holds several physical lines separated by "\n".
func FormatAssets(format Format, assets []mtconnect.Asset) ([]string, error) {
	lines := make([]string, 0, len(assets))
	for _, a := range assets {
		if err := checkKey("FormatAssets", a.AssetID); err != nil {
			return nil, err
		}
		if err := checkField("FormatAssets", a.AssetID, a.Type); err != nil {
			return nil, err
		}

		body, err := documentBody("FormatAssets", a.AssetID, a.Body, a.ChangeID(), format.MultilineAssets)
		if err != nil {
			return nil, err
		}
		lines = append(lines, strings.Join([]string{
			format.Timestamp(a.Timestamp), assetCommand, a.AssetID, a.Type, body,
		}, "|"))
	}
	return lines, nil
}

// FormatDevices renders one entry per device document.
func FormatDevices(format Format, devices []mtconnect.Device) ([]string, error) {
	lines := make([]string, 0, len(devices))
	for _, d := range devices {
		if err := checkKey("FormatDevices", d.DeviceKey); err != nil {
			return nil, err
		}

		body, err := documentBody("FormatDevices", d.DeviceKey, d.Body, d.ChangeID(), format.MultilineDevices)
		if err != nil {
			return nil, err
		}
		lines = append(lines, strings.Join([]string{
			format.Timestamp(d.Timestamp), deviceCommand, d.DeviceKey, body,
		}, "|"))
	}
	return lines, nil
}

// documentBody returns the body field. The body is the last field, so it
// may contain pipes. Multiline bodies are fenced by a boundary derived from
// the document's change id.
func documentBody(method, key, body string, id mtconnect.ChangeID, multiline bool) (string, error) {
	if !multiline {
		if err := checkLine(method, key, body); err != nil {
			return "", err
		}
		return body, nil
	}

	boundary := MultilinePrefix + id.String()
	if strings.Contains(body, boundary) {
		return "", renderError(method, "body of %q contains its boundary", key)
	}

	body = strings.ReplaceAll(body, "\r\n", "\n")
	return boundary + "\n" + strings.TrimRight(body, "\n") + "\n" + boundary, nil
}

// RemoveAssetLine renders the control line removing one asset.
func RemoveAssetLine(format Format, assetID string, ts int64) (string, error) {
	if err := checkKey("RemoveAssetLine", assetID); err != nil {
		return "", err
	}
	return strings.Join([]string{format.Timestamp(ts), removeAssetCommand, assetID}, "|"), nil
}

// RemoveAllAssetsLine renders the control line removing every asset of a
// type. An empty type is allowed and removes all assets.
func RemoveAllAssetsLine(format Format, assetType string, ts int64) (string, error) {
	if err := checkField("RemoveAllAssetsLine", "type", assetType); err != nil {
		return "", err
	}
	return strings.Join([]string{format.Timestamp(ts), removeAllAssetsCommand, assetType}, "|"), nil
}

// RemoveDeviceLine renders the control line removing a device.
func RemoveDeviceLine(format Format, deviceKey string, ts int64) (string, error) {
	if err := checkKey("RemoveDeviceLine", deviceKey); err != nil {
		return "", err
	}
	return strings.Join([]string{format.Timestamp(ts), removeDeviceCommand, deviceKey}, "|"), nil
}

// FormatRemoval renders the control line for a removal.
func FormatRemoval(format Format, r mtconnect.Removal) (string, error) {
	switch r.Kind {
	case mtconnect.RemoveAsset:
		return RemoveAssetLine(format, r.Key, r.Timestamp)
	case mtconnect.RemoveAllAssets:
		return RemoveAllAssetsLine(format, r.Key, r.Timestamp)
	case mtconnect.RemoveDevice:
		return RemoveDeviceLine(format, r.Key, r.Timestamp)
	}
	return "", renderError("FormatRemoval", "unknown removal %q", r.Kind)
}
