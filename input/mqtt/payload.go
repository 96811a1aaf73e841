package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360/semstreams-mtconnect/mtconnect"
)

const (
	topicObservations = "observations"
	topicAssets       = "assets"
)

// splitTopic extracts the device and message type from
// "<prefix>/<device>/<type>".
func splitTopic(prefix, topic string) (device, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// decodeObservations accepts three payload forms: an array of
// observations, a single observation object with a "key" field, or a flat
// object of data item values with an optional "timestamp".
func decodeObservations(payload []byte) ([]mtconnect.Observation, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	if trimmed[0] == '[' {
		var batch []mtconnect.Observation
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	if _, single := fields["key"]; single {
		var obs mtconnect.Observation
		if err := json.Unmarshal(trimmed, &obs); err != nil {
			return nil, err
		}
		return []mtconnect.Observation{obs}, nil
	}
	return decodeFlat(fields)
}

func decodeFlat(fields map[string]json.RawMessage) ([]mtconnect.Observation, error) {
	var ts int64
	if raw, ok := fields["timestamp"]; ok {
		t, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		ts = mtconnect.Timestamp(t)
		delete(fields, "timestamp")
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	batch := make([]mtconnect.Observation, 0, len(keys))
	for _, key := range keys {
		raw := bytes.TrimSpace(fields[key])
		if bytes.Equal(raw, []byte("null")) {
			batch = append(batch, mtconnect.Observation{DataItemKey: key, Timestamp: ts, Unavailable: true})
			continue
		}
		value, err := scalarText(raw)
		if err != nil {
			return nil, fmt.Errorf("data item %q: %w", key, err)
		}
		batch = append(batch, mtconnect.NewSample(key, value, ts))
	}
	return batch, nil
}

func scalarText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	if len(raw) > 0 && raw[0] != '{' && raw[0] != '[' {
		return string(raw), nil
	}
	return "", fmt.Errorf("value must be a scalar")
}

// parseTime supports an RFC3339 string, Unix seconds as a string, or Unix
// milliseconds as a number.
func parseTime(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
		}
		return time.Unix(sec, 0), nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
	}
	return time.UnixMilli(ms), nil
}

// decodeAssets accepts one asset object or an array of them.
func decodeAssets(payload []byte) ([]mtconnect.Asset, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var assets []mtconnect.Asset
		if err := json.Unmarshal(trimmed, &assets); err != nil {
			return nil, err
		}
		return assets, nil
	}

	var asset mtconnect.Asset
	if err := json.Unmarshal(trimmed, &asset); err != nil {
		return nil, err
	}
	return []mtconnect.Asset{asset}, nil
}
