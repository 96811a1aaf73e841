package opcua

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// observation maps one data change to an observation. A bad status code
// reports the data item unavailable.
func observation(node NodeConfig, dv *ua.DataValue, now time.Time) (mtconnect.Observation, error) {
	obs := mtconnect.Observation{
		DeviceKey:   node.DeviceKey,
		DataItemKey: node.DataItemKey,
		Timestamp:   mtconnect.Timestamp(sourceTime(dv, now)),
	}
	if node.Kind == mtconnect.KindMessage.String() {
		obs.Value = mtconnect.Message{}
	}

	if dv == nil || dv.Status != ua.StatusOK || dv.Value == nil {
		return obs.AsUnavailable(obs.Timestamp), nil
	}

	text, err := variantText(dv.Value)
	if err != nil {
		return mtconnect.Observation{}, err
	}
	if node.Kind == mtconnect.KindMessage.String() {
		obs.Value = mtconnect.Message{Text: text}
	} else {
		obs.Value = mtconnect.Sample{Value: text}
	}
	return obs, nil
}

func sourceTime(dv *ua.DataValue, now time.Time) time.Time {
	if dv == nil {
		return now
	}
	if !dv.SourceTimestamp.IsZero() {
		return dv.SourceTimestamp
	}
	if !dv.ServerTimestamp.IsZero() {
		return dv.ServerTimestamp
	}
	return now
}

// variantText renders a scalar variant as SHDR value text.
func variantText(v *ua.Variant) (string, error) {
	switch val := v.Value().(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int8:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case *ua.LocalizedText:
		if val == nil {
			return "", nil
		}
		return val.Text, nil
	default:
		return "", fmt.Errorf("unsupported variant type %T", val)
	}
}
