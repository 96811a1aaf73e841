package mtconnect

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/c360/semstreams-mtconnect/errors"
)

// Observation is one data item value reported by a device.
type Observation struct {
	// DeviceKey optionally qualifies the data item; the wire key becomes
	// "device:key".
	DeviceKey   string
	DataItemKey string

	// Timestamp is Unix milliseconds; 0 means "now" on ingestion.
	Timestamp int64

	// Value is nil only for an unavailable marker whose kind is a sample.
	Value Value

	Unavailable bool
}

// Key returns the cache and wire key of the observation.
func (o Observation) Key() string {
	if o.DeviceKey == "" {
		return o.DataItemKey
	}
	return o.DeviceKey + ":" + o.DataItemKey
}

// Kind returns the kind of the observation's value.
func (o Observation) Kind() Kind {
	if o.Value == nil {
		return KindSample
	}
	return o.Value.Kind()
}

// ChangeID fingerprints the observation without its timestamp. An
// unavailable marker hashes only its key and kind, so its id differs from
// every live value of the same key.
func (o Observation) ChangeID() ChangeID {
	h := &hasher{}
	h.str(o.DeviceKey)
	h.str(o.DataItemKey)
	h.byte(byte(o.Kind()))
	h.bool(o.Unavailable)
	if !o.Unavailable && o.Value != nil {
		o.Value.hash(h)
	}
	return h.sum()
}

// Clone returns a deep copy.
func (o Observation) Clone() Observation {
	if o.Value != nil {
		o.Value = o.Value.clone()
	}
	return o
}

// WithTimestamp returns a deep copy stamped with ts.
func (o Observation) WithTimestamp(ts int64) Observation {
	c := o.Clone()
	c.Timestamp = ts
	return c
}

// AsUnavailable returns the unavailable marker for the observation's key and
// kind, stamped with ts.
func (o Observation) AsUnavailable(ts int64) Observation {
	return Observation{
		DeviceKey:   o.DeviceKey,
		DataItemKey: o.DataItemKey,
		Timestamp:   ts,
		Value:       zeroValue(o.Kind()),
		Unavailable: true,
	}
}

// NewSample is shorthand for a plain data item observation.
func NewSample(key, value string, ts int64) Observation {
	return Observation{DataItemKey: key, Timestamp: ts, Value: Sample{Value: value}}
}

type observationJSON struct {
	DeviceKey   string          `json:"device,omitempty"`
	DataItemKey string          `json:"key"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Unavailable bool            `json:"unavailable,omitempty"`
}

// MarshalJSON encodes the observation with an explicit kind tag. Samples
// encode their value as a bare string.
func (o Observation) MarshalJSON() ([]byte, error) {
	wire := observationJSON{
		DeviceKey:   o.DeviceKey,
		DataItemKey: o.DataItemKey,
		Timestamp:   o.Timestamp,
		Kind:        o.Kind().String(),
		Unavailable: o.Unavailable,
	}

	if !o.Unavailable && o.Value != nil {
		var payload any = o.Value
		if s, ok := o.Value.(Sample); ok {
			payload = s.Value
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		wire.Value = raw
	}

	return json.Marshal(wire)
}

// UnmarshalJSON decodes the form written by MarshalJSON. A sample value may
// be a JSON string, number or boolean.
func (o *Observation) UnmarshalJSON(data []byte) error {
	var wire observationJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.DataItemKey == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Observation", "UnmarshalJSON", "key check")
	}

	kind, err := ParseKind(wire.Kind)
	if err != nil {
		return err
	}

	*o = Observation{
		DeviceKey:   wire.DeviceKey,
		DataItemKey: wire.DataItemKey,
		Timestamp:   wire.Timestamp,
		Unavailable: wire.Unavailable,
	}

	if wire.Unavailable || len(wire.Value) == 0 {
		o.Value = zeroValue(kind)
		return nil
	}

	value, err := decodeValue(kind, wire.Value)
	if err != nil {
		return errors.WrapInvalid(err, "Observation", "UnmarshalJSON", fmt.Sprintf("decode %s value", kind))
	}
	o.Value = value
	return nil
}

func decodeValue(kind Kind, raw json.RawMessage) (Value, error) {
	switch kind {
	case KindSample:
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return Sample{Value: s}, nil
		}
		// numbers and booleans keep their literal text
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '[' {
			return Sample{Value: string(trimmed)}, nil
		}
		return nil, errors.New("sample value must be a scalar")
	case KindMessage:
		var m Message
		err := json.Unmarshal(raw, &m)
		return m, err
	case KindCondition:
		var c Condition
		err := json.Unmarshal(raw, &c)
		return c, err
	case KindDataSet:
		var d DataSet
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindTable:
		var t Table
		err := json.Unmarshal(raw, &t)
		return t, err
	case KindTimeSeries:
		var t TimeSeries
		err := json.Unmarshal(raw, &t)
		return t, err
	}
	return nil, fmt.Errorf("unsupported kind %s", kind)
}
