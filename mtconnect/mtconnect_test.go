package mtconnect

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-mtconnect/errors"
)

func TestChangeID_IgnoresTimestamp(t *testing.T) {
	a := NewSample("temp", "99.5", 1000)
	b := NewSample("temp", "99.5", 2000)
	c := NewSample("temp", "101.0", 1000)

	assert.Equal(t, a.ChangeID(), b.ChangeID())
	assert.NotEqual(t, a.ChangeID(), c.ChangeID())
}

func TestChangeID_ComparableAsMapKey(t *testing.T) {
	seen := map[ChangeID]bool{}
	seen[NewSample("a", "1", 0).ChangeID()] = true

	// a separately computed fingerprint of the same content hits the same key
	assert.True(t, seen[NewSample("a", "1", 5).ChangeID()])
	assert.False(t, seen[NewSample("a", "2", 0).ChangeID()])
}

func TestChangeID_DistinguishesKeysAndKinds(t *testing.T) {
	base := NewSample("a", "1", 0)

	qualified := base
	qualified.DeviceKey = "mill"
	assert.NotEqual(t, base.ChangeID(), qualified.ChangeID())

	// field boundaries are length-prefixed
	x := Observation{DataItemKey: "ab", Value: Sample{Value: "c"}}
	y := Observation{DataItemKey: "a", Value: Sample{Value: "bc"}}
	assert.NotEqual(t, x.ChangeID(), y.ChangeID())

	msg := Observation{DataItemKey: "a", Value: Message{Text: "1"}}
	assert.NotEqual(t, base.ChangeID(), msg.ChangeID())
}

func TestAsUnavailable(t *testing.T) {
	live := Observation{
		DataItemKey: "alarm",
		Timestamp:   10,
		Value:       Condition{Level: LevelFault, NativeCode: "E1"},
	}

	marker := live.AsUnavailable(50)
	assert.True(t, marker.Unavailable)
	assert.Equal(t, int64(50), marker.Timestamp)
	assert.Equal(t, KindCondition, marker.Kind())
	assert.NotEqual(t, live.ChangeID(), marker.ChangeID())

	// markers of the same key are identical regardless of the prior value
	other := Observation{DataItemKey: "alarm", Value: Condition{Level: LevelNormal}}
	assert.Equal(t, marker.ChangeID(), other.AsUnavailable(99).ChangeID())
}

func TestObservation_Key(t *testing.T) {
	assert.Equal(t, "temp", NewSample("temp", "1", 0).Key())

	o := NewSample("temp", "1", 0)
	o.DeviceKey = "mill"
	assert.Equal(t, "mill:temp", o.Key())
}

func TestObservation_CloneIsDeep(t *testing.T) {
	entries := []Entry{{Key: "a", Value: "1"}}
	o := Observation{DataItemKey: "vars", Value: DataSet{Entries: entries}}

	c := o.Clone()
	entries[0].Value = "changed"

	assert.Equal(t, "1", c.Value.(DataSet).Entries[0].Value)

	rows := []TableRow{{Key: "r1", Cells: []Entry{{Key: "c", Value: "1"}}}}
	tbl := Observation{DataItemKey: "tbl", Value: Table{Rows: rows}}
	tc := tbl.WithTimestamp(7)
	rows[0].Cells[0].Value = "changed"

	assert.Equal(t, "1", tc.Value.(Table).Rows[0].Cells[0].Value)
	assert.Equal(t, int64(7), tc.Timestamp)
}

func TestObservation_JSON(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
	}{
		{"sample", Observation{DeviceKey: "mill", DataItemKey: "temp", Timestamp: 1, Value: Sample{Value: "99.5"}}},
		{"message", Observation{DataItemKey: "msg", Value: Message{NativeCode: "C1", Text: "hello"}}},
		{"condition", Observation{DataItemKey: "sys", Value: Condition{Level: LevelWarning, NativeCode: "W2", Qualifier: "HIGH"}}},
		{"data set", Observation{DataItemKey: "vars", Value: DataSet{Entries: []Entry{{Key: "a", Value: "1"}, {Key: "b", Removed: true}}}}},
		{"time series", Observation{DataItemKey: "ts", Value: TimeSeries{Samples: []float64{1, 2.5}, SampleRate: 100}}},
		{"unavailable", NewSample("temp", "", 3).AsUnavailable(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.obs)
			require.NoError(t, err)

			var decoded Observation
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.obs.ChangeID(), decoded.ChangeID())
			assert.Equal(t, tt.obs.Timestamp, decoded.Timestamp)
		})
	}
}

func TestObservation_UnmarshalNumericSample(t *testing.T) {
	var o Observation
	require.NoError(t, json.Unmarshal([]byte(`{"key":"temp","value":101.25}`), &o))

	assert.Equal(t, KindSample, o.Kind())
	assert.Equal(t, Sample{Value: "101.25"}, o.Value)
}

func TestObservation_UnmarshalErrors(t *testing.T) {
	var o Observation

	err := json.Unmarshal([]byte(`{"value":"1"}`), &o)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = json.Unmarshal([]byte(`{"key":"a","kind":"bogus","value":"1"}`), &o)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"key":"a","value":{"nested":true}}`), &o)
	require.Error(t, err)
}

func TestAssetAndDeviceChangeID(t *testing.T) {
	a := Asset{AssetID: "T1", Type: "CuttingTool", Body: "<x/>", Timestamp: 1}
	b := a.WithTimestamp(2)
	assert.Equal(t, a.ChangeID(), b.ChangeID())
	assert.Equal(t, "T1", a.Key())

	b.Body = "<y/>"
	assert.NotEqual(t, a.ChangeID(), b.ChangeID())

	d := Device{DeviceKey: "mill", Body: "{}"}
	assert.Equal(t, "mill", d.Key())
	assert.Len(t, d.ChangeID().String(), 32)
	assert.False(t, d.ChangeID().IsZero())
}

func TestParseKind(t *testing.T) {
	for k := KindSample; k <= KindTimeSeries; k++ {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}
