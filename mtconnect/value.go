package mtconnect

import (
	"fmt"
	"slices"

	"github.com/c360/semstreams-mtconnect/errors"
)

// Kind classifies an observation by its SHDR line grammar.
type Kind uint8

const (
	KindSample Kind = iota
	KindMessage
	KindCondition
	KindDataSet
	KindTable
	KindTimeSeries
)

var kindNames = [...]string{
	KindSample:     "sample",
	KindMessage:    "message",
	KindCondition:  "condition",
	KindDataSet:    "data_set",
	KindTable:      "table",
	KindTimeSeries: "time_series",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind maps a kind name back to a Kind. An empty name is a sample.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindSample, nil
	}
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, errors.WrapInvalid(fmt.Errorf("unknown observation kind %q", s), "Observation", "ParseKind", "kind lookup")
}

// Value is the payload of an observation. The set of implementations is
// closed; see the Kind constants.
type Value interface {
	Kind() Kind
	hash(h *hasher)
	clone() Value
}

// Sample is a plain data item value (event or sample).
type Sample struct {
	Value string `json:"value"`
}

func (Sample) Kind() Kind { return KindSample }

func (s Sample) hash(h *hasher) { h.str(s.Value) }

func (s Sample) clone() Value { return s }

// Message is an MTConnect message: a native code and free text.
type Message struct {
	NativeCode string `json:"native_code,omitempty"`
	Text       string `json:"text"`
}

func (Message) Kind() Kind { return KindMessage }

func (m Message) hash(h *hasher) {
	h.str(m.NativeCode)
	h.str(m.Text)
}

func (m Message) clone() Value { return m }

// ConditionLevel is the state of a condition.
type ConditionLevel string

const (
	LevelNormal  ConditionLevel = "NORMAL"
	LevelWarning ConditionLevel = "WARNING"
	LevelFault   ConditionLevel = "FAULT"
)

// Condition is a fault state report.
type Condition struct {
	Level          ConditionLevel `json:"level"`
	NativeCode     string         `json:"native_code,omitempty"`
	NativeSeverity string         `json:"native_severity,omitempty"`
	Qualifier      string         `json:"qualifier,omitempty"`
	Message        string         `json:"message,omitempty"`
}

func (Condition) Kind() Kind { return KindCondition }

func (c Condition) hash(h *hasher) {
	h.str(string(c.Level))
	h.str(c.NativeCode)
	h.str(c.NativeSeverity)
	h.str(c.Qualifier)
	h.str(c.Message)
}

func (c Condition) clone() Value { return c }

// Entry is one key of a data set or one cell of a table row. A removed
// entry carries no value.
type Entry struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

func hashEntries(h *hasher, entries []Entry) {
	h.int(len(entries))
	for _, e := range entries {
		h.str(e.Key)
		h.str(e.Value)
		h.bool(e.Removed)
	}
}

// DataSet is an ordered set of key/value entries. Reset replaces the whole
// set on the agent instead of merging into it.
type DataSet struct {
	Entries []Entry `json:"entries"`
	Reset   bool    `json:"reset,omitempty"`
}

func (DataSet) Kind() Kind { return KindDataSet }

func (d DataSet) hash(h *hasher) {
	h.bool(d.Reset)
	hashEntries(h, d.Entries)
}

func (d DataSet) clone() Value {
	d.Entries = slices.Clone(d.Entries)
	return d
}

// TableRow is one keyed row of a table.
type TableRow struct {
	Key     string  `json:"key"`
	Cells   []Entry `json:"cells,omitempty"`
	Removed bool    `json:"removed,omitempty"`
}

// Table is an ordered set of rows, each holding ordered cells.
type Table struct {
	Rows  []TableRow `json:"rows"`
	Reset bool       `json:"reset,omitempty"`
}

func (Table) Kind() Kind { return KindTable }

func (t Table) hash(h *hasher) {
	h.bool(t.Reset)
	h.int(len(t.Rows))
	for _, row := range t.Rows {
		h.str(row.Key)
		h.bool(row.Removed)
		hashEntries(h, row.Cells)
	}
}

func (t Table) clone() Value {
	rows := make([]TableRow, len(t.Rows))
	for i, row := range t.Rows {
		row.Cells = slices.Clone(row.Cells)
		rows[i] = row
	}
	t.Rows = rows
	return t
}

// TimeSeries is a set of evenly spaced samples. SampleRate is in samples
// per second; zero lets the agent use the data item's configured rate.
type TimeSeries struct {
	Samples    []float64 `json:"samples"`
	SampleRate float64   `json:"sample_rate,omitempty"`
}

func (TimeSeries) Kind() Kind { return KindTimeSeries }

func (t TimeSeries) hash(h *hasher) {
	h.float(t.SampleRate)
	h.int(len(t.Samples))
	for _, s := range t.Samples {
		h.float(s)
	}
}

func (t TimeSeries) clone() Value {
	t.Samples = slices.Clone(t.Samples)
	return t
}

// zeroValue returns the empty payload of a kind, used to carry the kind of
// an unavailable marker.
func zeroValue(k Kind) Value {
	switch k {
	case KindMessage:
		return Message{}
	case KindCondition:
		return Condition{}
	case KindDataSet:
		return DataSet{}
	case KindTable:
		return Table{}
	case KindTimeSeries:
		return TimeSeries{}
	default:
		return Sample{}
	}
}
