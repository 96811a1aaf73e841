// Package mtconnect defines the input values an SHDR adapter tracks:
// observations, assets and devices.
//
// Each value carries a key, a payload and a Unix millisecond timestamp, and
// derives a content fingerprint (ChangeID) from everything except the
// timestamp. Two values with equal ChangeIDs are identical for deduplication.
// ChangeID is a fixed-size array so it compares by value and can be used
// directly as a map key.
//
// Observations carry one of six value kinds, matching the SHDR line
// grammars:
//
//	Sample      plain data item value
//	Message     native code and text
//	Condition   level, native code, severity, qualifier and message
//	DataSet     key/value entries
//	Table       rows of key/value cells
//	TimeSeries  samples with a sample rate
//
// Values are copied on capture. Clone returns a deep copy so a cached value
// never aliases a caller's slices.
package mtconnect
