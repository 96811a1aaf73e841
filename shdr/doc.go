// Package shdr renders adapter values into SHDR protocol lines.
//
// SHDR is the pipe-delimited text protocol an MTConnect agent reads from an
// adapter socket. Every line starts with a timestamp field, which is empty
// when timestamps are disabled so that the agent stamps arrival time.
//
// Line grammars:
//
//	data item    ts|k1|v1|k2|v2
//	message      ts|key|nativeCode|text
//	condition    ts|key|level|nativeCode|nativeSeverity|qualifier|message
//	data set     ts|key|k1=v1 k2={v 2} k3
//	table        ts|key|row1={c1=v1 c2=v2} row2
//	time series  ts|key|count|rate|v1 v2 v3
//	asset        ts|@ASSET@|id|type|body
//	device       ts|@DEVICE@|key|body
//
// A removed data set entry or table row renders as its bare key. A reset
// data set or table starts with ":MANUAL ". An unavailable value renders as
// UNAVAILABLE in its value field.
//
// Observations are emitted in fixed group order: data items, messages,
// conditions, data sets, tables, time series. Plain data items sharing a
// timestamp are coalesced onto one line.
//
// All functions are pure. Any item that cannot be rendered fails the whole
// batch with an error wrapping errors.ErrRender.
package shdr
