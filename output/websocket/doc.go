// Package websocket provides a WebSocket output that mirrors every batch the
// adapter flushes to browser and dashboard clients as JSON.
//
// # Message Format
//
// Each batch is sent as one text message wrapped in an envelope:
//
//	{
//	  "type": "observations",
//	  "id": "msg-1700000000000-42",
//	  "timestamp": 1700000000000,
//	  "payload": [{"key": "Xpos", "timestamp": 1700000000000, "kind": "sample", "value": "10.5"}]
//	}
//
// The type is one of "observations", "assets", "devices" or "removal".
// Observation payloads use the mtconnect.Observation JSON form.
//
// # Client Lifecycle
//
//  1. Client connects via WebSocket handshake on the configured path
//  2. When replay is enabled the last sent state is written to the new client
//     before it receives live batches
//  3. Batches are fanned out to every client concurrently, one write lock
//     per client
//  4. A write error or missed pong removes the client
//
// Client failures never fail a batch; only an encoding error does.
//
// # Configuration
//
//	{
//	  "bind": "0.0.0.0",
//	  "port": 8081,
//	  "path": "/ws",
//	  "ping_interval": "30s",
//	  "write_timeout": "10s",
//	  "read_timeout": "60s",
//	  "replay_on_connect": true
//	}
package websocket
