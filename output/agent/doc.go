// Package agent provides the SHDR output module: a TCP listener that
// MTConnect agents connect to, fed with every batch the adapter flushes.
//
// Batches are rendered with package shdr and written to every connected
// agent through a transport.Server. When an agent connects it first
// receives a replay of the last sent state, so it starts from a complete
// picture before live updates reach it.
//
// Configuration:
//
//	{
//	  "bind": "0.0.0.0",
//	  "port": 7878,
//	  "heartbeat": "10s",
//	  "write_timeout": "5s",
//	  "read_timeout": "0s",
//	  "output_timestamps": true,
//	  "multiline_assets": false,
//	  "multiline_devices": false,
//	  "replay_on_connect": true
//	}
package agent
