// Package config loads the adapter configuration from JSON or YAML.
//
// A configuration file has five sections:
//
//	adapter:
//	  interval: 1s
//	  filter_duplicates: true
//	  output_timestamps: true
//	  enable_buffer: false
//	  unavailable_on_stop: true
//	modules:
//	  agent:
//	    type: shdr
//	    enabled: true
//	    config:
//	      port: 7878
//	      heartbeat: 10s
//	metrics:
//	  enabled: true
//	  port: 9090
//	devices:
//	  - key: mill-1
//	    file: devices/mill-1.xml
//	assets:
//	  - id: T1
//	    type: CuttingTool
//	    file: assets/t1.xml
//
// YAML is decoded with gopkg.in/yaml.v3 and re-encoded as JSON, so each
// module receives its config block as json.RawMessage regardless of the
// file format. Durations are strings accepted by time.ParseDuration, plus
// a "d" suffix for days.
//
// Environment variables prefixed MTCONNECT_ override a few top-level
// values after the file is read; see Loader.
package config
