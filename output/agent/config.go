package agent

import (
	"time"

	"github.com/c360/semstreams-mtconnect/config"
	"github.com/c360/semstreams-mtconnect/shdr"
	"github.com/c360/semstreams-mtconnect/transport"
)

// Config holds configuration for the SHDR output
type Config struct {
	Bind         string          `json:"bind,omitempty"`
	Port         int             `json:"port"`
	Heartbeat    config.Duration `json:"heartbeat,omitempty"`
	WriteTimeout config.Duration `json:"write_timeout,omitempty"`
	ReadTimeout  config.Duration `json:"read_timeout,omitempty"`

	// OutputTimestamps writes the timestamp field. Defaults to true.
	OutputTimestamps *bool `json:"output_timestamps,omitempty"`

	MultilineAssets  bool `json:"multiline_assets"`
	MultilineDevices bool `json:"multiline_devices"`

	// ReplayOnConnect sends the last sent state to each new agent.
	// Defaults to true.
	ReplayOnConnect *bool `json:"replay_on_connect,omitempty"`
}

// DefaultConfig returns the standard SHDR listener settings
func DefaultConfig() Config {
	t := true
	return Config{
		Bind:             transport.DefaultBind,
		Port:             transport.DefaultPort,
		Heartbeat:        config.Duration(transport.DefaultHeartbeat),
		WriteTimeout:     config.Duration(transport.DefaultWriteTimeout),
		OutputTimestamps: &t,
		ReplayOnConnect:  &t,
	}
}

func (c Config) format() shdr.Format {
	return shdr.Format{
		OutputTimestamps: c.OutputTimestamps == nil || *c.OutputTimestamps,
		MultilineAssets:  c.MultilineAssets,
		MultilineDevices: c.MultilineDevices,
	}
}

func (c Config) replay() bool {
	return c.ReplayOnConnect == nil || *c.ReplayOnConnect
}

func (c Config) server(name string) transport.ServerConfig {
	return transport.ServerConfig{
		Name:         name,
		Bind:         c.Bind,
		Port:         c.Port,
		Heartbeat:    time.Duration(c.Heartbeat),
		WriteTimeout: time.Duration(c.WriteTimeout),
		ReadTimeout:  time.Duration(c.ReadTimeout),
	}
}
