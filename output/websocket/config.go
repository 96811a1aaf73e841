package websocket

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/semstreams-mtconnect/config"
	"github.com/c360/semstreams-mtconnect/errors"
)

// Config holds configuration for the WebSocket output
type Config struct {
	Bind         string          `json:"bind,omitempty"`
	Port         int             `json:"port"`
	Path         string          `json:"path,omitempty"`
	PingInterval config.Duration `json:"ping_interval,omitempty"`
	WriteTimeout config.Duration `json:"write_timeout,omitempty"`
	ReadTimeout  config.Duration `json:"read_timeout,omitempty"`

	// ReplayOnConnect writes the last sent state to each new client.
	// Defaults to true.
	ReplayOnConnect *bool `json:"replay_on_connect,omitempty"`
}

// DefaultConfig returns sensible defaults for the WebSocket output
func DefaultConfig() Config {
	t := true
	return Config{
		Bind:            "0.0.0.0",
		Port:            8081,
		Path:            "/ws",
		PingInterval:    config.Duration(30 * time.Second),
		WriteTimeout:    config.Duration(10 * time.Second),
		ReadTimeout:     config.Duration(60 * time.Second),
		ReplayOnConnect: &t,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: invalid port %d", errors.ErrInvalidConfig, c.Port),
			"Output", "Validate", "port validation")
	}
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(fmt.Errorf("%w: path must start with /", errors.ErrInvalidConfig),
			"Output", "Validate", "path validation")
	}
	if c.PingInterval <= 0 || c.WriteTimeout <= 0 || c.ReadTimeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: intervals must be positive", errors.ErrInvalidConfig),
			"Output", "Validate", "interval validation")
	}
	return nil
}

func (c Config) replay() bool {
	return c.ReplayOnConnect == nil || *c.ReplayOnConnect
}
