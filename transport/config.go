package transport

import (
	"fmt"
	"time"

	"github.com/c360/semstreams-mtconnect/errors"
)

const (
	DefaultBind         = "0.0.0.0"
	DefaultPort         = 7878
	DefaultHeartbeat    = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultEventBuffer  = 256
)

// ServerConfig configures the agent listener.
type ServerConfig struct {
	// Name labels metrics and logs when several listeners share a process.
	Name string

	Bind string

	// Port 0 picks a free port; see Server.Addr.
	Port int

	// Heartbeat is advertised in the PONG reply.
	Heartbeat time.Duration

	WriteTimeout time.Duration

	// ReadTimeout bounds the wait for the next line from an agent. Zero
	// waits until the connection closes.
	ReadTimeout time.Duration

	EventBuffer int
}

// DefaultServerConfig returns the standard SHDR listener settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:         "shdr",
		Bind:         DefaultBind,
		Port:         DefaultPort,
		Heartbeat:    DefaultHeartbeat,
		WriteTimeout: DefaultWriteTimeout,
		EventBuffer:  DefaultEventBuffer,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Name == "" {
		c.Name = "shdr"
	}
	if c.Bind == "" {
		c.Bind = DefaultBind
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

// Validate checks the configuration.
func (c ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: invalid port %d", errors.ErrInvalidConfig, c.Port),
			"Server", "Validate", "port validation")
	}
	if c.ReadTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative read timeout", errors.ErrInvalidConfig),
			"Server", "Validate", "timeout validation")
	}
	return nil
}
