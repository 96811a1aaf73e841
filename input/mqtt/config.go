package mqtt

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/semstreams-mtconnect/config"
	"github.com/c360/semstreams-mtconnect/errors"
)

// Config holds configuration for the MQTT input
type Config struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// TopicPrefix is the first topic level; the input subscribes to
	// <prefix>/+/observations and <prefix>/+/assets.
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QoS         byte   `json:"qos,omitempty"`

	// QualifyKeys uses the device level of the topic as the device key of
	// observations that do not carry one.
	QualifyKeys bool `json:"qualify_keys,omitempty"`

	ConnectTimeout  config.Duration `json:"connect_timeout,omitempty"`
	KeepAlive       config.Duration `json:"keep_alive,omitempty"`
	ConnectAttempts int             `json:"connect_attempts,omitempty"`
}

// DefaultConfig returns defaults for a local broker
func DefaultConfig() Config {
	return Config{
		Broker:          "tcp://localhost:1883",
		ClientID:        "mtconnect-adapter",
		TopicPrefix:     "mtconnect",
		ConnectTimeout:  config.Duration(10 * time.Second),
		KeepAlive:       config.Duration(30 * time.Second),
		ConnectAttempts: 5,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Broker == "" {
		return invalid("broker is required")
	}
	if c.TopicPrefix == "" || strings.ContainsAny(c.TopicPrefix, "+#") {
		return invalid(fmt.Sprintf("invalid topic prefix %q", c.TopicPrefix))
	}
	if c.QoS > 2 {
		return invalid(fmt.Sprintf("qos must be 0, 1 or 2, got %d", c.QoS))
	}
	if c.ConnectTimeout <= 0 {
		return invalid("connect_timeout must be positive")
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Input", "Validate", "config validation")
}

// Topics returns the subscription filters.
func (c Config) Topics() map[string]byte {
	return map[string]byte{
		c.TopicPrefix + "/+/" + topicObservations: c.QoS,
		c.TopicPrefix + "/+/" + topicAssets:       c.QoS,
	}
}
