package opcua

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/semstreams-mtconnect/config"
	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// Config holds configuration for the OPC UA input
type Config struct {
	Endpoint         string          `json:"endpoint"`
	Username         string          `json:"username,omitempty"`
	Password         string          `json:"password,omitempty"`
	SecurityMode     string          `json:"security_mode,omitempty"`
	SecurityPolicy   string          `json:"security_policy,omitempty"`
	ApplicationName  string          `json:"application_name,omitempty"`
	PublishInterval  config.Duration `json:"publish_interval,omitempty"`
	SamplingInterval config.Duration `json:"sampling_interval,omitempty"`

	// DeviceKey qualifies every node that does not name its own device.
	DeviceKey string       `json:"device,omitempty"`
	Nodes     []NodeConfig `json:"nodes"`

	// ConnectAttempts bounds the retries made by Start.
	ConnectAttempts int `json:"connect_attempts,omitempty"`
}

// NodeConfig maps one monitored node to a data item.
type NodeConfig struct {
	NodeID      string `json:"node_id"`
	DataItemKey string `json:"key"`
	DeviceKey   string `json:"device,omitempty"`

	// Kind is "sample" (default) or "message".
	Kind string `json:"kind,omitempty"`
}

// DefaultConfig returns defaults for an unsecured local server
func DefaultConfig() Config {
	return Config{
		SecurityMode:    "None",
		SecurityPolicy:  "None",
		ApplicationName: "MTConnect Adapter",
		PublishInterval: config.Duration(250 * time.Millisecond),
		ConnectAttempts: 5,
	}
}

// ApplyDefaults fills node fields left empty.
func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = config.Duration(250 * time.Millisecond)
	}
	for i := range c.Nodes {
		if c.Nodes[i].DataItemKey == "" {
			c.Nodes[i].DataItemKey = c.Nodes[i].NodeID
		}
		if c.Nodes[i].DeviceKey == "" {
			c.Nodes[i].DeviceKey = c.DeviceKey
		}
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return invalid("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return invalid("at least one node must be configured")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, node := range c.Nodes {
		if node.NodeID == "" {
			return invalid("node_id is required")
		}
		if strings.ContainsAny(node.DataItemKey, "|\r\n") {
			return invalid(fmt.Sprintf("key %q contains a reserved character", node.DataItemKey))
		}
		switch node.Kind {
		case "", mtconnect.KindSample.String(), mtconnect.KindMessage.String():
		default:
			return invalid(fmt.Sprintf("node %s: unsupported kind %q", node.NodeID, node.Kind))
		}
		if seen[node.NodeID] {
			return invalid(fmt.Sprintf("node %s configured twice", node.NodeID))
		}
		seen[node.NodeID] = true
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Input", "Validate", "config validation")
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}
