package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/semstreams-mtconnect/config"
	"github.com/c360/semstreams-mtconnect/errors"
)

// Config holds configuration for the NATS output
type Config struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
	ClientName    string `json:"client_name,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`

	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`
	TLSCA   string `json:"tls_ca,omitempty"`

	ConnectTimeout config.Duration `json:"connect_timeout,omitempty"`
	MaxReconnects  int             `json:"max_reconnects,omitempty"`
	ReconnectWait  config.Duration `json:"reconnect_wait,omitempty"`

	// ConnectAttempts bounds the retries made by Start.
	ConnectAttempts int `json:"connect_attempts,omitempty"`
}

// DefaultConfig returns defaults for a local NATS server
func DefaultConfig() Config {
	return Config{
		URL:             "nats://localhost:4222",
		SubjectPrefix:   "mtconnect",
		ConnectTimeout:  config.Duration(5 * time.Second),
		MaxReconnects:   -1,
		ReconnectWait:   config.Duration(2 * time.Second),
		ConnectAttempts: 5,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: url is required", errors.ErrInvalidConfig),
			"Output", "Validate", "url validation")
	}
	if c.SubjectPrefix == "" || strings.ContainsAny(c.SubjectPrefix, " *>") {
		return errors.WrapInvalid(fmt.Errorf("%w: invalid subject prefix %q", errors.ErrInvalidConfig, c.SubjectPrefix),
			"Output", "Validate", "subject validation")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.WrapInvalid(fmt.Errorf("%w: tls_cert and tls_key must be set together", errors.ErrInvalidConfig),
			"Output", "Validate", "tls validation")
	}
	if c.ConnectTimeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: connect_timeout must be positive", errors.ErrInvalidConfig),
			"Output", "Validate", "timeout validation")
	}
	return nil
}

// Subject returns the subject for one family of messages.
func (c Config) Subject(family string) string {
	return c.SubjectPrefix + "." + family
}
