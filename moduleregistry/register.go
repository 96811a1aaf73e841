// Package moduleregistry registers every built-in adapter module.
package moduleregistry

import (
	"errors"

	pkgerrors "github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/input/mqtt"
	"github.com/c360/semstreams-mtconnect/input/opcua"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/output/agent"
	"github.com/c360/semstreams-mtconnect/output/file"
	natsoutput "github.com/c360/semstreams-mtconnect/output/nats"
	"github.com/c360/semstreams-mtconnect/output/websocket"
)

// Register registers all built-in modules with the provided registry:
//
// Outputs:
//   - SHDR listener (agents)
//   - WebSocket (JSON broadcasting)
//   - NATS (JSON publishing)
//   - File (SHDR or JSON lines recording)
//
// Inputs:
//   - OPC UA (node subscriptions)
//   - MQTT (device topics)
func Register(registry *module.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ModuleRegistry", "Register", "registry validation")
	}

	// Outputs
	if err := agent.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ModuleRegistry", "Register", "SHDR output registration")
	}

	if err := websocket.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ModuleRegistry", "Register", "WebSocket output registration")
	}

	if err := natsoutput.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ModuleRegistry", "Register", "NATS output registration")
	}

	if err := file.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ModuleRegistry", "Register", "File output registration")
	}

	// Inputs
	if err := opcua.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ModuleRegistry", "Register", "OPC UA input registration")
	}

	if err := mqtt.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ModuleRegistry", "Register", "MQTT input registration")
	}

	return nil
}
