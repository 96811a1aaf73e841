package moduleregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/module"
)

func TestRegister(t *testing.T) {
	registry := module.NewRegistry()
	require.NoError(t, Register(registry))

	names := make([]string, 0)
	for _, reg := range registry.List() {
		names = append(names, reg.Name)
	}
	assert.Equal(t, []string{"file", "mqtt", "nats", "opcua", "shdr", "websocket"}, names)

	reg, ok := registry.Lookup("shdr")
	require.True(t, ok)
	assert.Equal(t, module.KindOutput, reg.Kind)

	reg, ok = registry.Lookup("opcua")
	require.True(t, ok)
	assert.Equal(t, module.KindInput, reg.Kind)
}

func TestRegister_Twice(t *testing.T) {
	registry := module.NewRegistry()
	require.NoError(t, Register(registry))

	err := Register(registry)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegister_NilRegistry(t *testing.T) {
	err := Register(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
