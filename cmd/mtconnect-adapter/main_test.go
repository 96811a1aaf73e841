package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-mtconnect/config"
	"github.com/c360/semstreams-mtconnect/module"
	"github.com/c360/semstreams-mtconnect/moduleregistry"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

const testConfig = `
adapter:
  interval: 50ms
  unavailable_on_stop: true
modules:
  agent:
    type: shdr
    enabled: true
    config:
      bind: 127.0.0.1
      port: 0
  spare:
    type: websocket
    enabled: false
devices:
  - key: mill
    file: mill.xml
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mill.xml"), []byte("<Device id=\"mill\"/>\n"), 0o600))
	path := filepath.Join(dir, "adapter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newTestRegistry(t *testing.T) *module.Registry {
	t.Helper()
	registry := module.NewRegistry()
	require.NoError(t, moduleregistry.Register(registry))
	return registry
}

func TestParseFlags(t *testing.T) {
	t.Setenv("MTCONNECT_LOG_LEVEL", "warn")

	cfg, err := parseFlags([]string{"-c", "adapter.yaml", "--validate"})
	require.NoError(t, err)
	assert.Equal(t, "adapter.yaml", cfg.ConfigPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.Validate)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	cfg, err = parseFlags([]string{"--debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateFlags(t *testing.T) {
	path := writeConfig(t, testConfig)

	valid := &CLIConfig{ConfigPath: path, LogLevel: "info", LogFormat: "text", ShutdownTimeout: time.Second}
	assert.NoError(t, validateFlags(valid))

	bad := *valid
	bad.ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, validateFlags(&bad))

	bad = *valid
	bad.LogLevel = "trace"
	assert.Error(t, validateFlags(&bad))

	bad = *valid
	bad.LogFormat = "xml"
	assert.Error(t, validateFlags(&bad))

	assert.NoError(t, validateFlags(&CLIConfig{ShowVersion: true}))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"mtconnect-adapter"`)
}

func TestCheckModuleTypes(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	registry := newTestRegistry(t)

	assert.NoError(t, checkModuleTypes(cfg, registry))

	cfg.Modules["broken"] = config.ModuleConfig{Type: "modbus", Enabled: true}
	err = checkModuleTypes(cfg, registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown type "modbus"`)
}

func TestAppLifecycle(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	a, err := newApp(cfg, newTestRegistry(t), newLogger(&bytes.Buffer{}, "error", "json"))
	require.NoError(t, err)
	assert.Equal(t, 1, a.modules.Len(), "disabled modules are skipped")
	assert.Equal(t, 1, a.modules.Sinks())

	require.NoError(t, a.start(context.Background()))

	devices := a.adapter.LastDevices()
	require.Len(t, devices, 1)
	assert.Equal(t, "mill", devices[0].DeviceKey)
	assert.Equal(t, `<Device id="mill"/>`, devices[0].Body)

	a.adapter.AddObservation(mtconnect.NewSample("Xpos", "1.5", 0))
	require.Eventually(t, func() bool { return len(a.adapter.LastObservations()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, a.health().IsHealthy())

	require.NoError(t, a.shutdown(2*time.Second))

	obs, ok := a.adapter.CurrentObservation("Xpos")
	require.True(t, ok)
	assert.True(t, obs.Unavailable, "unavailable_on_stop marks every item")

	last := a.adapter.LastObservations()
	require.Len(t, last, 1)
	assert.True(t, last[0].Unavailable, "markers are sent before outputs stop")
}
