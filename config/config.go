package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/c360/semstreams-mtconnect/adapter"
	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/module"
)

// Defaults for sections left out of the file.
const (
	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

// Config represents the complete adapter configuration
type Config struct {
	Adapter AdapterConfig `json:"adapter"`
	Modules ModuleConfigs `json:"modules"`
	Metrics MetricsConfig `json:"metrics"`
	Devices []DeviceFile  `json:"devices,omitempty"`
	Assets  []AssetFile   `json:"assets,omitempty"`
}

// AdapterConfig mirrors adapter.Config. Booleans that default to true are
// pointers so an explicit false survives ApplyDefaults.
type AdapterConfig struct {
	Interval           Duration `json:"interval"`
	FilterDuplicates   *bool    `json:"filter_duplicates,omitempty"`
	OutputTimestamps   *bool    `json:"output_timestamps,omitempty"`
	EnableBuffer       bool     `json:"enable_buffer"`
	BufferDrainCount   int      `json:"buffer_drain_count,omitempty"`
	BufferCapacity     int      `json:"buffer_capacity,omitempty"`
	UnavailableOnStart bool     `json:"unavailable_on_start"`
	UnavailableOnStop  bool     `json:"unavailable_on_stop"`
}

// ModuleConfig is one module instance. Config is handed verbatim to the
// module's factory.
type ModuleConfig struct {
	Type    string          `json:"type"`
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// ModuleConfigs maps instance names to module configs.
type ModuleConfigs map[string]ModuleConfig

// MetricsConfig controls the /metrics and /health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// DeviceFile names a device document pushed with AddDevice at startup.
type DeviceFile struct {
	Key  string `json:"key"`
	File string `json:"file"`
}

// AssetFile names an asset document pushed with AddAsset at startup.
type AssetFile struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	File string `json:"file"`
}

// Default returns the configuration used for omitted fields.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	defaults := adapter.DefaultConfig()

	if c.Adapter.Interval == 0 {
		c.Adapter.Interval = Duration(defaults.Interval)
	}
	if c.Adapter.FilterDuplicates == nil {
		c.Adapter.FilterDuplicates = boolPtr(defaults.FilterDuplicates)
	}
	if c.Adapter.OutputTimestamps == nil {
		c.Adapter.OutputTimestamps = boolPtr(defaults.OutputTimestamps)
	}
	if c.Adapter.BufferDrainCount == 0 {
		c.Adapter.BufferDrainCount = defaults.BufferDrainCount
	}
	if c.Adapter.BufferCapacity == 0 {
		c.Adapter.BufferCapacity = defaults.BufferCapacity
	}

	if c.Modules == nil {
		c.Modules = ModuleConfigs{}
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if err := c.AdapterSettings().Validate(); err != nil {
		return fmt.Errorf("adapter: %w", err)
	}

	for name, mod := range c.Modules {
		if name == "" {
			return invalid("module instance name cannot be empty")
		}
		if mod.Type == "" {
			return invalid(fmt.Sprintf("module %s: type is required", name))
		}
		if len(mod.Config) > 0 && !json.Valid(mod.Config) {
			return invalid(fmt.Sprintf("module %s: config is not valid JSON", name))
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return invalid(fmt.Sprintf("metrics: invalid port %d", c.Metrics.Port))
	}

	for i, d := range c.Devices {
		if d.Key == "" || d.File == "" {
			return invalid(fmt.Sprintf("devices[%d]: key and file are required", i))
		}
	}
	for i, a := range c.Assets {
		if a.ID == "" || a.File == "" {
			return invalid(fmt.Sprintf("assets[%d]: id and file are required", i))
		}
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "config validation")
}

// AdapterSettings converts the adapter section to adapter.Config.
func (c *Config) AdapterSettings() adapter.Config {
	defaults := adapter.DefaultConfig()
	cfg := adapter.Config{
		Interval:         time.Duration(c.Adapter.Interval),
		FilterDuplicates: defaults.FilterDuplicates,
		OutputTimestamps: defaults.OutputTimestamps,
		EnableBuffer:     c.Adapter.EnableBuffer,
		BufferDrainCount: c.Adapter.BufferDrainCount,
		BufferCapacity:   c.Adapter.BufferCapacity,
	}
	if c.Adapter.FilterDuplicates != nil {
		cfg.FilterDuplicates = *c.Adapter.FilterDuplicates
	}
	if c.Adapter.OutputTimestamps != nil {
		cfg.OutputTimestamps = *c.Adapter.OutputTimestamps
	}
	return cfg
}

// ModuleSpecs returns the module instances ordered by name.
func (c *Config) ModuleSpecs() []module.Spec {
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	slices.Sort(names)

	specs := make([]module.Spec, 0, len(names))
	for _, name := range names {
		mod := c.Modules[name]
		specs = append(specs, module.Spec{
			Name:    name,
			Type:    mod.Type,
			Enabled: mod.Enabled,
			Config:  mod.Config,
		})
	}
	return specs
}

// String returns the config as indented JSON
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

func boolPtr(b bool) *bool { return &b }

// Duration is a time.Duration read from a string such as "1s" or "2d".
// Bare numbers are nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON writes the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := parseDurationWithDays(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	case nil:
		*d = 0
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
