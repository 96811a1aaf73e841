package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

// DefaultEnvPrefix prefixes environment overrides.
const DefaultEnvPrefix = "MTCONNECT"

// Loader reads a configuration file and applies environment overrides.
type Loader struct {
	envPrefix  string
	validation bool
	getenv     func(string) string
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validation: true,
		getenv:     os.Getenv,
	}
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile reads path, applies overrides and defaults, then validates.
func (l *Loader) LoadFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "path validation")
	}

	data, err := safeReadFile(path, maxConfigSize)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrConfigNotFound, err), "Loader", "LoadFile", "read config")
	}

	cfg, err := l.Parse(data, formatOf(path))
	if err != nil {
		return nil, err
	}
	cfg.resolveFiles(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes a config document. format is "json" or "yaml".
func (l *Loader) Parse(data []byte, format string) (*Config, error) {
	if format == "yaml" {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Parse", "decode YAML")
		}
		data = converted
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("invalid JSON structure: %w", err), "Loader", "Parse", "depth check")
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "Parse", "decode config")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// yamlToJSON decodes YAML into a generic tree and re-encodes it as JSON.
func yamlToJSON(data []byte) ([]byte, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	if tree == nil {
		return []byte("{}"), nil
	}
	normalized, err := normalizeYAML(tree)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalizeYAML converts map[any]any nodes, which encoding/json cannot
// marshal, into map[string]any.
func normalizeYAML(v any) (any, error) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			converted, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			node[k] = converted
		}
		return node, nil
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			converted, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			out[key] = converted
		}
		return out, nil
	case []any:
		for i, child := range node {
			converted, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			node[i] = converted
		}
		return node, nil
	default:
		return v, nil
	}
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := l.getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return "", errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "environment validation")
		}
		return val, nil
	}

	if val, err := lookup("ADAPTER_INTERVAL"); err != nil {
		return err
	} else if val != "" {
		d, err := parseDurationWithDays(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_ADAPTER_INTERVAL: %v", errors.ErrInvalidConfig, l.envPrefix, err),
				"Loader", "applyEnvOverrides", "parse interval")
		}
		cfg.Adapter.Interval = Duration(d)
	}

	if val, err := lookup("METRICS_PORT"); err != nil {
		return err
	} else if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_METRICS_PORT: %v", errors.ErrInvalidConfig, l.envPrefix, err),
				"Loader", "applyEnvOverrides", "parse metrics port")
		}
		cfg.Metrics.Port = port
		cfg.Metrics.Enabled = port > 0
	}
	return nil
}

// resolveFiles makes relative document paths relative to the config file.
func (c *Config) resolveFiles(base string) {
	for i := range c.Devices {
		if !filepath.IsAbs(c.Devices[i].File) {
			c.Devices[i].File = filepath.Join(base, c.Devices[i].File)
		}
	}
	for i := range c.Assets {
		if !filepath.IsAbs(c.Assets[i].File) {
			c.Assets[i].File = filepath.Join(base, c.Assets[i].File)
		}
	}
}

// LoadDevices reads every configured device document.
func (c *Config) LoadDevices() ([]mtconnect.Device, error) {
	devices := make([]mtconnect.Device, 0, len(c.Devices))
	for _, d := range c.Devices {
		body, err := readDocument(d.File)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "LoadDevices", fmt.Sprintf("read device %s", d.Key))
		}
		devices = append(devices, mtconnect.Device{DeviceKey: d.Key, Body: body})
	}
	return devices, nil
}

// LoadAssets reads every configured asset document.
func (c *Config) LoadAssets() ([]mtconnect.Asset, error) {
	assets := make([]mtconnect.Asset, 0, len(c.Assets))
	for _, a := range c.Assets {
		body, err := readDocument(a.File)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "LoadAssets", fmt.Sprintf("read asset %s", a.ID))
		}
		assets = append(assets, mtconnect.Asset{AssetID: a.ID, Type: a.Type, Body: body})
	}
	return assets, nil
}

func readDocument(path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	data, err := safeReadFile(path, maxDocumentSize)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
