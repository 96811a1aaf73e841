package file

import (
	"fmt"
	"time"

	"github.com/c360/semstreams-mtconnect/config"
	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/shdr"
)

// Output formats
const (
	FormatSHDR  = "shdr"
	FormatJSONL = "jsonl"
)

// Config holds configuration for the file output
type Config struct {
	Directory     string          `json:"directory"`
	FilePrefix    string          `json:"file_prefix,omitempty"`
	Format        string          `json:"format,omitempty"`
	Append        bool            `json:"append"`
	BufferSize    int             `json:"buffer_size,omitempty"`
	FlushInterval config.Duration `json:"flush_interval,omitempty"`

	// MultilineDocuments writes assets and devices as multiline SHDR bodies.
	MultilineDocuments bool `json:"multiline_documents,omitempty"`
}

// DefaultConfig returns default configuration for the file output
func DefaultConfig() Config {
	return Config{
		Directory:     "/var/lib/mtconnect",
		FilePrefix:    "adapter",
		Format:        FormatSHDR,
		Append:        true,
		BufferSize:    100,
		FlushInterval: config.Duration(time.Second),
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: directory is required", errors.ErrInvalidConfig),
			"Config", "Validate", "directory validation")
	}
	if c.Format != FormatSHDR && c.Format != FormatJSONL {
		return errors.WrapInvalid(fmt.Errorf("%w: format must be one of: shdr, jsonl", errors.ErrInvalidConfig),
			"Config", "Validate", "format validation")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: buffer_size cannot be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "buffer validation")
	}
	if c.FlushInterval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: flush_interval must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "interval validation")
	}
	return nil
}

func (c Config) shdrFormat() shdr.Format {
	return shdr.Format{
		OutputTimestamps: true,
		MultilineAssets:  c.MultilineDocuments,
		MultilineDevices: c.MultilineDocuments,
	}
}

// Filename returns the name of the output file inside Directory.
func (c Config) Filename() string {
	return fmt.Sprintf("%s.%s", c.FilePrefix, c.Format)
}
