package shdr

import (
	"fmt"
	"strings"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/mtconnect"
)

const (
	// Unavailable is the value field of an unavailable observation.
	Unavailable = "UNAVAILABLE"

	// TimestampLayout is the SHDR timestamp format, always UTC.
	TimestampLayout = "2006-01-02T15:04:05.000Z"

	// MultilinePrefix starts the boundary that fences a multiline
	// document body.
	MultilinePrefix = "--multiline--"

	resetPrefix = ":MANUAL "
)

// Format controls how lines are rendered.
type Format struct {
	// OutputTimestamps writes the observation timestamp into the first
	// field. When false the field is left empty.
	OutputTimestamps bool

	// MultilineAssets wraps asset bodies in --multiline-- boundaries so
	// they may span physical lines.
	MultilineAssets bool

	// MultilineDevices does the same for device bodies.
	MultilineDevices bool
}

// DefaultFormat writes timestamps and single-line documents.
func DefaultFormat() Format {
	return Format{OutputTimestamps: true}
}

// Timestamp renders the leading timestamp field.
func (f Format) Timestamp(ms int64) string {
	if !f.OutputTimestamps || ms <= 0 {
		return ""
	}
	return mtconnect.Time(ms).Format(TimestampLayout)
}

func renderError(method, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrRender, detail), "Codec", method, "render")
}

// checkKey rejects keys that would corrupt the field structure.
func checkKey(method, key string) error {
	if key == "" {
		return renderError(method, "empty key")
	}
	if strings.ContainsAny(key, "|\r\n") {
		return renderError(method, "key %q contains a delimiter", key)
	}
	return nil
}

// checkField rejects single-line values that contain a field or line
// delimiter.
func checkField(method, key, value string) error {
	if strings.ContainsAny(value, "|\r\n") {
		return renderError(method, "value of %q contains a delimiter", key)
	}
	return nil
}

// checkLine rejects values that may hold a pipe but not a line break.
func checkLine(method, key, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return renderError(method, "value of %q contains a line break", key)
	}
	return nil
}
