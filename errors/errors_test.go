package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"context deadline", context.DeadlineExceeded, true},
		{"broken pipe", fmt.Errorf("write tcp 127.0.0.1:7878: broken pipe"), true},
		{"render failure", ErrRender, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrMissingConfig))
	assert.True(t, IsFatal(fmt.Errorf("listen tcp :7878: bind: address already in use")))
	assert.False(t, IsFatal(ErrConnectionTimeout))
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrRender))
	assert.True(t, IsInvalid(ErrUnknownModule))
	assert.True(t, IsInvalid(fmt.Errorf("wrapped: %w", ErrParsingFailed)))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrRender))
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("something odd")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "Server", "Start", "bind"))

	err := Wrap(ErrConnectionLost, "Server", "Start", "bind")
	assert.Equal(t, "Server.Start: bind failed: connection lost", err.Error())
	assert.True(t, errors.Is(err, ErrConnectionLost))
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Nil(t, test.wrap(nil, "Codec", "Format", "render"))

			err := test.wrap(ErrRender, "Codec", "Format", "render")
			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, test.class, ce.Class)
			assert.Equal(t, "Codec", ce.Component)
			assert.Equal(t, "Format", ce.Operation)
			assert.Equal(t, "Codec.Format: render failed: shdr render failed", err.Error())
			assert.True(t, errors.Is(err, ErrRender))
		})
	}
}

func TestClassifiedTakesPrecedence(t *testing.T) {
	// the message mentions a connection but the explicit class wins
	err := WrapInvalid(fmt.Errorf("connection string malformed"), "Config", "Validate", "parse url")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, ErrorInvalid, Classify(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsInvalid(wrapped))
}
