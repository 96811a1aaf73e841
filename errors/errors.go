package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller whether to retry, reject or stop.
type ErrorClass int

const (
	// ErrorTransient errors may succeed on retry.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from bad input or configuration.
	ErrorInvalid
	// ErrorFatal errors should stop the process.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	}
	return "unknown"
}

var (
	// lifecycle
	ErrAlreadyStarted = errors.New("already started")
	ErrAlreadyStopped = errors.New("already stopped")

	// transport
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// codec and writers
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrRender        = errors.New("shdr render failed")
	ErrNoWriter      = errors.New("no writer configured")
	ErrWriteFailed   = errors.New("writer reported failure")

	// configuration
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")
	ErrUnknownModule  = errors.New("unknown module type")
)

// Re-exported so callers only need this package.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// ClassifiedError carries a class and the component and operation that
// produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string { return ce.Err.Error() }

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

// Sentinels and message fragments recognised when an error carries no
// explicit class. Socket errors from the net package only expose text.
var (
	transientSentinels = []error{
		ErrConnectionTimeout, ErrConnectionLost, ErrNoConnection,
		context.DeadlineExceeded, context.Canceled,
	}
	transientWords = []string{"timeout", "connection", "broken pipe", "temporary", "unavailable", "busy"}

	fatalSentinels = []error{ErrInvalidConfig, ErrMissingConfig}
	fatalWords     = []string{"fatal", "panic", "address already in use", "permission denied", "out of memory"}

	invalidSentinels = []error{ErrInvalidData, ErrParsingFailed, ErrRender, ErrUnknownModule}
)

func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func matches(err error, sentinels []error, words []string) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	if len(words) == 0 {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, w := range words {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

func is(err error, class ErrorClass, sentinels []error, words []string) bool {
	if err == nil {
		return false
	}
	if c, ok := classOf(err); ok {
		return c == class
	}
	return matches(err, sentinels, words)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return is(err, ErrorTransient, transientSentinels, transientWords)
}

// IsFatal reports whether err should stop processing.
func IsFatal(err error) bool {
	return is(err, ErrorFatal, fatalSentinels, fatalWords)
}

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool {
	return is(err, ErrorInvalid, invalidSentinels, nil)
}

// Classify returns the class of err. Unrecognised errors are transient.
func Classify(err error) ErrorClass {
	switch {
	case err == nil, IsTransient(err):
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	}
	return ErrorTransient
}

// Wrap adds context in the form "component.method: action failed: cause".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err as retryable.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps err as an input or configuration problem.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps err as unrecoverable.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}
