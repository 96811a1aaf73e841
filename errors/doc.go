// Package errors classifies the adapter's errors as transient, invalid or
// fatal.
//
// Wrapped errors read "component.method: action failed: cause":
//
//	if err := ln.Close(); err != nil {
//	    return errors.WrapTransient(err, "Server", "Stop", "close listener")
//	}
//
// Errors without an explicit class are classified from well-known
// sentinels and, for socket errors, from their message text.
//
// Cache operations on the adapter report through booleans instead.
// Classified errors cover lifecycle, configuration and codec failures.
package errors
