// Package retry provides exponential backoff retry logic for transient failures.
//
// The adapter has no retry loop for data delivery: a failed flush is retried
// implicitly by the next diff cycle. This package is only used where a
// resource has to be acquired before anything can flow, such as binding the
// SHDR listener or connecting to an MQTT broker.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return s.bind()
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately.
package retry
