package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mterrors "github.com/c360/semstreams-mtconnect/errors"
)

func testConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(3), func() error {
		attempts++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	sentinel := errors.New("bad endpoint")
	err := Do(context.Background(), testConfig(5), func() error {
		attempts++
		return NonRetryable(sentinel)
	})

	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestDo_ClassifiedErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(5), func() error {
		attempts++
		return mterrors.WrapInvalid(errors.New("bad node id"), "Input", "connect", "parse node")
	})
	assert.True(t, mterrors.IsInvalid(err))
	assert.Equal(t, 1, attempts)

	attempts = 0
	_ = Do(context.Background(), testConfig(3), func() error {
		attempts++
		return mterrors.WrapTransient(errors.New("refused"), "Client", "Connect", "dial")
	})
	assert.Equal(t, 3, attempts, "transient errors are retried")
}

func TestBackoffCapped(t *testing.T) {
	b := backoff{cfg: testConfig(5)}
	assert.Equal(t, 5*time.Millisecond, b.next())
	assert.Equal(t, 10*time.Millisecond, b.next())
	assert.Equal(t, 20*time.Millisecond, b.next())
	assert.Equal(t, 20*time.Millisecond, b.next())
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig(5)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error { return errors.New("timeout") })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_OnRetryHook(t *testing.T) {
	var seen []int
	cfg := testConfig(3)
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) {
		seen = append(seen, attempt)
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("busy") })

	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_InvalidConfig(t *testing.T) {
	cfg := testConfig(3)
	cfg.MaxDelay = time.Millisecond
	cfg.InitialDelay = time.Second

	err := Do(context.Background(), cfg, func() error { return nil })
	assert.Error(t, err)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), testConfig(3), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("unavailable")
		}
		return "session", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "session", got)
}
