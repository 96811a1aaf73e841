package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/semstreams-mtconnect/errors"
)

// Start begins the periodic flush worker when an interval is configured.
// The worker stops when ctx is cancelled or Stop is called.
func (a *Adapter) Start(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Adapter", "Start", "state check")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.startTime = a.now()
	a.running.Store(true)

	if a.cfg.Interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.run(workerCtx)
		}()
	}

	done := a.done
	go func() {
		a.wg.Wait()
		close(done)
	}()

	a.logger.Info("Adapter started",
		"interval", a.cfg.Interval,
		"buffered", a.cfg.EnableBuffer,
		"filter_duplicates", a.cfg.FilterDuplicates)

	if a.hooks.OnStart != nil {
		a.hooks.OnStart()
	}
	return nil
}

// Stop halts the worker and waits up to timeout for the current tick to
// finish. In-flight writes are not aborted. Stop is idempotent.
func (a *Adapter) Stop(timeout time.Duration) error {
	a.lifecycleMu.Lock()
	if !a.running.Load() {
		a.lifecycleMu.Unlock()
		return nil
	}
	a.running.Store(false)
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.lifecycleMu.Unlock()

	cancel()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Adapter", "Stop", "worker shutdown")
	}

	if a.hooks.OnStop != nil {
		a.hooks.OnStop()
	}
	a.logger.Info("Adapter stopped")
	return err
}

// IsRunning reports whether Start has been called without a matching Stop.
func (a *Adapter) IsRunning() bool {
	return a.running.Load()
}

// run flushes once per interval. The wait after each tick is the interval
// minus the time the tick took, never less than minInterval.
func (a *Adapter) run(ctx context.Context) {
	interval := max(a.cfg.Interval, minInterval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := a.tick(); err != nil {
			a.reportError(err)
		}
		elapsed := time.Since(start)

		timer.Reset(max(interval-elapsed, minInterval))
	}
}

// tick runs one flush. A panic is recovered and returned as an error so
// the loop keeps running.
func (a *Adapter) tick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.metrics.recordPanic()
			err = errors.WrapTransient(fmt.Errorf("panic: %v", r), "Adapter", "tick", "flush")
		}
	}()

	if !a.Flush() {
		mode := modeChanged
		if a.cfg.EnableBuffer {
			mode = modeBuffer
		}
		return errors.WrapTransient(errors.ErrWriteFailed, "Adapter", "tick", mode+" flush")
	}
	return nil
}

// reportError surfaces a worker failure to the error handler and the log.
func (a *Adapter) reportError(err error) {
	a.lastFlushOK.Store(false)
	if a.onError != nil {
		a.onError(err)
	}
	if a.errLimiter.Allow() {
		a.logger.Error("Flush failed", "error", err)
	}
}
