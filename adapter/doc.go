// Package adapter implements the change-tracking core of an SHDR adapter.
//
// An Adapter keeps three independent families of state: observations,
// assets and devices. Each family holds
//
//   - current: the latest value added per key
//   - lastSent: the latest value successfully written per key
//   - sent: the fingerprint of the value last written per key
//
// Values reach readers through injected Writers. The adapter never renders
// wire text itself; it only decides what to hand to the writers and when.
//
// Two flush strategies exist. Diff mode (SendChanged) writes every current
// value whose fingerprint differs from the one last written for its key.
// Buffered mode (SendBuffer) drains a FIFO of every accepted observation,
// in arrival order, whether or not it is still the latest for its key.
// In both modes observations go first, then assets, then devices, and a
// failed family stops the chain for that cycle.
//
// A sent fingerprint is recorded only after a write succeeds, so a failed
// diff flush is retried on the next cycle. The explicit Send* calls remove
// the key from current before writing and are not retried.
//
// Cache locks are never held across a writer call: a family snapshot is
// copied out, the lock is released, and the result is committed afterwards.
// A single flush lock orders every write that commits or replays. Adds
// never wait on a slow reader, and the adapter never calls its writers
// concurrently. Writers must not call back into the adapter.
//
// AttachReader replays the last written state to a new reader and makes the
// reader visible to the shared writers under that flush lock. The reader
// gets each value at least once, either in its replay or in a later flush.
//
// Basic usage:
//
//	a, err := adapter.New(adapter.DefaultConfig(), adapter.Writers{
//	    Observations: sink.WriteObservations,
//	    Assets:       sink.WriteAssets,
//	    Devices:      sink.WriteDevices,
//	}, adapter.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := a.Start(ctx); err != nil {
//	    return err
//	}
//	defer a.Stop(5 * time.Second)
//
//	a.AddObservation(mtconnect.NewSample("temp", "99.5", 0))
package adapter
