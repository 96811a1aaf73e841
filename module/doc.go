// Package module provides the static registry of adapter extensions.
//
// Extensions are either inputs, which feed values into the adapter, or
// outputs, which receive flushed batches as a Sink. Each extension type
// registers a Factory under a type name with an explicit Register call at
// startup; there is no runtime discovery.
//
// A Set holds the modules created for one adapter instance. A module whose
// factory fails is logged and skipped so the remaining modules still load.
//
//	reg := module.NewRegistry()
//	if err := moduleregistry.Register(reg); err != nil {
//	    return err
//	}
//	set := module.NewSet(reg, logger)
//	a, _ := adapter.New(cfg, set.Writers())
//	err := set.CreateAll(specs, module.Dependencies{Adapter: a, Replay: a})
package module
