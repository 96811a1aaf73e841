package module

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/c360/semstreams-mtconnect/errors"
)

// Factory builds a module from its raw JSON configuration. Factories do no
// I/O; connections are opened in Start.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Module, error)

// Registration describes one module type.
type Registration struct {
	Name        string  `json:"name"`
	Kind        Kind    `json:"kind"`
	Description string  `json:"description"`
	Factory     Factory `json:"-"`
}

// Registry maps module type names to registrations.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Registration)}
}

// Register adds a module type. Names must be unique.
func (r *Registry) Register(reg Registration) error {
	if err := validateName(reg.Name); err != nil {
		return errors.WrapInvalid(err, "Registry", "Register", "name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory function validation")
	}
	if reg.Kind != KindInput && reg.Kind != KindOutput {
		return errors.WrapInvalid(fmt.Errorf("%w: kind %q", errors.ErrInvalidConfig, reg.Kind),
			"Registry", "Register", "kind validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[reg.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("module type '%s' is already registered", reg.Name),
			"Registry", "Register", "duplicate registration check")
	}
	r.factories[reg.Name] = reg
	return nil
}

// Lookup returns the registration for a type name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.factories[name]
	return reg, ok
}

// List returns every registration ordered by name.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	regs := make([]Registration, 0, len(r.factories))
	for _, reg := range r.factories {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	slices.SortFunc(regs, func(a, b Registration) int {
		return strings.Compare(a.Name, b.Name)
	})
	return regs
}

// Create builds a module of the given type. Output modules must implement
// Sink.
func (r *Registry) Create(typeName string, rawConfig json.RawMessage, deps Dependencies) (Module, error) {
	reg, ok := r.Lookup(typeName)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownModule, typeName),
			"Registry", "Create", "factory lookup")
	}

	m, err := reg.Factory(rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", fmt.Sprintf("%s factory execution", typeName))
	}
	if m == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("factory %q returned no module", typeName),
			"Registry", "Create", "factory result validation")
	}

	if reg.Kind == KindOutput {
		if _, ok := m.(Sink); !ok {
			return nil, errors.WrapInvalid(fmt.Errorf("output %q does not implement Sink", typeName),
				"Registry", "Create", "sink validation")
		}
	}
	return m, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", errors.ErrInvalidConfig)
	}
	if len(name) > 64 {
		return fmt.Errorf("%w: name too long", errors.ErrInvalidConfig)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: invalid character %q in name %q", errors.ErrInvalidConfig, r, name)
		}
	}
	return nil
}
