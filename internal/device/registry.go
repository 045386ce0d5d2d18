package device

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an unopened device for the given serial number.
// "auto" or "" asks the driver to pick the first device it finds.
type Factory func(serial string) (Device, error)

// Registry maps driver names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var defaultRegistry = NewRegistry()

// Register adds a driver to the default registry. Drivers call this from init
func Register(name string, f Factory) {
	defaultRegistry.Register(name, f)
}

// New builds a device from the default registry
func New(driver, serial string) (Device, error) {
	return defaultRegistry.New(driver, serial)
}

// Drivers lists the drivers of the default registry
func Drivers() []string {
	return defaultRegistry.Drivers()
}

// Register adds or replaces a driver
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds a device using the named driver
func (r *Registry) New(driver, serial string) (Device, error) {
	r.mu.RLock()
	f, ok := r.factories[driver]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no device driver %q registered (available: %v)", driver, r.Drivers())
	}
	return f(serial)
}

// Drivers returns the sorted driver names
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
