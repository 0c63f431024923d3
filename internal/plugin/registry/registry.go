// Package registry is the compile-time linkage point for trusted
// plugins. A trusted plugin is built into the host binary, so "loading"
// it at runtime means looking its factory up here rather than spawning
// anything — the same Register-in-init idiom database/sql and its
// drivers use.
package registry

import (
	"fmt"
	"sync"

	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

// Factory constructs a new Plugin instance. Called once per Load.
type Factory func() pkgplugin.Plugin

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a trusted plugin factory available under name. It is
// meant to be called from a plugin package's init(). Register panics on
// a duplicate name, matching database/sql.Register's behavior — a
// duplicate registration is a build-time programming error, not a
// runtime condition to recover from.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("plugin registry: Register called twice for name %q", name))
	}
	factories[name] = factory
}

// Lookup returns the factory registered under name, if any.
func Lookup(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Names returns every registered plugin name.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	return names
}
