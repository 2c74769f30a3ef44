package module

import (
	"slices"
	"strings"
	"sync"
)

// Provider builds a module from its configuration. New may return any value;
// the registry rejects results that do not implement Module.
type Provider struct {
	New func(config map[string]any) (any, error)

	// ConfigSchema is an optional JSON Schema document for the configuration
	ConfigSchema []byte
}

var (
	providersMu sync.RWMutex
	providers   = make(map[string]Provider)
)

// RegisterProvider makes a module available by name. It is meant to be
// called from an init function and panics if name is registered twice or
// the provider has no constructor.
func RegisterProvider(name string, p Provider) {
	name = strings.ToLower(name)

	providersMu.Lock()
	defer providersMu.Unlock()

	if p.New == nil {
		panic("module: RegisterProvider constructor is nil for " + name)
	}
	if _, dup := providers[name]; dup {
		panic("module: RegisterProvider called twice for " + name)
	}
	providers[name] = p
}

// LookupProvider returns the provider registered under name
func LookupProvider(name string) (Provider, bool) {
	providersMu.RLock()
	defer providersMu.RUnlock()
	p, ok := providers[strings.ToLower(name)]
	return p, ok
}

// Providers returns the sorted names of registered providers
func Providers() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
