package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/autopt/ptspider/internal/profile"
)

// Factory builds a Helper for one site profile.
type Factory func(site *profile.Site, opts ...Option) (Helper, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register associates a parser name with a Helper factory. It panics on a
// duplicate name, matching the behavior of database/sql driver registration.
func Register(parser string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[parser]; dup {
		panic(fmt.Sprintf("session: Register called twice for parser %q", parser))
	}
	registry[parser] = f
}

// Build constructs the Helper for a profile by its declared parser name.
func Build(site *profile.Site, opts ...Option) (Helper, error) {
	registryMu.RLock()
	f, ok := registry[site.Parser]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session: unknown parser %q for site %s (known: %v)",
			site.Parser, site.ID, Parsers())
	}
	return f(site, opts...)
}

// Parsers lists the registered parser names, sorted.
func Parsers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("NexusPHP", func(site *profile.Site, opts ...Option) (Helper, error) {
		return New(site, opts...)
	})
}
