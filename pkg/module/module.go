package module

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/modhub-go/pkg/eventbus"
)

var (
	// ErrAlreadyRegistered is returned when Register is called twice for a module
	ErrAlreadyRegistered = errors.New("module already registered")
	// ErrNoBase is returned when a module does not embed an initialized *Base
	ErrNoBase = errors.New("module does not embed an initialized *module.Base")
)

// Host is the surface the server exposes to modules
type Host interface {
	// ReadCache returns the cached state for a module, or an empty map
	ReadCache(ctx context.Context, name string) (map[string]any, error)

	// WriteCache stores a module's state snapshot
	WriteCache(ctx context.Context, name string, state any) error

	// PushEvent broadcasts an event to every authenticated client
	PushEvent(name string, payload any)

	// PublishStateDelta announces a committed state change for a module
	PublishStateDelta(name string, delta any)
}

// Router registers HTTP handlers scoped under /modules/<name>/
type Router interface {
	Get(path string, h http.HandlerFunc)
	Post(path string, h http.HandlerFunc)
	Put(path string, h http.HandlerFunc)
	Delete(path string, h http.HandlerFunc)
}

// Module is a unit of functionality hosted by the server.
//
// Implementations embed *Base (built with NewBase) and provide Setup, which
// runs once during registration after cached state has been loaded. A type
// that does not embed *Base cannot satisfy this interface.
type Module interface {
	// Setup is the module's lifecycle hook
	Setup(ctx context.Context, host Host, routes Router) error

	Name() string
	Options() Options
	Logger() zerolog.Logger
	Events() *eventbus.Bus
	SafeState() map[string]any
	SetState(ctx context.Context, delta map[string]any) (map[string]any, error)

	core() *Base
}

// Register attaches the host to m, loads its cached state when caching is
// enabled, then runs Setup. It may be called only once per module.
func Register(ctx context.Context, m Module, host Host, routes Router) error {
	b := m.core()
	if b == nil || b.store == nil {
		return ErrNoBase
	}
	if !b.registered.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", b.name, ErrAlreadyRegistered)
	}

	b.setHost(host)

	if b.opts.ShouldCacheState {
		if _, err := b.store.LoadFromCache(ctx); err != nil {
			return fmt.Errorf("failed to load cached state for %s: %w", b.name, err)
		}
	}

	if err := m.Setup(ctx, host, routes); err != nil {
		return fmt.Errorf("setup of module %s failed: %w", b.name, err)
	}

	b.logger.Debug().Msg("Module registered")
	return nil
}
