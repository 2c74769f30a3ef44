package module

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/modhub-go/internal/log"
	"github.com/rmacdonaldsmith/modhub-go/pkg/eventbus"
	"github.com/rmacdonaldsmith/modhub-go/pkg/statestore"
	"github.com/rmacdonaldsmith/modhub-go/pkg/statetree"
)

// EventStateChanged is emitted on a module's own bus after every commit
const EventStateChanged = "stateChanged"

// StateChange is the payload of EventStateChanged
type StateChange struct {
	State map[string]any  `json:"state"`
	Delta statetree.Patch `json:"delta"`
}

// Base carries everything a module gets from the framework: identity,
// configuration, options, a logger, a private event bus and a state store.
type Base struct {
	name   string
	config map[string]any
	opts   Options
	logger zerolog.Logger
	events *eventbus.Bus
	store  *statestore.Store

	hostMu     sync.RWMutex
	host       Host
	registered atomic.Bool
}

// NewBase builds the embeddable core of a module. The name is lowercased.
// It panics if name is empty.
func NewBase(name string, config map[string]any, opts ...Option) *Base {
	name = strings.ToLower(name)

	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if config == nil {
		config = map[string]any{}
	}

	b := &Base{
		name:   name,
		config: config,
		opts:   o,
		logger: log.WithModule(name),
	}
	b.events = eventbus.New(eventbus.WithErrorHandler(func(ev eventbus.Event, err error) {
		b.logger.Error().Err(err).Str("event", ev.Name).Msg("Module event handler failed")
	}))

	store, err := statestore.New(statestore.Config{
		Name:          name,
		Persister:     hostPersister{b: b},
		ShouldCache:   o.ShouldCacheState,
		ReadTransform: o.ReadCacheTransform,
		OnCommit:      b.committed,
		Logger:        b.logger,
	})
	if err != nil {
		panic("module: " + err.Error())
	}
	b.store = store

	return b
}

// Name returns the lowercased module name
func (b *Base) Name() string { return b.name }

// Config returns the module's configuration tree
func (b *Base) Config() map[string]any { return b.config }

// Options returns the resolved module options
func (b *Base) Options() Options { return b.opts }

// Logger returns the module-scoped logger
func (b *Base) Logger() zerolog.Logger { return b.logger }

// Events returns the module's own event bus
func (b *Base) Events() *eventbus.Bus { return b.events }

// Host returns the host attached at registration, or nil before it
func (b *Base) Host() Host {
	b.hostMu.RLock()
	defer b.hostMu.RUnlock()
	return b.host
}

// SetState merges delta into the module state. See statestore.Store.SetState.
func (b *Base) SetState(ctx context.Context, delta map[string]any) (map[string]any, error) {
	return b.store.SetState(ctx, delta)
}

// SafeState returns a deep copy of the module state
func (b *Base) SafeState() map[string]any {
	return b.store.CurrentState()
}

// State is an alias for SafeState
func (b *Base) State() map[string]any {
	return b.store.CurrentState()
}

// On subscribes to a module event by exact name
func (b *Base) On(name string, handler eventbus.Handler) eventbus.Subscription {
	return b.events.On(name, handler)
}

// OnAny subscribes to every module event
func (b *Base) OnAny(handler eventbus.Handler) eventbus.Subscription {
	return b.events.OnAny(handler)
}

// Emit publishes an event on the module bus. The server forwards it to the
// server bus as <module>.<name>.
func (b *Base) Emit(ctx context.Context, name string, payload any) {
	b.events.Emit(ctx, name, payload)
}

// EmitAsync publishes an event and waits for every listener
func (b *Base) EmitAsync(ctx context.Context, name string, payload any) ([]any, error) {
	return b.events.EmitAsync(ctx, name, payload)
}

// PushEvent broadcasts <module>.<name> directly to authenticated clients
func (b *Base) PushEvent(name string, payload any) {
	h := b.Host()
	if h == nil {
		b.logger.Warn().Str("event", name).Msg("PushEvent before registration; dropped")
		return
	}
	h.PushEvent(eventbus.Join(b.name, name), payload)
}

func (b *Base) core() *Base { return b }

func (b *Base) setHost(h Host) {
	b.hostMu.Lock()
	b.host = h
	b.hostMu.Unlock()
}

func (b *Base) committed(ctx context.Context, state map[string]any, delta statetree.Patch) {
	b.events.Emit(ctx, EventStateChanged, StateChange{State: state, Delta: delta})
	if h := b.Host(); h != nil {
		h.PublishStateDelta(b.name, delta)
	}
}

// hostPersister routes store persistence through the host's cache
type hostPersister struct {
	b *Base
}

func (p hostPersister) ReadCache(ctx context.Context, name string) (map[string]any, error) {
	h := p.b.Host()
	if h == nil {
		return map[string]any{}, nil
	}
	return h.ReadCache(ctx, name)
}

func (p hostPersister) WriteCache(ctx context.Context, name string, state any) error {
	h := p.b.Host()
	if h == nil {
		return nil
	}
	return h.WriteCache(ctx, name, state)
}
