package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Handler receives an event. The result is only observed by EmitAsync.
type Handler func(ctx context.Context, ev Event) (any, error)

// Listen adapts a plain callback into a Handler
func Listen(fn func(ev Event)) Handler {
	return func(_ context.Context, ev Event) (any, error) {
		fn(ev)
		return nil, nil
	}
}

// ErrorHandler is told about handler failures during Emit
type ErrorHandler func(ev Event, err error)

// Option configures a Bus
type Option func(*Bus)

// WithErrorHandler sets the callback for handler errors and recovered panics
func WithErrorHandler(fn ErrorHandler) Option {
	return func(b *Bus) {
		b.onError = fn
	}
}

// Subscription identifies a registered handler
type Subscription struct {
	id uint64
}

// subscriber is one registration. wildcard subscribers match every name;
// the others match their exact name only.
type subscriber struct {
	id       uint64
	name     string
	wildcard bool
	handler  Handler
}

func (s *subscriber) matches(name string) bool {
	return s.wildcard || s.name == name
}

// Bus is a namespaced publish/subscribe registry.
//
// Matching is explicit: a handler registered with On receives events whose
// name equals the registered name exactly; a handler registered with OnAny
// receives every event. No pattern syntax is interpreted in names. Handlers
// run in registration order, interleaving exact and wildcard handlers.
type Bus struct {
	mu          sync.Mutex
	subscribers []*subscriber // copy-on-write; never mutated in place
	nextID      atomic.Uint64
	onError     ErrorHandler
}

// New creates an empty Bus
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers handler for events named exactly name
func (b *Bus) On(name string, handler Handler) Subscription {
	return b.add(&subscriber{name: name, handler: handler})
}

// OnAny registers handler for every event regardless of namespace
func (b *Bus) OnAny(handler Handler) Subscription {
	return b.add(&subscriber{wildcard: true, handler: handler})
}

// Off removes a subscription. Removing an unknown subscription is a no-op.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if s.id != sub.id {
			next = append(next, s)
		}
	}
	b.subscribers = next
}

// ListenerCount returns how many handlers would receive an event named name
func (b *Bus) ListenerCount(name string) int {
	return len(b.matching(name))
}

// Emit delivers an event synchronously to every matching handler in
// registration order. Handler errors and panics go to the error handler and
// never stop delivery to the remaining handlers.
func (b *Bus) Emit(ctx context.Context, name string, payload any) {
	ev := Event{Name: name, Payload: payload}
	for _, s := range b.matching(name) {
		if _, err := b.invoke(ctx, s, ev); err != nil && b.onError != nil {
			b.onError(ev, err)
		}
	}
}

// EmitAsync runs every matching handler concurrently and waits for all of
// them. Results are returned in registration order; errors from all handlers
// are joined.
func (b *Bus) EmitAsync(ctx context.Context, name string, payload any) ([]any, error) {
	ev := Event{Name: name, Payload: payload}
	subs := b.matching(name)

	results := make([]any, len(subs))
	errs := make([]error, len(subs))

	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s *subscriber) {
			defer wg.Done()
			results[i], errs[i] = b.invoke(ctx, s, ev)
		}(i, s)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

func (b *Bus) add(s *subscriber) Subscription {
	s.id = b.nextID.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]*subscriber, len(b.subscribers), len(b.subscribers)+1)
	copy(next, b.subscribers)
	b.subscribers = append(next, s)

	return Subscription{id: s.id}
}

func (b *Bus) matching(name string) []*subscriber {
	b.mu.Lock()
	subs := b.subscribers
	b.mu.Unlock()

	var out []*subscriber
	for _, s := range subs {
		if s.matches(name) {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) invoke(ctx context.Context, s *subscriber, ev Event) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %q panicked: %v", ev.Name, r)
		}
	}()
	return s.handler(ctx, ev)
}
