package statestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/modhub-go/internal/keylock"
	"github.com/rmacdonaldsmith/modhub-go/pkg/statetree"
)

var (
	// ErrInvalidState is returned when a delta is not a keyed mapping
	ErrInvalidState = errors.New("state delta must be a keyed mapping")
	// ErrEmptyName is returned when a store is created without a module name
	ErrEmptyName = errors.New("store name cannot be empty")
)

// locks is shared by every Store in the process so that two stores created
// for the same module name still serialize their writes.
var locks = keylock.New()

// Persister reads and writes the cached snapshot of a module's state.
type Persister interface {
	ReadCache(ctx context.Context, name string) (map[string]any, error)
	WriteCache(ctx context.Context, name string, state any) error
}

// CommitFunc observes a committed mutation. It runs after persistence and
// after the write lock is released, so it may call SetState on the same
// store. Observers of one store see commits in commit order.
type CommitFunc func(ctx context.Context, state map[string]any, delta statetree.Patch)

type commit struct {
	ctx   context.Context
	state map[string]any
	delta statetree.Patch
}

// Config configures a Store
type Config struct {
	// Name is the module name the store belongs to; it scopes the write lock
	Name string

	// Persister backs LoadFromCache and Persist; nil disables both
	Persister Persister

	// ShouldCache makes SetState persist every committed state
	ShouldCache bool

	// ReadTransform rewrites the state read from the cache before it goes live
	ReadTransform func(map[string]any) map[string]any

	// OnCommit is invoked once per successful SetState
	OnCommit CommitFunc

	// Logger receives warnings about dropped writes and persistence failures
	Logger zerolog.Logger
}

// Store owns the live state tree of one module. All mutation goes through
// SetState; reads hand out deep copies.
type Store struct {
	mu    sync.RWMutex
	state map[string]any

	name          string
	persister     Persister
	shouldCache   bool
	readTransform func(map[string]any) map[string]any
	onCommit      CommitFunc
	logger        zerolog.Logger

	// pending commits not yet handed to onCommit; one goroutine drains at a time
	notifyMu    sync.Mutex
	pending     []commit
	dispatching bool
}

// New creates a store with an empty state
func New(cfg Config) (*Store, error) {
	if cfg.Name == "" {
		return nil, ErrEmptyName
	}

	transform := cfg.ReadTransform
	if transform == nil {
		transform = func(state map[string]any) map[string]any { return state }
	}

	return &Store{
		state:         map[string]any{},
		name:          cfg.Name,
		persister:     cfg.Persister,
		shouldCache:   cfg.ShouldCache && cfg.Persister != nil,
		readTransform: transform,
		onCommit:      cfg.OnCommit,
		logger:        cfg.Logger.With().Str("store", cfg.Name).Logger(),
	}, nil
}

// Name returns the module name this store belongs to
func (s *Store) Name() string {
	return s.name
}

// CurrentState returns a deep copy of the live state.
func (s *Store) CurrentState() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return statetree.CloneTree(s.state)
}

// SetState merges delta into the live state and returns a copy of the result.
//
// Only one SetState per module name is in flight at a time; callers queue in
// arrival order. The new state is live before it is persisted, but SetState
// does not return until persistence (when enabled) has finished. Persistence
// failures are logged, not returned: the in-memory commit stands.
//
// A SetState made from inside the commit observer returns once its own
// commit is persisted; its notification is delivered after the current one.
func (s *Store) SetState(ctx context.Context, delta map[string]any) (map[string]any, error) {
	if delta == nil {
		s.logger.Warn().Msg("Rejected state update: delta is not a keyed mapping")
		return nil, ErrInvalidState
	}

	result, err := s.apply(ctx, delta)
	if err != nil {
		return nil, err
	}
	s.dispatch()
	return result, nil
}

func (s *Store) apply(ctx context.Context, delta map[string]any) (map[string]any, error) {
	unlock, err := locks.Lock(ctx, s.name+"-state")
	if err != nil {
		return nil, fmt.Errorf("failed to acquire state lock for %s: %w", s.name, err)
	}
	defer unlock()

	s.mu.Lock()
	oldState := s.state
	newState := statetree.Merge(oldState, delta)
	s.state = newState
	s.mu.Unlock()

	if s.shouldCache {
		if err := s.Persist(ctx, statetree.CloneTree(newState)); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist state; memory and cache have diverged")
		}
	}

	patch, err := statetree.Diff(oldState, newState)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to compute state diff")
	}

	if s.onCommit != nil {
		s.notifyMu.Lock()
		s.pending = append(s.pending, commit{ctx: ctx, state: statetree.CloneTree(newState), delta: patch})
		s.notifyMu.Unlock()
	}

	return statetree.CloneTree(newState), nil
}

// dispatch hands queued commits to the observer in commit order. If another
// call is already draining the queue, it delivers this commit too.
func (s *Store) dispatch() {
	if s.onCommit == nil {
		return
	}

	s.notifyMu.Lock()
	if s.dispatching {
		s.notifyMu.Unlock()
		return
	}
	s.dispatching = true

	for len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		s.notifyMu.Unlock()

		s.notify(c)

		s.notifyMu.Lock()
	}
	s.dispatching = false
	s.notifyMu.Unlock()
}

func (s *Store) notify(c commit) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Commit observer panicked")
		}
	}()
	s.onCommit(c.ctx, c.state, c.delta)
}

// LoadFromCache replaces the live state with the cached snapshot passed
// through the read transform. A missing cache yields an empty state.
func (s *Store) LoadFromCache(ctx context.Context) (map[string]any, error) {
	if s.persister == nil {
		return s.CurrentState(), nil
	}

	unlock, err := locks.Lock(ctx, s.name+"-state")
	if err != nil {
		return nil, fmt.Errorf("failed to acquire state lock for %s: %w", s.name, err)
	}
	defer unlock()

	cached, err := s.persister.ReadCache(ctx, s.name)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache for %s: %w", s.name, err)
	}
	if cached == nil {
		cached = map[string]any{}
	}

	loaded := s.readTransform(cached)
	if loaded == nil {
		loaded = map[string]any{}
	}

	s.mu.Lock()
	s.state = statetree.CloneTree(loaded)
	s.mu.Unlock()

	return s.CurrentState(), nil
}

// Persist writes state through the persister. Values that are not keyed
// mappings are skipped with a warning.
func (s *Store) Persist(ctx context.Context, state any) error {
	if s.persister == nil {
		return nil
	}
	if !statetree.IsTree(state) {
		s.logger.Warn().Msg("Refusing to persist a non-mapping state; probably a bug in the module")
		return nil
	}
	return s.persister.WriteCache(ctx, s.name, state)
}
