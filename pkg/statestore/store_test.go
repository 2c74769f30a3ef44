package statestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/modhub-go/pkg/statetree"
)

// memoryPersister records writes and can be told to fail or stall
type memoryPersister struct {
	mu       sync.Mutex
	cached   map[string]map[string]any
	writes   int
	failWith error
	delay    time.Duration
	inFlight int32
	overlap  int32
}

func newMemoryPersister() *memoryPersister {
	return &memoryPersister{cached: make(map[string]map[string]any)}
}

func (p *memoryPersister) ReadCache(ctx context.Context, name string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return statetree.CloneTree(p.cached[name]), nil
}

func (p *memoryPersister) WriteCache(ctx context.Context, name string, state any) error {
	if atomic.AddInt32(&p.inFlight, 1) > 1 {
		atomic.StoreInt32(&p.overlap, 1)
	}
	defer atomic.AddInt32(&p.inFlight, -1)

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	if p.failWith != nil {
		return p.failWith
	}
	p.cached[name] = statetree.CloneTree(state.(map[string]any))
	return nil
}

func (p *memoryPersister) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func newTestStore(t *testing.T, name string, persister Persister, cache bool, onCommit CommitFunc) *Store {
	t.Helper()
	store, err := New(Config{
		Name:        name,
		Persister:   persister,
		ShouldCache: cache,
		OnCommit:    onCommit,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return store
}

func TestNew_RequiresName(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestSetState_MergesAndPersists(t *testing.T) {
	persister := newMemoryPersister()
	var deltas []statetree.Patch
	store := newTestStore(t, t.Name(), persister, true, func(ctx context.Context, state map[string]any, delta statetree.Patch) {
		deltas = append(deltas, delta)
	})
	ctx := context.Background()

	_, err := store.SetState(ctx, map[string]any{"home": 1.0})
	require.NoError(t, err)
	final, err := store.SetState(ctx, map[string]any{"away": 2.0})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"home": 1.0, "away": 2.0}, final)
	assert.Equal(t, 2, persister.writeCount())
	require.Len(t, deltas, 2)
	require.Len(t, deltas[0], 1)
	assert.Equal(t, "/home", deltas[0][0].Path)
	require.Len(t, deltas[1], 1)
	assert.Equal(t, "/away", deltas[1][0].Path)

	cached, err := persister.ReadCache(ctx, t.Name())
	require.NoError(t, err)
	assert.Equal(t, final, cached)
}

func TestSetState_NoCacheWritesWhenDisabled(t *testing.T) {
	persister := newMemoryPersister()
	store := newTestStore(t, t.Name(), persister, false, nil)

	_, err := store.SetState(context.Background(), map[string]any{"home": 1.0})
	require.NoError(t, err)

	assert.Equal(t, 0, persister.writeCount())
	assert.Equal(t, map[string]any{"home": 1.0}, store.CurrentState())
}

func TestSetState_RejectsNilDelta(t *testing.T) {
	store := newTestStore(t, t.Name(), nil, false, nil)
	_, err := store.SetState(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSetState_PersistenceFailureIsNotReturned(t *testing.T) {
	persister := newMemoryPersister()
	persister.failWith = errors.New("disk full")
	committed := 0
	store := newTestStore(t, t.Name(), persister, true, func(context.Context, map[string]any, statetree.Patch) {
		committed++
	})

	state, err := store.SetState(context.Background(), map[string]any{"home": 1.0})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"home": 1.0}, state)
	assert.Equal(t, map[string]any{"home": 1.0}, store.CurrentState())
	assert.Equal(t, 1, committed)
}

func TestSetState_FoldsConcurrentDeltas(t *testing.T) {
	persister := newMemoryPersister()
	persister.delay = time.Millisecond
	store := newTestStore(t, t.Name(), persister, true, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			_, err := store.SetState(ctx, map[string]any{key: float64(n)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	state := store.CurrentState()
	assert.Len(t, state, 20)
	assert.Equal(t, 20, persister.writeCount())
	assert.Equal(t, int32(0), atomic.LoadInt32(&persister.overlap), "persistence writes overlapped")
}

func TestSetState_StoresForSameNameShareLock(t *testing.T) {
	persister := newMemoryPersister()
	persister.delay = 2 * time.Millisecond
	first := newTestStore(t, t.Name(), persister, true, nil)
	second := newTestStore(t, t.Name(), persister, true, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = first.SetState(ctx, map[string]any{"a": 1.0}) }()
		go func() { defer wg.Done(); _, _ = second.SetState(ctx, map[string]any{"b": 1.0}) }()
	}
	wg.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&persister.overlap))
}

func TestCurrentState_DoesNotAlias(t *testing.T) {
	store := newTestStore(t, t.Name(), nil, false, nil)
	_, err := store.SetState(context.Background(), map[string]any{"teams": map[string]any{"home": "A"}})
	require.NoError(t, err)

	snapshot := store.CurrentState()
	snapshot["teams"].(map[string]any)["home"] = "mutated"
	snapshot["extra"] = true

	assert.Equal(t, map[string]any{"teams": map[string]any{"home": "A"}}, store.CurrentState())
}

func TestSetState_ReturnValueDoesNotAlias(t *testing.T) {
	store := newTestStore(t, t.Name(), nil, false, nil)
	state, err := store.SetState(context.Background(), map[string]any{"list": []any{1.0}})
	require.NoError(t, err)

	state["list"].([]any)[0] = 99.0
	assert.Equal(t, []any{1.0}, store.CurrentState()["list"])
}

func TestLoadFromCache(t *testing.T) {
	persister := newMemoryPersister()
	persister.cached[t.Name()] = map[string]any{"home": 7.0, "transient": "x"}

	store, err := New(Config{
		Name:        t.Name(),
		Persister:   persister,
		ShouldCache: true,
		ReadTransform: func(state map[string]any) map[string]any {
			delete(state, "transient")
			return state
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	loaded, err := store.LoadFromCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"home": 7.0}, loaded)

	final, err := store.SetState(context.Background(), map[string]any{"away": 1.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"home": 7.0, "away": 1.0}, final)
}

func TestLoadFromCache_MissingIsEmpty(t *testing.T) {
	store := newTestStore(t, t.Name(), newMemoryPersister(), true, nil)
	loaded, err := store.LoadFromCache(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestPersist_SkipsNonMapping(t *testing.T) {
	persister := newMemoryPersister()
	store := newTestStore(t, t.Name(), persister, true, nil)

	require.NoError(t, store.Persist(context.Background(), []any{1.0}))
	assert.Equal(t, 0, persister.writeCount())
}

func TestSetState_ObserverCanUpdateSameStore(t *testing.T) {
	var store *Store
	var paths []string
	store = newTestStore(t, t.Name(), newMemoryPersister(), false, func(ctx context.Context, state map[string]any, delta statetree.Patch) {
		for _, op := range delta {
			paths = append(paths, op.Path)
		}
		if _, ok := state["echo"]; ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := store.SetState(ctx, map[string]any{"echo": true})
		assert.NoError(t, err)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := store.SetState(ctx, map[string]any{"home": 1.0})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"home": 1.0, "echo": true}, store.CurrentState())
	assert.Equal(t, []string{"/home", "/echo"}, paths)
}
