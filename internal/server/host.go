package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rmacdonaldsmith/modhub-go/internal/hub"
	"github.com/rmacdonaldsmith/modhub-go/internal/metrics"
	"github.com/rmacdonaldsmith/modhub-go/pkg/eventbus"
	"github.com/rmacdonaldsmith/modhub-go/pkg/module"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
	"github.com/rmacdonaldsmith/modhub-go/pkg/statetree"
)

var (
	// ErrUnknownModule is returned for requests naming a module that is not loaded
	ErrUnknownModule = errors.New("module does not exist")
	// ErrExternalUpdatesDisallowed is returned when a module only accepts
	// state changes from its own code
	ErrExternalUpdatesDisallowed = errors.New("module disallows external state changes")
)

var (
	_ module.Host = (*Server)(nil)
	_ hub.Backend = (*Server)(nil)
)

// ReadCache returns the cached state of a module
func (s *Server) ReadCache(ctx context.Context, name string) (map[string]any, error) {
	s.logger.Debug().Str("module", name).Msg("Loading module cache")
	return s.cache.ReadCache(ctx, name)
}

// WriteCache persists a module's state snapshot
func (s *Server) WriteCache(ctx context.Context, name string, state any) error {
	if !statetree.IsTree(state) {
		s.logger.Warn().Str("module", name).Msg("Module attempted to save a non-object cache; probably a bug")
		return nil
	}

	timer := metrics.NewTimer()
	err := s.cache.WriteCache(ctx, name, state)
	timer.ObserveDurationVec(metrics.CacheWriteDuration, name)
	if err != nil {
		metrics.CacheWriteFailuresTotal.WithLabelValues(name).Inc()
		return err
	}
	return nil
}

// PushEvent sends an event to every authenticated client. A nil payload is
// sent as an empty object.
func (s *Server) PushEvent(name string, payload any) {
	if payload == nil {
		payload = map[string]any{}
	}
	s.hub.Broadcast(name, payload)
}

// PublishStateDelta places a committed module delta on the server bus
func (s *Server) PublishStateDelta(name string, delta any) {
	metrics.StateUpdatesTotal.WithLabelValues(name).Inc()
	s.bus.Emit(context.Background(), protocol.EventStateDelta, protocol.StateDelta{
		ModuleName: name,
		Delta:      delta,
	})
}

// Emit places an event on the server bus
func (s *Server) Emit(ctx context.Context, name string, payload any) {
	s.bus.Emit(ctx, name, payload)
}

// Module returns a loaded module by name
func (s *Server) Module(name string) (module.Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[strings.ToLower(name)]
	return m, ok
}

// FullState returns every module's state keyed by module name
func (s *Server) FullState() protocol.FullState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	full := make(protocol.FullState, len(s.modules))
	for name, m := range s.modules {
		full[name] = m.SafeState()
	}
	return full
}

// SetRemoteModuleState applies a client-submitted delta to a module
func (s *Server) SetRemoteModuleState(ctx context.Context, name string, delta any) (map[string]any, error) {
	m, ok := s.Module(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	if m.Options().InternalStateUpdatesOnly {
		return nil, fmt.Errorf("%w: %q", ErrExternalUpdatesDisallowed, name)
	}

	tree, err := statetree.AsTree(delta)
	if err != nil {
		return nil, err
	}
	return m.SetState(ctx, tree)
}

// automaticPushdown broadcasts non-internal events matching the first
// configured pattern. State deltas have their own fan-out.
func (s *Server) automaticPushdown(ev eventbus.Event) {
	if eventbus.IsInternal(ev.Name) || ev.Name == protocol.EventStateDelta {
		return
	}

	patterns := s.pushdowns.Load()
	if patterns == nil {
		return
	}
	for _, re := range *patterns {
		if re.MatchString(ev.Name) {
			s.logger.Debug().Str("event", ev.Name).Str("pattern", re.String()).Msg("Automatic pushdown")
			metrics.PushdownsTotal.Inc()
			s.PushEvent(ev.Name, ev.Payload)
			return
		}
	}
}

func (s *Server) broadcastStateDelta(ev eventbus.Event) {
	s.hub.Broadcast(protocol.EventStateDelta, ev.Payload)
}

