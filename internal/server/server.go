// Package server wires modules, the event bus, the connection hub and the
// HTTP surface into one running process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/modhub-go/internal/auth"
	"github.com/rmacdonaldsmith/modhub-go/internal/cache"
	"github.com/rmacdonaldsmith/modhub-go/internal/config"
	"github.com/rmacdonaldsmith/modhub-go/internal/httpapi"
	"github.com/rmacdonaldsmith/modhub-go/internal/hub"
	"github.com/rmacdonaldsmith/modhub-go/internal/log"
	"github.com/rmacdonaldsmith/modhub-go/internal/metrics"
	"github.com/rmacdonaldsmith/modhub-go/internal/registry"
	"github.com/rmacdonaldsmith/modhub-go/pkg/eventbus"
	"github.com/rmacdonaldsmith/modhub-go/pkg/module"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// DefaultShutdownTimeout bounds graceful HTTP shutdown
const DefaultShutdownTimeout = 10 * time.Second

var (
	// ErrNilConfig is returned when the server is created without configuration
	ErrNilConfig = errors.New("config cannot be nil")
	// ErrServerClosed is returned when starting a closed server
	ErrServerClosed = errors.New("server is closed")
)

// Option configures a Server
type Option func(*Server)

// WithModules hosts the given modules instead of loading the configured
// names through the registry.
func WithModules(mods ...module.Module) Option {
	return func(s *Server) {
		s.preloaded = mods
	}
}

// WithCache replaces the cache opened from the storage configuration
func WithCache(c cache.Cache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// WithQueueSize sets the per-connection outbound queue length
func WithQueueSize(n int) Option {
	return func(s *Server) {
		s.hubOptions = append(s.hubOptions, hub.WithQueueSize(n))
	}
}

// WithShutdownTimeout bounds how long Serve waits for HTTP requests to drain
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// Server hosts modules and fans their events out to connected clients.
//
// Module state lives in each module's store; the server owns the bus that
// module events are re-namespaced onto, the automatic pushdown filter, and
// the cache modules persist through.
type Server struct {
	mu      sync.RWMutex
	started bool
	closed  bool

	holder *config.Holder
	bus    *eventbus.Bus
	cache  cache.Cache
	gate   *auth.Gate
	hub    *hub.Hub
	http   *httpapi.Server

	// modules is written once by Start and read-only afterwards
	modules   map[string]module.Module
	preloaded []module.Module

	pushdowns       atomic.Pointer[[]*regexp.Regexp]
	hubOptions      []hub.Option
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// New creates a server from the holder's configuration. It creates every
// configured path and opens the cache but does not load modules; call Start
// or Serve for that.
func New(holder *config.Holder, opts ...Option) (*Server, error) {
	if holder == nil || holder.Get() == nil {
		return nil, ErrNilConfig
	}
	cfg := holder.Get()

	s := &Server{
		holder:          holder,
		modules:         make(map[string]module.Module),
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          log.WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, p := range cfg.AllPaths() {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create path %s: %w", p, err)
		}
	}

	if s.cache == nil {
		c, err := cache.Open(cfg.Storage.Driver, cfg.Paths.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		s.cache = c
	}

	sessions, err := auth.NewSessions(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		return nil, err
	}
	if cfg.Session.Secret == "" {
		s.logger.Warn().Msg("No session secret configured; session tokens will not survive a restart")
	}

	s.gate = auth.NewGate(authTables(cfg))
	s.bus = eventbus.New(eventbus.WithErrorHandler(func(ev eventbus.Event, err error) {
		s.logger.Error().Err(err).Str("event", ev.Name).Msg("Event handler failed")
	}))
	s.hub = hub.New(s, s.gate, s.hubOptions...)
	s.http = httpapi.NewServer(httpapi.Dependencies{
		Gate:     s.gate,
		Sessions: sessions,
		Modules:  s,
		Sockets:  s.hub,
	}, httpapi.Config{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	})

	patterns := cfg.Pushdowns()
	s.pushdowns.Store(&patterns)
	holder.OnChange(s.applyConfig)

	return s, nil
}

// Bus returns the server event bus
func (s *Server) Bus() *eventbus.Bus {
	return s.bus
}

// Hub returns the connection hub
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// HTTP returns the HTTP surface
func (s *Server) HTTP() *httpapi.Server {
	return s.http
}

// Start loads and registers every module, then installs the post-registration
// listeners. It is idempotent.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.started {
		return nil
	}

	mods, err := s.loadModules(ctx)
	if err != nil {
		return err
	}

	s.logger.Info().Int("count", len(mods)).Msg("Registering all modules with the server")

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range mods {
		m := m
		g.Go(func() error {
			return s.registerModule(gctx, m)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.modules = mods
	metrics.ModulesLoaded.Set(float64(len(mods)))

	s.postModuleRegistration()
	s.started = true
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	addr := s.holder.Get().Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts the server if needed, emits internal.beforeRun and serves
// HTTP and real-time clients on ln until ctx is cancelled. On return every
// client is disconnected and the cache is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.Start(ctx); err != nil {
		ln.Close()
		return err
	}

	s.bus.Emit(ctx, eventbus.EventBeforeRun, s)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Web server listening")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.hub.Close()
	if err := s.http.Stop(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
	}
	if err := s.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close server")
	}

	s.logger.Info().Msg("Server stopped")
	return serveErr
}

// Close releases the cache and stops configuration watching. It is
// idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.started = false

	s.hub.Close()
	s.holder.Stop()

	if err := s.cache.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	return nil
}

// Modules returns the registered modules sorted by name
func (s *Server) Modules() []module.Module {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]module.Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b module.Module) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return out
}

func (s *Server) loadModules(ctx context.Context) (map[string]module.Module, error) {
	if s.preloaded != nil {
		mods := make(map[string]module.Module, len(s.preloaded))
		for _, m := range s.preloaded {
			if _, dup := mods[m.Name()]; dup {
				s.logger.Warn().Str("module", m.Name()).Msg("Duplicate module name; the later entry replaces the earlier one")
			}
			mods[m.Name()] = m
		}
		return mods, nil
	}

	cfg := s.holder.Get()
	mods, err := registry.Load(ctx, cfg.Paths.Root, cfg.Modules)
	if err != nil {
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}
	return mods, nil
}

// registerModule prepares a module's storage, bridges its emitter onto the
// server bus and runs its lifecycle hook.
func (s *Server) registerModule(ctx context.Context, m module.Module) error {
	name := m.Name()

	if err := s.cache.Prepare(name); err != nil {
		return fmt.Errorf("failed to prepare storage for %s: %w", name, err)
	}

	routes, err := s.http.ModuleRouter(name)
	if err != nil {
		return err
	}

	if err := module.Register(ctx, m, s, routes); err != nil {
		return err
	}

	m.Events().OnAny(func(ctx context.Context, ev eventbus.Event) (any, error) {
		if !eventbus.IsInternal(ev.Name) {
			s.bus.Emit(ctx, eventbus.Join(name, ev.Name), ev.Payload)
		}
		return nil, nil
	})

	s.logger.Info().Str("module", name).Msg("Module registered")
	return nil
}

// postModuleRegistration installs the automatic pushdown filter and the
// state delta fan-out.
func (s *Server) postModuleRegistration() {
	s.bus.OnAny(eventbus.Listen(s.automaticPushdown))
	s.bus.On(protocol.EventStateDelta, eventbus.Listen(s.broadcastStateDelta))
}

func (s *Server) applyConfig(cfg *config.Config) {
	s.gate.Update(authTables(cfg))

	patterns := cfg.Pushdowns()
	s.pushdowns.Store(&patterns)

	log.SetLevel(log.ParseLevel(cfg.Logging.Level))
	s.logger.Info().Int("pushdowns", len(patterns)).Msg("Applied configuration change")
}

func authTables(cfg *config.Config) auth.Tables {
	return auth.Tables{
		Frontend:   cfg.Auth.Frontend,
		Management: cfg.Auth.Management,
	}
}
