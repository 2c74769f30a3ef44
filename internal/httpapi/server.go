package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rmacdonaldsmith/modhub-go/internal/auth"
	"github.com/rmacdonaldsmith/modhub-go/internal/log"
	"github.com/rmacdonaldsmith/modhub-go/internal/metrics"
	"github.com/rmacdonaldsmith/modhub-go/pkg/module"
)

// ErrEmptyModuleName is returned when a module router is requested without a name
var ErrEmptyModuleName = errors.New("module name cannot be empty")

// Sessions issues and verifies bearer tokens
type Sessions interface {
	SessionIssuer
	SessionVerifier
}

var _ Sessions = (*auth.Sessions)(nil)

// Config holds server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Dependencies are the collaborators the HTTP surface serves
type Dependencies struct {
	Gate     Authenticator
	Sessions Sessions
	Modules  ModuleLister
	Sockets  SocketServer
}

// Server represents the HTTP API server
type Server struct {
	handlers   *Handlers
	middleware *Middleware
	router     chi.Router
	server     *http.Server

	// moduleRoutes is mounted at /modules; registrations are serialized
	// because modules set up concurrently.
	moduleMu     sync.Mutex
	moduleRoutes chi.Router
}

// NewServer creates a new HTTP API server
func NewServer(deps Dependencies, config Config) *Server {
	logger := log.WithComponent("http")

	s := &Server{
		handlers:   NewHandlers(deps.Gate, deps.Sessions, deps.Modules, deps.Sockets, logger),
		middleware: NewMiddleware(deps.Gate, deps.Sessions, logger),
	}
	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Addr,
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves on an existing listener until Stop
func (s *Server) Serve(ln net.Listener) error {
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ModuleRouter returns the router a module registers its HTTP handlers on.
// Paths are scoped under /modules/<name>/ and gated by ModuleAuth.
func (s *Server) ModuleRouter(name string) (module.Router, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, ErrEmptyModuleName
	}
	return &moduleRouter{server: s, prefix: "/" + name}, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.middleware.Recovery)
	r.Use(s.middleware.Logging)
	r.Use(s.middleware.Metrics)
	r.Use(s.middleware.CORS)

	// The socket route hands the connection to the hub and must not carry
	// a JSON content type into the upgrade response.
	r.Get("/socket", s.handlers.Socket)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.middleware.ContentType)

		r.Get("/", s.handlers.Root)
		r.Get("/health-check", s.handlers.Health)
		r.Post("/api/v1/auth/login", s.handlers.Login)

		r.Group(func(r chi.Router) {
			r.Use(s.middleware.AuthRequired)
			r.Get("/api/v1/modules", s.handlers.ListModules)
		})
	})

	s.moduleRoutes = chi.NewRouter()
	s.moduleRoutes.Use(s.middleware.ModuleAuth)
	s.moduleRoutes.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Not found", http.StatusNotFound)
	})
	r.Mount("/modules", s.moduleRoutes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}

func (s *Server) handleModule(method, pattern string, h http.HandlerFunc) {
	s.moduleMu.Lock()
	defer s.moduleMu.Unlock()
	s.moduleRoutes.Method(method, pattern, h)
}

// moduleRouter implements module.Router for one module's path prefix
type moduleRouter struct {
	server *Server
	prefix string
}

func (m *moduleRouter) pattern(path string) string {
	if path == "" || path == "/" {
		return m.prefix + "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return m.prefix + path
}

func (m *moduleRouter) Get(path string, h http.HandlerFunc) {
	m.server.handleModule(http.MethodGet, m.pattern(path), h)
}

func (m *moduleRouter) Post(path string, h http.HandlerFunc) {
	m.server.handleModule(http.MethodPost, m.pattern(path), h)
}

func (m *moduleRouter) Put(path string, h http.HandlerFunc) {
	m.server.handleModule(http.MethodPut, m.pattern(path), h)
}

func (m *moduleRouter) Delete(path string, h http.HandlerFunc) {
	m.server.handleModule(http.MethodDelete, m.pattern(path), h)
}
