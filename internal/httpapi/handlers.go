package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/modhub-go/internal/hub"
	"github.com/rmacdonaldsmith/modhub-go/internal/transport"
	"github.com/rmacdonaldsmith/modhub-go/pkg/module"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// SocketServer runs the real-time protocol over an upgraded connection
type SocketServer interface {
	Serve(ctx context.Context, conn hub.Conn) error
}

// ModuleLister reports the loaded modules
type ModuleLister interface {
	Modules() []module.Module
}

// SessionIssuer signs session tokens
type SessionIssuer interface {
	Issue(identifier string, clientType protocol.ClientType) (string, time.Time, error)
}

// Handlers contains HTTP request handlers
type Handlers struct {
	gate     Authenticator
	sessions SessionIssuer
	modules  ModuleLister
	sockets  SocketServer
	logger   zerolog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(gate Authenticator, sessions SessionIssuer, modules ModuleLister, sockets SocketServer, logger zerolog.Logger) *Handlers {
	return &Handlers{
		gate:     gate,
		sessions: sessions,
		modules:  modules,
		sockets:  sockets,
		logger:   logger,
	}
}

// Health handles GET /health-check
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, protocol.HealthResponse{OK: true}, http.StatusOK)
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := validateLogin(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.gate.Validate(req.ClientType, req.Identifier, req.Passphrase, false) {
		writeError(w, BadLoginMessage, http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.sessions.Issue(req.Identifier, req.ClientType)
	if err != nil {
		h.logger.Error().Err(err).Str("identifier", req.Identifier).Msg("Failed to issue session token")
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.logger.Info().
		Str("identifier", req.Identifier).
		Str("client_type", string(req.ClientType)).
		Msg("Issued session token")

	writeJSON(w, protocol.LoginResponse{
		Token:      token,
		Identifier: req.Identifier,
		ClientType: req.ClientType,
		ExpiresAt:  expiresAt,
	}, http.StatusOK)
}

// ListModules handles GET /api/v1/modules
func (h *Handlers) ListModules(w http.ResponseWriter, r *http.Request) {
	resp := protocol.ModulesResponse{Modules: []protocol.ModuleInfo{}}
	for _, m := range h.modules.Modules() {
		opts := m.Options()
		resp.Modules = append(resp.Modules, protocol.ModuleInfo{
			Name:                     m.Name(),
			InternalStateUpdatesOnly: opts.InternalStateUpdatesOnly,
			ShouldCacheState:         opts.ShouldCacheState,
			ManagementEventWhitelist: opts.WhitelistPatterns(),
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

// Socket handles GET /socket by upgrading to a WebSocket and handing the
// connection to the socket server until it closes.
func (h *Handlers) Socket(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	if err := h.sockets.Serve(r.Context(), conn); err != nil && !errors.Is(err, hub.ErrHubClosed) {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Connection ended with error")
	}
}

// Root describes the API
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	for _, m := range h.modules.Modules() {
		names = append(names, m.Name())
	}

	writeJSON(w, APIInfo{
		Service: "modhub",
		Endpoints: map[string]string{
			"health":  "GET /health-check",
			"metrics": "GET /metrics",
			"login":   "POST /api/v1/auth/login",
			"modules": "GET /api/v1/modules",
			"socket":  "GET /socket",
			"module":  "/modules/{module}/...",
		},
		Modules:        names,
		Authentication: "Bearer session token or X-Client-Type, X-Client-Identifier and X-Client-Passphrase headers",
	}, http.StatusOK)
}

func validateLogin(req protocol.LoginRequest) error {
	switch req.ClientType {
	case protocol.ClientTypeFrontend, protocol.ClientTypeManagement:
	case "":
		return errors.New("clientType is required")
	default:
		return fmt.Errorf("unknown clientType %q", req.ClientType)
	}
	if req.Identifier == "" {
		return errors.New("identifier is required")
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, protocol.ErrorResponse{Error: true, Message: message}, statusCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
