package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/modhub-go/internal/auth"
	"github.com/rmacdonaldsmith/modhub-go/internal/metrics"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// Authenticator validates identification credentials
type Authenticator interface {
	Validate(clientType protocol.ClientType, identifier, secret string, rejectFrontend bool) bool
}

// SessionVerifier checks bearer tokens
type SessionVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Middleware provides HTTP middleware functions
type Middleware struct {
	gate     Authenticator
	sessions SessionVerifier
	logger   zerolog.Logger
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(gate Authenticator, sessions SessionVerifier, logger zerolog.Logger) *Middleware {
	return &Middleware{
		gate:     gate,
		sessions: sessions,
		logger:   logger,
	}
}

// AuthRequired accepts a valid bearer token or valid identification headers
// from either client type.
func (m *Middleware) AuthRequired(next http.Handler) http.Handler {
	return m.authenticate(func(*http.Request) bool { return false }, next)
}

// ModuleAuth guards module routes. Reads accept frontend and management
// clients; every other verb requires a management client.
func (m *Middleware) ModuleAuth(next http.Handler) http.Handler {
	return m.authenticate(func(r *http.Request) bool {
		return r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions
	}, next)
}

func (m *Middleware) authenticate(rejectFrontend func(*http.Request) bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reject := rejectFrontend(r)

		if token := extractToken(r); token != "" {
			claims, err := m.sessions.Verify(token)
			if err != nil {
				m.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected session token")
				writeError(w, BadLoginMessage, http.StatusUnauthorized)
				return
			}
			if reject && claims.ClientType != protocol.ClientTypeManagement {
				writeError(w, BadLoginMessage, http.StatusUnauthorized)
				return
			}
			ctx := withPrincipal(r.Context(), Principal{
				Identifier: claims.Identifier,
				ClientType: claims.ClientType,
				Session:    true,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		clientType := protocol.ClientType(r.Header.Get(protocol.HeaderClientType))
		identifier := r.Header.Get(protocol.HeaderIdentifier)
		passphrase := r.Header.Get(protocol.HeaderPassphrase)

		if !m.gate.Validate(clientType, identifier, passphrase, reject) {
			writeError(w, BadLoginMessage, http.StatusUnauthorized)
			return
		}

		ctx := withPrincipal(r.Context(), Principal{Identifier: identifier, ClientType: clientType})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORS middleware adds CORS headers for browser compatibility
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type",
			"Authorization",
			protocol.HeaderClientType,
			protocol.HeaderIdentifier,
			protocol.HeaderPassphrase,
		}, ", "))
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ContentType middleware sets the content type to JSON
func (m *Middleware) ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Logging writes one access log line per request
func (m *Middleware) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if r.URL.Path == "/health-check" || r.URL.Path == "/metrics" {
			return
		}

		m.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Metrics records request counts and latencies
func (m *Middleware) Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, r.Method)
	})
}

// Recovery middleware recovers from panics and returns 500 error
func (m *Middleware) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				m.logger.Error().
					Interface("panic", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Recovered from handler panic")
				writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// extractToken extracts the bearer token from the Authorization header
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
