package httpapi

import (
	"context"
	"net/http"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// ContextKey type for context keys to avoid collisions
type ContextKey string

const (
	// PrincipalKey is the context key for the authenticated caller
	PrincipalKey ContextKey = "principal"
)

// BadLoginMessage is the body message for rejected module route requests
const BadLoginMessage = "bad login"

// Principal is the caller a request was authenticated as
type Principal struct {
	Identifier string
	ClientType protocol.ClientType
	// Session is set when the caller presented a bearer token
	Session bool
}

// IsManagement reports whether the caller is a management client
func (p Principal) IsManagement() bool {
	return p.ClientType == protocol.ClientTypeManagement
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal extracts the authenticated caller from the request context
func GetPrincipal(r *http.Request) (Principal, bool) {
	p, ok := r.Context().Value(PrincipalKey).(Principal)
	return p, ok
}

// APIInfo is served at the root path
type APIInfo struct {
	Service        string            `json:"service"`
	Endpoints      map[string]string `json:"endpoints"`
	Modules        []string          `json:"modules"`
	Authentication string            `json:"authentication"`
}
