package httpapi

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

func TestHealthCheck(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := setup.Do(t, http.MethodGet, "/health-check", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body := decodeBody[protocol.HealthResponse](t, resp)
	assert.True(t, body.OK)
}

func TestRootDescribesAPI(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := setup.Do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	info := decodeBody[APIInfo](t, resp)
	assert.Equal(t, "modhub", info.Service)
	assert.Equal(t, []string{"scores"}, info.Modules)
	assert.Contains(t, info.Endpoints, "socket")
}

func TestLogin(t *testing.T) {
	setup := NewTestServerSetup(t)

	t.Run("valid credentials issue a token", func(t *testing.T) {
		resp := setup.Do(t, http.MethodPost, "/api/v1/auth/login", protocol.LoginRequest{
			ClientType: protocol.ClientTypeManagement,
			Identifier: "admin",
			Passphrase: "secret",
		}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[protocol.LoginResponse](t, resp)
		assert.Equal(t, "admin", body.Identifier)
		assert.Equal(t, protocol.ClientTypeManagement, body.ClientType)
		assert.True(t, body.ExpiresAt.After(time.Now()))

		claims, err := setup.Sessions.Verify(body.Token)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Identifier)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		resp := setup.Do(t, http.MethodPost, "/api/v1/auth/login", protocol.LoginRequest{
			ClientType: protocol.ClientTypeManagement,
			Identifier: "admin",
			Passphrase: "nope",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		body := decodeBody[protocol.ErrorResponse](t, resp)
		assert.True(t, body.Error)
		assert.Equal(t, BadLoginMessage, body.Message)
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := setup.Do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"identifier": "admin"}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = setup.Do(t, http.MethodPost, "/api/v1/auth/login", protocol.LoginRequest{ClientType: "robot", Identifier: "x"}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty body", func(t *testing.T) {
		resp := setup.Do(t, http.MethodPost, "/api/v1/auth/login", nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp := setup.Do(t, http.MethodGet, "/api/v1/auth/login", nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestListModules(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := setup.Do(t, http.MethodGet, "/api/v1/modules", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := setup.GenerateTestToken(t, "screen", protocol.ClientTypeFrontend)
	resp = setup.Do(t, http.MethodGet, "/api/v1/modules", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[protocol.ModulesResponse](t, resp)
	require.Len(t, body.Modules, 1)
	assert.Equal(t, "scores", body.Modules[0].Name)
	assert.True(t, body.Modules[0].ShouldCacheState)
	assert.Equal(t, []string{"^goal$"}, body.Modules[0].ManagementEventWhitelist)

	resp = setup.Do(t, http.MethodGet, "/api/v1/modules", nil, identityHeaders(protocol.ClientTypeManagement, "admin", "secret"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = setup.Do(t, http.MethodGet, "/api/v1/modules", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestModuleRoutes(t *testing.T) {
	setup := NewTestServerSetup(t)

	routes, err := setup.Server.ModuleRouter("Scores")
	require.NoError(t, err)

	var seen Principal
	handler := func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetPrincipal(r)
		writeJSON(w, map[string]string{"method": r.Method}, http.StatusOK)
	}
	routes.Get("/current", handler)
	routes.Post("current", handler)
	routes.Put("/current", handler)
	routes.Delete("/current", handler)

	frontend := identityHeaders(protocol.ClientTypeFrontend, "screen", "pw")
	management := identityHeaders(protocol.ClientTypeManagement, "admin", "secret")

	t.Run("frontend may read", func(t *testing.T) {
		resp := setup.Do(t, http.MethodGet, "/modules/scores/current", nil, frontend)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "screen", seen.Identifier)
		assert.Equal(t, protocol.ClientTypeFrontend, seen.ClientType)
	})

	t.Run("frontend may not write", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			resp := setup.Do(t, method, "/modules/scores/current", map[string]int{"home": 1}, frontend)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode, method)

			body := decodeBody[protocol.ErrorResponse](t, resp)
			assert.Equal(t, protocol.ErrorResponse{Error: true, Message: BadLoginMessage}, body)
		}
	})

	t.Run("management may write", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			resp := setup.Do(t, method, "/modules/scores/current", nil, management)
			assert.Equal(t, http.StatusOK, resp.StatusCode, method)
		}
		assert.True(t, seen.IsManagement())
	})

	t.Run("bad passphrase", func(t *testing.T) {
		resp := setup.Do(t, http.MethodGet, "/modules/scores/current", nil,
			identityHeaders(protocol.ClientTypeManagement, "admin", "wrong"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("no credentials", func(t *testing.T) {
		resp := setup.Do(t, http.MethodGet, "/modules/scores/current", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("session tokens", func(t *testing.T) {
		frontendToken := setup.GenerateTestToken(t, "screen", protocol.ClientTypeFrontend)
		managementToken := setup.GenerateTestToken(t, "admin", protocol.ClientTypeManagement)

		resp := setup.Do(t, http.MethodGet, "/modules/scores/current", nil, map[string]string{"Authorization": "Bearer " + frontendToken})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, seen.Session)

		resp = setup.Do(t, http.MethodPost, "/modules/scores/current", nil, map[string]string{"Authorization": "Bearer " + frontendToken})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = setup.Do(t, http.MethodPost, "/modules/scores/current", nil, map[string]string{"Authorization": "Bearer " + managementToken})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("unknown route", func(t *testing.T) {
		resp := setup.Do(t, http.MethodGet, "/modules/scores/missing", nil, management)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestModuleRouter_EmptyName(t *testing.T) {
	setup := NewTestServerSetup(t)

	_, err := setup.Server.ModuleRouter("  ")
	assert.ErrorIs(t, err, ErrEmptyModuleName)
}

func TestCORSPreflight(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := setup.Do(t, http.MethodOptions, "/modules/scores/current", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), protocol.HeaderPassphrase)
}

func TestRecoveryMiddleware(t *testing.T) {
	setup := NewTestServerSetup(t)

	routes, err := setup.Server.ModuleRouter("scores")
	require.NoError(t, err)
	routes.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	resp := setup.Do(t, http.MethodGet, "/modules/scores/boom", nil, identityHeaders(protocol.ClientTypeFrontend, "screen", "pw"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	setup := NewTestServerSetup(t)

	setup.Do(t, http.MethodGet, "/health-check", nil, nil)
	resp := setup.Do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "modhub_http_requests_total")
}

func TestSocketUpgrade(t *testing.T) {
	setup := NewTestServerSetup(t)

	url := "ws" + strings.TrimPrefix(setup.HTTP.URL, "http") + "/socket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "getFullState"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame protocol.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "getFullState", frame.Event)
}

func TestSocketRequiresUpgrade(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := setup.Do(t, http.MethodGet, "/socket", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
