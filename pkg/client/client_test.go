package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		client, err := NewClient(Config{
			ServerURL:  "http://localhost:12800",
			Identifier: "screen",
		})
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
		assert.Equal(t, 100, client.config.BufferSize)
		assert.Equal(t, protocol.ClientTypeFrontend, client.config.ClientType)
		assert.Equal(t, "ws://localhost:12800/socket", client.socketURL())
	})

	t.Run("tls_socket_url", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "https://hub.example.com/", Identifier: "screen"})
		require.NoError(t, err)
		assert.Equal(t, "wss://hub.example.com/socket", client.socketURL())
	})

	t.Run("missing_server_url", func(t *testing.T) {
		_, err := NewClient(Config{Identifier: "screen"})
		assert.ErrorIs(t, err, ErrMissingServerURL)
	})

	t.Run("missing_identifier", func(t *testing.T) {
		_, err := NewClient(Config{ServerURL: "http://localhost:12800"})
		assert.ErrorIs(t, err, ErrMissingIdentifier)
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		_, err := NewClient(Config{ServerURL: "://invalid-url", Identifier: "screen"})
		assert.Error(t, err)

		_, err = NewClient(Config{ServerURL: "ftp://host", Identifier: "screen"})
		assert.Error(t, err)
	})
}

func TestClient_LoginAndAuthenticatedRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var req protocol.LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Passphrase != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: true, Message: "bad login"})
				return
			}
			_ = json.NewEncoder(w).Encode(protocol.LoginResponse{
				Token:      "test-token",
				Identifier: req.Identifier,
				ClientType: req.ClientType,
				ExpiresAt:  time.Now().Add(time.Hour),
			})
		case "/api/v1/modules":
			if r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(protocol.ModulesResponse{Modules: []protocol.ModuleInfo{{Name: "scoreboard"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{
		ServerURL:  server.URL,
		ClientType: protocol.ClientTypeManagement,
		Identifier: "admin",
		Passphrase: "secret",
	})
	require.NoError(t, err)
	assert.False(t, client.IsAuthenticated())

	resp, err := client.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-token", resp.Token)
	assert.True(t, client.IsAuthenticated())
	assert.Equal(t, "test-token", client.GetToken())

	mods, err := client.Modules(context.Background())
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "scoreboard", mods[0].Name)
}

func TestClient_LoginRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: true, Message: "bad login"})
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL, Identifier: "admin"})
	require.NoError(t, err)

	_, err = client.Login(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad login", apiErr.Message)
	assert.False(t, client.IsAuthenticated())
}

func TestClient_ModuleRequestSendsIdentificationHeaders(t *testing.T) {
	var got http.Header
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		path = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"home": 1})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		ServerURL:  server.URL,
		ClientType: protocol.ClientTypeManagement,
		Identifier: "admin",
		Passphrase: "secret",
	})
	require.NoError(t, err)

	var state map[string]any
	require.NoError(t, client.ModuleRequest(context.Background(), http.MethodGet, "Scoreboard", "/score", nil, &state))

	assert.Equal(t, "/modules/scoreboard/score", path)
	assert.Equal(t, "management", got.Get(protocol.HeaderClientType))
	assert.Equal(t, "admin", got.Get(protocol.HeaderIdentifier))
	assert.Equal(t, "secret", got.Get(protocol.HeaderPassphrase))
	assert.Empty(t, got.Get("Authorization"))
	assert.Equal(t, 1.0, state["home"])

	client.SetToken("tok")
	require.NoError(t, client.ModuleRequest(context.Background(), http.MethodGet, "scoreboard", "score", nil, nil))
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Empty(t, got.Get(protocol.HeaderPassphrase))
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health-check", r.URL.Path)
		_ = json.NewEncoder(w).Encode(protocol.HealthResponse{OK: true})
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL, Identifier: "screen"})
	require.NoError(t, err)

	resp, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.OK)
}
