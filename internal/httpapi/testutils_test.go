package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rmacdonaldsmith/modhub-go/internal/auth"
	"github.com/rmacdonaldsmith/modhub-go/internal/hub"
	"github.com/rmacdonaldsmith/modhub-go/pkg/module"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

type testModule struct {
	*module.Base
}

func (m *testModule) Setup(context.Context, module.Host, module.Router) error { return nil }

type staticModules []module.Module

func (s staticModules) Modules() []module.Module { return s }

// echoSockets answers every frame with the same frame until the peer leaves
type echoSockets struct{}

func (echoSockets) Serve(ctx context.Context, conn hub.Conn) error {
	defer conn.Close()
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			return nil
		}
		if err := conn.WriteFrame(ctx, frame); err != nil {
			return err
		}
	}
}

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Server   *Server
	Sessions *auth.Sessions
	Gate     *auth.Gate
	HTTP     *httptest.Server
}

// NewTestServerSetup creates a server with one frontend and one management
// credential and a single "scores" module.
func NewTestServerSetup(t *testing.T) *TestServerSetup {
	t.Helper()

	gate := auth.NewGate(auth.Tables{
		Frontend:   map[string]string{"screen": "pw"},
		Management: map[string]string{"admin": "secret"},
	})
	sessions, err := auth.NewSessions("test-secret-key", 0)
	if err != nil {
		t.Fatalf("Failed to create sessions: %v", err)
	}

	scores := &testModule{Base: module.NewBase("scores", nil, module.WithManagementEventWhitelist("^goal$"))}

	server := NewServer(Dependencies{
		Gate:     gate,
		Sessions: sessions,
		Modules:  staticModules{scores},
		Sockets:  echoSockets{},
	}, Config{Addr: "127.0.0.1:0"})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &TestServerSetup{Server: server, Sessions: sessions, Gate: gate, HTTP: ts}
}

// GenerateTestToken creates a session token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, identifier string, clientType protocol.ClientType) string {
	t.Helper()

	token, _, err := setup.Sessions.Issue(identifier, clientType)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// Do sends a request with optional JSON body and headers
func (setup *TestServerSetup) Do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, setup.HTTP.URL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func identityHeaders(clientType protocol.ClientType, identifier, passphrase string) map[string]string {
	return map[string]string{
		protocol.HeaderClientType: string(clientType),
		protocol.HeaderIdentifier: identifier,
		protocol.HeaderPassphrase: passphrase,
	}
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}
