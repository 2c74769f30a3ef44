// Package client talks to a modhub server over HTTP and the real-time
// WebSocket channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

var (
	// ErrMissingServerURL is returned by NewClient without a server URL
	ErrMissingServerURL = errors.New("ServerURL is required")
	// ErrMissingIdentifier is returned by NewClient without an identifier
	ErrMissingIdentifier = errors.New("Identifier is required")
)

// Client provides HTTP access to a modhub server
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new modhub client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, ErrMissingServerURL
	}
	if config.Identifier == "" {
		return nil, ErrMissingIdentifier
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid ServerURL: unsupported scheme %q", baseURL.Scheme)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Login exchanges the configured identity for a session token, which later
// requests present instead of the identification headers.
func (c *Client) Login(ctx context.Context) (*protocol.LoginResponse, error) {
	var resp protocol.LoginResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", c.config.identify(), &resp, false); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	c.token = resp.Token
	return &resp, nil
}

// Health checks that the server is up
func (c *Client) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	var resp protocol.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health-check", nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// Modules lists the modules the server hosts
func (c *Client) Modules(ctx context.Context) ([]protocol.ModuleInfo, error) {
	var resp protocol.ModulesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/modules", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	return resp.Modules, nil
}

// ModuleRequest calls a route a module registered under /modules/<name>/.
// respBody may be nil to discard the response.
func (c *Client) ModuleRequest(ctx context.Context, method, moduleName, path string, reqBody, respBody any) error {
	full := "/modules/" + url.PathEscape(strings.ToLower(moduleName)) + "/" + strings.TrimPrefix(path, "/")
	return c.doRequest(ctx, method, full, reqBody, respBody, true)
}

// IsAuthenticated returns whether the client holds a session token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current session token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the session token (useful for token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

// doRequest performs an HTTP request. Authenticated requests carry the
// session token when there is one and the identification headers otherwise.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody any, authenticate bool) error {
	fullURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticate {
		c.setAuth(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
		var errResp protocol.ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		}
		return apiErr
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	req.Header.Set(protocol.HeaderClientType, string(c.config.ClientType))
	req.Header.Set(protocol.HeaderIdentifier, c.config.Identifier)
	if c.config.Passphrase != "" {
		req.Header.Set(protocol.HeaderPassphrase, c.config.Passphrase)
	}
}

// socketURL converts the server URL to the WebSocket endpoint
func (c *Client) socketURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket"
	return u.String()
}
