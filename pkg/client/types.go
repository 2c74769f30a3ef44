package client

import (
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the modhub server (e.g., "http://localhost:12800")
	ServerURL string

	// ClientType is frontend or management
	ClientType protocol.ClientType

	// Identifier names this client in the server's auth tables
	Identifier string

	// Passphrase is sent on identify and login; empty for open auth
	Passphrase string

	// Timeout for HTTP requests and the real-time handshake
	Timeout time.Duration

	// BufferSize for the real-time event channel
	BufferSize int
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BufferSize == 0 {
		c.BufferSize = 100
	}
	if c.ClientType == "" {
		c.ClientType = protocol.ClientTypeFrontend
	}
}

func (c *Config) identify() protocol.IdentifyRequest {
	return protocol.IdentifyRequest{
		ClientType: c.ClientType,
		Identifier: c.Identifier,
		Passphrase: c.Passphrase,
	}
}

// APIError is returned for HTTP responses with an error status
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
