// Package protocol defines the messages exchanged between modhub and its
// clients over the real-time channel and the HTTP identification headers.
//
// Every real-time message is a Frame: a JSON object holding the event name
// and its payload.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedFrame is returned for a message that is not a JSON frame
var ErrMalformedFrame = errors.New("malformed frame")

// ClientType distinguishes privileged from unprivileged connections
type ClientType string

const (
	// ClientTypeFrontend is an unprivileged, typically read-only client
	ClientTypeFrontend ClientType = "frontend"
	// ClientTypeManagement may submit state deltas and pushup events
	ClientTypeManagement ClientType = "management"
)

// Client to server events
const (
	EventIdentify     = "identify"
	EventGetFullState = "getFullState"
	EventPushup       = "pushupEvent"
	EventStateDelta   = "stateDelta"
)

// Server to client events. EventStateDelta is also sent server to client
// whenever a module's state changes.
const (
	EventAuthenticationSucceeded = "authenticationSucceeded"
	EventClientError             = "clientError"
	EventState                   = "state"
)

// HTTP identification headers for module routes
const (
	HeaderClientType = "X-Client-Type"
	HeaderIdentifier = "X-Client-Identifier"
	HeaderPassphrase = "X-Client-Passphrase"
)

// Frame is the envelope of every real-time message
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseFrame decodes one real-time message
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// NewFrame encodes payload into a frame for event
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}

// Decode unmarshals the frame payload into v
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(f.Data, v)
}

// IdentifyRequest is the handshake payload
type IdentifyRequest struct {
	ClientType ClientType `json:"clientType"`
	Identifier string     `json:"identifier"`
	Passphrase string     `json:"passphrase,omitempty"`
}

// ClientError reports a rejected handshake or protocol violation
type ClientError struct {
	Message string `json:"message"`
}

// PushupEvent is a management client's event directed at one module
type PushupEvent struct {
	ModuleName string `json:"bmName"`
	EventName  string `json:"eventName"`
	Event      any    `json:"event"`
}

// StateDelta carries a partial state for one module. Clients send the delta
// tree; the server broadcasts the structural diff it produced.
type StateDelta struct {
	ModuleName string `json:"bmName"`
	Delta      any    `json:"delta"`
}

// FullState maps module names to their current state
type FullState map[string]map[string]any

// LoginRequest exchanges identification for a session token over HTTP
type LoginRequest = IdentifyRequest

// LoginResponse carries a session token
type LoginResponse struct {
	Token      string     `json:"token"`
	Identifier string     `json:"identifier"`
	ClientType ClientType `json:"clientType"`
	ExpiresAt  time.Time  `json:"expiresAt"`
}

// HealthResponse is returned by the health check endpoint
type HealthResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is returned by HTTP endpoints on failure
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// ModuleInfo describes a loaded module
type ModuleInfo struct {
	Name                     string   `json:"name"`
	InternalStateUpdatesOnly bool     `json:"internalStateUpdatesOnly"`
	ShouldCacheState         bool     `json:"shouldCacheState"`
	ManagementEventWhitelist []string `json:"managementEventWhitelist,omitempty"`
}

// ModulesResponse lists loaded modules
type ModulesResponse struct {
	Modules []ModuleInfo `json:"modules"`
}
