package hub

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/modhub-go/internal/log"
	"github.com/rmacdonaldsmith/modhub-go/internal/metrics"
	"github.com/rmacdonaldsmith/modhub-go/pkg/eventbus"
	"github.com/rmacdonaldsmith/modhub-go/pkg/module"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// DefaultQueueSize is the per-client outbound buffer
const DefaultQueueSize = 256

// Client error messages sent over the wire
const (
	msgAuthFailed         = "authentication failed."
	msgReidentify         = "can't re-identify; disconnect and reconnect (refresh)."
	msgIdentifyRequired   = "identify required."
	msgManagementRequired = "management client required."
	msgUnknownEvent       = "unrecognized event."
	msgMalformedFrame     = "malformed message."
)

// ErrHubClosed is returned by Serve after Close
var ErrHubClosed = errors.New("hub closed")

// Authenticator decides whether an identify request succeeds
type Authenticator interface {
	Validate(clientType protocol.ClientType, identifier, secret string, rejectFrontend bool) bool
}

// Backend is the server surface the hub routes client requests to
type Backend interface {
	// Emit publishes a lifecycle event on the server bus
	Emit(ctx context.Context, name string, payload any)

	// FullState returns every module's state keyed by module name
	FullState() protocol.FullState

	// Module looks up a registered module by name
	Module(name string) (module.Module, bool)

	// SetRemoteModuleState applies a client-submitted delta to a module
	SetRemoteModuleState(ctx context.Context, name string, delta any) (map[string]any, error)
}

// Option configures a Hub
type Option func(*Hub)

// WithQueueSize sets the per-client outbound buffer
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// Hub tracks real-time connections, runs the identify handshake and routes
// authenticated requests to the backend.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	backend   Backend
	gate      Authenticator
	queueSize int
	logger    zerolog.Logger
}

// New creates a hub
func New(backend Backend, gate Authenticator, opts ...Option) *Hub {
	h := &Hub{
		clients:   make(map[string]*Client),
		backend:   backend,
		gate:      gate,
		queueSize: DefaultQueueSize,
		logger:    log.WithComponent("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs one connection until it closes. It returns nil when the peer
// disconnects normally.
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	c := newClient(conn, h.queueSize)
	if !h.add(c) {
		conn.Close()
		return ErrHubClosed
	}

	c.logger.Info().Msg("Connected; waiting for identify")
	go c.writeLoop(ctx)

	h.backend.Emit(ctx, eventbus.EventClientConnected, c)
	defer h.disconnect(ctx, c)

	for {
		frame, err := conn.ReadFrame(ctx)
		if errors.Is(err, protocol.ErrMalformedFrame) {
			c.logger.Warn().Err(err).Msg("Discarded malformed frame")
			metrics.MessagesDroppedTotal.WithLabelValues("malformed").Inc()
			h.clientError(c, msgMalformedFrame)
			continue
		}
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		h.handle(ctx, c, frame)
	}
}

// Broadcast sends an event to every authenticated client
func (h *Hub) Broadcast(event string, payload any) {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return
	}

	for _, c := range h.Clients() {
		c.deliver(frame)
	}
	metrics.BroadcastsTotal.Inc()
}

// Clients returns a snapshot of the connected clients
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new connections
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.updateGaugesLocked()
	return true
}

func (h *Hub) disconnect(ctx context.Context, c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.updateGaugesLocked()
	h.mu.Unlock()

	c.close()
	c.logger.Info().Msg("Disconnected")
	h.backend.Emit(ctx, eventbus.EventClientDisconnected, c)
}

func (h *Hub) updateGauges() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.updateGaugesLocked()
}

func (h *Hub) updateGaugesLocked() {
	counts := map[Phase]int{}
	for _, c := range h.clients {
		counts[c.Phase()]++
	}
	for _, p := range []Phase{PhaseConnected, PhaseAuthenticating, PhaseAuthenticated} {
		metrics.ConnectedClients.WithLabelValues(p.String()).Set(float64(counts[p]))
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, frame protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("event", frame.Event).Msg("Panic while handling client message")
		}
	}()

	if frame.Event == protocol.EventIdentify {
		metrics.MessagesReceivedTotal.WithLabelValues(frame.Event).Inc()
		h.identify(ctx, c, frame)
		return
	}

	if !c.IsAuthenticated() {
		c.logger.Warn().Str("event", frame.Event).Msg("Message received before identify")
		metrics.MessagesDroppedTotal.WithLabelValues("unauthenticated").Inc()
		h.clientError(c, msgIdentifyRequired)
		return
	}

	switch frame.Event {
	case protocol.EventGetFullState:
		metrics.MessagesReceivedTotal.WithLabelValues(frame.Event).Inc()
		_ = c.Send(protocol.EventState, h.backend.FullState())
	case protocol.EventPushup:
		metrics.MessagesReceivedTotal.WithLabelValues(frame.Event).Inc()
		h.pushup(ctx, c, frame)
	case protocol.EventStateDelta:
		metrics.MessagesReceivedTotal.WithLabelValues(frame.Event).Inc()
		h.stateDelta(ctx, c, frame)
	default:
		c.logger.Warn().Str("event", frame.Event).Msg("Unrecognized event")
		metrics.MessagesDroppedTotal.WithLabelValues("unknown_event").Inc()
		h.clientError(c, msgUnknownEvent)
	}
}

func (h *Hub) identify(ctx context.Context, c *Client, frame protocol.Frame) {
	if phase, ok := c.beginIdentify(); !ok {
		if phase == PhaseAuthenticated {
			c.logger.Warn().Msg("Attempted to re-identify after identify")
			h.clientError(c, msgReidentify)
		}
		return
	}
	h.updateGauges()

	var req protocol.IdentifyRequest
	if err := frame.Decode(&req); err != nil {
		c.logger.Warn().Err(err).Msg("Malformed identify payload")
		req = protocol.IdentifyRequest{}
	}

	if !h.gate.Validate(req.ClientType, req.Identifier, req.Passphrase, false) {
		c.setPhase(PhaseConnected)
		h.updateGauges()
		c.logger.Warn().Str("identifier", req.Identifier).Msg("Failed authentication")
		metrics.AuthAttemptsTotal.WithLabelValues(string(req.ClientType), "failure").Inc()
		h.clientError(c, msgAuthFailed)
		return
	}

	c.authenticate(Identity{Identifier: req.Identifier, ClientType: req.ClientType}, h.welcome)
	h.updateGauges()
	metrics.AuthAttemptsTotal.WithLabelValues(string(req.ClientType), "success").Inc()
	c.logger.Info().
		Str("identifier", req.Identifier).
		Str("client_type", string(req.ClientType)).
		Msg("Authentication succeeded")

	h.backend.Emit(ctx, eventbus.EventClientAuthenticated, c)
}

// welcome builds the frames a client receives on authentication: the
// acknowledgement, then a snapshot of every module's state.
func (h *Hub) welcome() []protocol.Frame {
	ack, err := protocol.NewFrame(protocol.EventAuthenticationSucceeded, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode authenticationSucceeded")
		return nil
	}
	state, err := protocol.NewFrame(protocol.EventState, h.backend.FullState())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode state snapshot")
		return []protocol.Frame{ack}
	}
	return []protocol.Frame{ack, state}
}

func (h *Hub) pushup(ctx context.Context, c *Client, frame protocol.Frame) {
	if !h.requireManagement(c, frame.Event) {
		return
	}

	var ev protocol.PushupEvent
	if err := frame.Decode(&ev); err != nil {
		c.logger.Warn().Err(err).Msg("Malformed pushupEvent payload")
		metrics.MessagesDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}

	m, ok := h.backend.Module(ev.ModuleName)
	if !ok {
		c.logger.Warn().Str("module", ev.ModuleName).Msg("Received pushupEvent but no module found")
		metrics.MessagesDroppedTotal.WithLabelValues("unknown_module").Inc()
		return
	}

	if !m.Options().AllowsManagementEvent(ev.EventName) {
		c.logger.Debug().Str("module", ev.ModuleName).Str("event", ev.EventName).Msg("Pushup event not whitelisted; dropped")
		metrics.MessagesDroppedTotal.WithLabelValues("not_whitelisted").Inc()
		return
	}

	c.logger.Debug().Str("module", ev.ModuleName).Str("event", ev.EventName).Msg("Pushing event to module")
	m.Events().Emit(ctx, ev.EventName, ev.Event)
}

func (h *Hub) stateDelta(ctx context.Context, c *Client, frame protocol.Frame) {
	if !h.requireManagement(c, frame.Event) {
		return
	}

	var ev protocol.StateDelta
	if err := frame.Decode(&ev); err != nil {
		c.logger.Warn().Err(err).Msg("Malformed stateDelta payload")
		metrics.MessagesDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}

	c.logger.Debug().Str("module", ev.ModuleName).Msg("Received stateDelta")
	if _, err := h.backend.SetRemoteModuleState(ctx, ev.ModuleName, ev.Delta); err != nil {
		c.logger.Warn().Err(err).Str("module", ev.ModuleName).Msg("State delta dropped")
		metrics.MessagesDroppedTotal.WithLabelValues("state_delta_rejected").Inc()
	}
}

func (h *Hub) requireManagement(c *Client, event string) bool {
	id, _ := c.Identity()
	if id.ClientType == protocol.ClientTypeManagement {
		return true
	}
	c.logger.Warn().Str("event", event).Msg("Frontend client attempted a management-only request")
	metrics.MessagesDroppedTotal.WithLabelValues("not_management").Inc()
	h.clientError(c, msgManagementRequired)
	return false
}

func (h *Hub) clientError(c *Client, message string) {
	_ = c.Send(protocol.EventClientError, protocol.ClientError{Message: message})
}
