package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/modhub-go/internal/log"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// ErrSendQueueFull is returned when a client does not drain its queue fast
// enough; the client is disconnected.
var ErrSendQueueFull = errors.New("client send queue full")

// ErrClientClosed is returned when sending to a disconnected client
var ErrClientClosed = errors.New("client closed")

// Conn is the transport side of one client connection
type Conn interface {
	// ReadFrame blocks until the next frame arrives. An error wrapping
	// protocol.ErrMalformedFrame discards one message; the connection stays open.
	ReadFrame(ctx context.Context) (protocol.Frame, error)

	// WriteFrame sends one frame. It is only called from the client's
	// writer goroutine.
	WriteFrame(ctx context.Context, frame protocol.Frame) error

	Close() error
	RemoteAddr() string
}

// Phase is a client's position in the identify handshake
type Phase int

const (
	PhaseConnected Phase = iota
	PhaseAuthenticating
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseConnected:
		return "connected"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Identity is attached to a client once it authenticates
type Identity struct {
	Identifier string              `json:"identifier"`
	ClientType protocol.ClientType `json:"clientType"`
}

// Client is one real-time connection. Frames queued with Send are written
// in order by a dedicated writer goroutine.
type Client struct {
	id          string
	connectedAt time.Time
	conn        Conn
	logger      zerolog.Logger

	mu       sync.RWMutex
	phase    Phase
	identity Identity

	// held while deciding whether a broadcast reaches this client, and while
	// the welcome frames are queued ahead of the switch to Authenticated
	deliverMu sync.Mutex

	queue     chan protocol.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn Conn, queueSize int) *Client {
	id := uuid.NewString()
	return &Client{
		id:          id,
		connectedAt: time.Now(),
		conn:        conn,
		logger:      log.WithClient(id).With().Str("remote_addr", conn.RemoteAddr()).Logger(),
		queue:       make(chan protocol.Frame, queueSize),
		done:        make(chan struct{}),
	}
}

// ID returns the connection's unique identifier
func (c *Client) ID() string {
	return c.id
}

// ConnectedAt returns when the connection was accepted
func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

// Phase returns the handshake phase
func (c *Client) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Identity returns the client's identity and whether it has authenticated
func (c *Client) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.phase == PhaseAuthenticated
}

// IsAuthenticated reports whether the identify handshake succeeded
func (c *Client) IsAuthenticated() bool {
	return c.Phase() == PhaseAuthenticated
}

// Logger returns the client-scoped logger
func (c *Client) Logger() zerolog.Logger {
	return c.logger
}

// Send queues an event for this client only
func (c *Client) Send(event string, payload any) error {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame protocol.Frame) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.queue <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.logger.Warn().Str("event", frame.Event).Msg("Send queue full; disconnecting slow client")
		c.close()
		return ErrSendQueueFull
	}
}

func (c *Client) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// beginIdentify moves a connected client into Authenticating. It fails if
// the client is already authenticating or authenticated.
func (c *Client) beginIdentify() (Phase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseConnected {
		return c.phase, false
	}
	c.phase = PhaseAuthenticating
	return c.phase, true
}

// authenticate queues the frames built by welcome and then marks the client
// authenticated. No broadcast can land between the two.
func (c *Client) authenticate(id Identity, welcome func() []protocol.Frame) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	for _, frame := range welcome() {
		if err := c.enqueue(frame); err != nil {
			c.logger.Warn().Err(err).Str("event", frame.Event).Msg("Failed to queue welcome frame")
			break
		}
	}

	c.mu.Lock()
	c.identity = id
	c.phase = PhaseAuthenticated
	c.mu.Unlock()
}

// deliver queues a broadcast frame if the client has authenticated
func (c *Client) deliver(frame protocol.Frame) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if c.IsAuthenticated() {
		_ = c.enqueue(frame)
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case frame := <-c.queue:
			if err := c.conn.WriteFrame(ctx, frame); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed; closing connection")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
