package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

var (
	// ErrAuthenticationRejected is returned when the server answers identify
	// with clientError
	ErrAuthenticationRejected = errors.New("authentication rejected")
	// ErrSocketClosed is returned for operations on a closed socket
	ErrSocketClosed = errors.New("socket closed")
)

// Socket is a real-time connection to the server. Frames received after the
// handshake, including the initial state snapshot, arrive on Events.
type Socket struct {
	conn    *websocket.Conn
	events  chan protocol.Frame
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	timeout   time.Duration
}

// Connect opens the WebSocket without identifying
func (c *Client) Connect(ctx context.Context) (*Socket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.Timeout}
	conn, _, err := dialer.DialContext(ctx, c.socketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s := &Socket{
		conn:    conn,
		events:  make(chan protocol.Frame, c.config.BufferSize),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		timeout: c.config.Timeout,
	}
	go s.readLoop()
	return s, nil
}

// Dial connects and identifies with the configured credentials
func (c *Client) Dial(ctx context.Context) (*Socket, error) {
	s, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Identify(ctx, c.config.identify()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Identify runs the handshake and waits for the verdict. A rejected attempt
// leaves the socket connected so the caller may retry.
func (s *Socket) Identify(ctx context.Context, req protocol.IdentifyRequest) error {
	if err := s.send(protocol.EventIdentify, req); err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	for {
		select {
		case frame, ok := <-s.events:
			if !ok {
				return s.closedErr()
			}
			switch frame.Event {
			case protocol.EventAuthenticationSucceeded:
				return nil
			case protocol.EventClientError:
				var ce protocol.ClientError
				_ = frame.Decode(&ce)
				return fmt.Errorf("%w: %s", ErrAuthenticationRejected, ce.Message)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Events returns the channel of received frames. It is closed when the
// connection ends.
func (s *Socket) Events() <-chan protocol.Frame {
	return s.events
}

// Done returns a channel that's closed when the connection ends
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the connection, if any
func (s *Socket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// GetFullState asks the server for a fresh state snapshot
func (s *Socket) GetFullState() error {
	return s.send(protocol.EventGetFullState, nil)
}

// Pushup sends an event to a module's own emitter. Management only.
func (s *Socket) Pushup(moduleName, eventName string, payload any) error {
	return s.send(protocol.EventPushup, protocol.PushupEvent{
		ModuleName: moduleName,
		EventName:  eventName,
		Event:      payload,
	})
}

// SendStateDelta merges delta into a module's state. Management only.
func (s *Socket) SendStateDelta(moduleName string, delta map[string]any) error {
	return s.send(protocol.EventStateDelta, protocol.StateDelta{
		ModuleName: moduleName,
		Delta:      delta,
	})
}

// Close ends the connection
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	<-s.done
	return err
}

func (s *Socket) send(event string, payload any) error {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return s.closedErr()
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	return s.conn.WriteJSON(frame)
}

func (s *Socket) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		var frame protocol.Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.errMu.Lock()
				s.err = err
				s.errMu.Unlock()
			}
			return
		}
		select {
		case s.events <- frame:
		case <-s.closing:
			return
		}
	}
}

func (s *Socket) closedErr() error {
	if err := s.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSocketClosed, err)
	}
	return ErrSocketClosed
}
