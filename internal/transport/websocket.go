// Package transport adapts WebSocket connections to the hub's Conn interface.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser dashboards are served from other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Conn is a WebSocket connection carrying JSON frames
type Conn struct {
	ws        *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Upgrade switches an HTTP request to the WebSocket protocol and starts the
// keepalive pinger.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(ws), nil
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, done: make(chan struct{})}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.ping()
	return c
}

// ReadFrame implements hub.Conn. A normal close by the peer yields io.EOF.
// A message that is not a JSON frame yields protocol.ErrMalformedFrame and
// leaves the connection readable.
func (c *Conn) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Frame{}, err
	}

	_, r, err := c.ws.NextReader()
	if err == nil {
		var msg []byte
		if msg, err = io.ReadAll(r); err == nil {
			return protocol.ParseFrame(msg)
		}
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return protocol.Frame{}, io.EOF
	}
	select {
	case <-c.done:
		return protocol.Frame{}, io.EOF
	default:
	}
	return protocol.Frame{}, err
}

// WriteFrame implements hub.Conn
func (c *Conn) WriteFrame(_ context.Context, frame protocol.Frame) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(frame)
}

// Close sends a close message and closes the socket
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) ping() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
