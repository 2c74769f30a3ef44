package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// fakeHub accepts passphrase "pw" and echoes every frame after the handshake
func fakeHub(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/socket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		authenticated := false
		for {
			var frame protocol.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if !authenticated {
				var req protocol.IdentifyRequest
				_ = frame.Decode(&req)
				if frame.Event != protocol.EventIdentify || req.Passphrase != "pw" {
					reply, _ := protocol.NewFrame(protocol.EventClientError, protocol.ClientError{Message: "bad login"})
					_ = conn.WriteJSON(reply)
					continue
				}
				authenticated = true
				ok, _ := protocol.NewFrame(protocol.EventAuthenticationSucceeded, nil)
				state, _ := protocol.NewFrame(protocol.EventState, protocol.FullState{"scoreboard": {"home": 0.0}})
				_ = conn.WriteJSON(ok)
				_ = conn.WriteJSON(state)
				continue
			}
			_ = conn.WriteJSON(frame)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newSocketClient(t *testing.T, url, passphrase string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		ServerURL:  url,
		ClientType: protocol.ClientTypeManagement,
		Identifier: "admin",
		Passphrase: passphrase,
		Timeout:    2 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func nextFrame(t *testing.T, s *Socket) protocol.Frame {
	t.Helper()
	select {
	case frame, ok := <-s.Events():
		require.True(t, ok, "socket closed")
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return protocol.Frame{}
	}
}

func TestSocket_DialReceivesState(t *testing.T) {
	server := fakeHub(t)
	socket, err := newSocketClient(t, server.URL, "pw").Dial(context.Background())
	require.NoError(t, err)
	defer socket.Close()

	frame := nextFrame(t, socket)
	assert.Equal(t, protocol.EventState, frame.Event)

	var state protocol.FullState
	require.NoError(t, frame.Decode(&state))
	assert.Equal(t, 0.0, state["scoreboard"]["home"])
}

func TestSocket_IdentifyRejectedThenRetry(t *testing.T) {
	server := fakeHub(t)
	client := newSocketClient(t, server.URL, "wrong")

	_, err := client.Dial(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationRejected)

	socket, err := client.Connect(context.Background())
	require.NoError(t, err)
	defer socket.Close()

	err = socket.Identify(context.Background(), protocol.IdentifyRequest{
		ClientType: protocol.ClientTypeManagement, Identifier: "admin", Passphrase: "wrong",
	})
	require.ErrorIs(t, err, ErrAuthenticationRejected)

	err = socket.Identify(context.Background(), protocol.IdentifyRequest{
		ClientType: protocol.ClientTypeManagement, Identifier: "admin", Passphrase: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.EventState, nextFrame(t, socket).Event)
}

func TestSocket_SendFrames(t *testing.T) {
	server := fakeHub(t)
	socket, err := newSocketClient(t, server.URL, "pw").Dial(context.Background())
	require.NoError(t, err)
	defer socket.Close()
	nextFrame(t, socket)

	require.NoError(t, socket.Pushup("scoreboard", "goal", map[string]any{"team": "home"}))
	frame := nextFrame(t, socket)
	assert.Equal(t, protocol.EventPushup, frame.Event)
	var pushup protocol.PushupEvent
	require.NoError(t, frame.Decode(&pushup))
	assert.Equal(t, "scoreboard", pushup.ModuleName)
	assert.Equal(t, "goal", pushup.EventName)

	require.NoError(t, socket.SendStateDelta("scoreboard", map[string]any{"home": 1}))
	frame = nextFrame(t, socket)
	assert.Equal(t, protocol.EventStateDelta, frame.Event)

	require.NoError(t, socket.GetFullState())
	assert.Equal(t, protocol.EventGetFullState, nextFrame(t, socket).Event)
}

func TestSocket_Close(t *testing.T) {
	server := fakeHub(t)
	socket, err := newSocketClient(t, server.URL, "pw").Dial(context.Background())
	require.NoError(t, err)

	require.NoError(t, socket.Close())
	_ = socket.Close()

	select {
	case <-socket.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
	assert.ErrorIs(t, socket.GetFullState(), ErrSocketClosed)
}

func TestSocket_ConnectFails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := newSocketClient(t, server.URL, "pw").Connect(context.Background())
	assert.Error(t, err)
}
