package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_WireShape(t *testing.T) {
	frame, err := NewFrame(EventPushup, PushupEvent{ModuleName: "chat", EventName: "send", Event: map[string]any{"text": "hi"}})
	require.NoError(t, err)

	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pushupEvent","data":{"bmName":"chat","eventName":"send","event":{"text":"hi"}}}`, string(raw))
}

func TestFrame_NoPayload(t *testing.T) {
	frame, err := NewFrame(EventAuthenticationSucceeded, nil)
	require.NoError(t, err)

	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"authenticationSucceeded"}`, string(raw))

	var v any
	require.NoError(t, frame.Decode(&v))
	assert.Nil(t, v)
}

func TestFrame_DecodeIdentify(t *testing.T) {
	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(`{"event":"identify","data":{"clientType":"management","identifier":"x","passphrase":"good"}}`), &frame))

	var req IdentifyRequest
	require.NoError(t, frame.Decode(&req))
	assert.Equal(t, ClientTypeManagement, req.ClientType)
	assert.Equal(t, "x", req.Identifier)
	assert.Equal(t, "good", req.Passphrase)
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"stateDelta","data":{"bmName":"scores"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventStateDelta, f.Event)
	assert.JSONEq(t, `{"bmName":"scores"}`, string(f.Data))

	for _, raw := range []string{``, `{"event":`, `"identify"`, `[1,2]`} {
		_, err := ParseFrame([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedFrame, raw)
	}
}
