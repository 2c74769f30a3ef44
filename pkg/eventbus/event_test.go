package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespace(t *testing.T) {
	assert.Equal(t, "chat", Namespace("chat.message"))
	assert.Equal(t, "chat", Namespace("chat.message.sent"))
	assert.Equal(t, "", Namespace("stateDelta"))
	assert.Equal(t, "internal", Event{Name: EventBeforeRun}.Namespace())
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "scoreboard.goal", Join("scoreboard", "goal"))
	assert.Equal(t, "goal", Join("", "goal"))
}

func TestIsInternal(t *testing.T) {
	assert.True(t, IsInternal(EventClientConnected))
	assert.True(t, IsInternal("internal.anything"))
	assert.False(t, IsInternal("internalish.event"))
	assert.False(t, IsInternal("chat.internal"))
	assert.False(t, IsInternal("internal"))
}
