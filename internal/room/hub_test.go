package room

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, c *Client) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case raw := <-c.Outbox():
			var m map[string]any
			require.NoError(t, json.Unmarshal(raw, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := NewClient(nil, 1, zerolog.Nop())
	b := NewClient(nil, 2, zerolog.Nop())
	h.Register(a)
	h.Register(b)
	h.Join("editing:1", a)
	h.Join("editing:1", b)

	h.BroadcastExcept("editing:1", a.ID, map[string]string{"event": "x"})

	assert.Empty(t, drain(t, a))
	msgs := drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "x", msgs[0]["event"])
}

func TestSendToUserReachesAllTheirConnections(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a1 := NewClient(nil, 1, zerolog.Nop())
	a2 := NewClient(nil, 1, zerolog.Nop())
	b := NewClient(nil, 2, zerolog.Nop())
	for _, c := range []*Client{a1, a2, b} {
		h.Register(c)
		h.Join("teleprompter:1", c)
	}

	h.SendToUser("teleprompter:1", 1, map[string]string{"event": "y"})

	assert.Len(t, drain(t, a1), 1)
	assert.Len(t, drain(t, a2), 1)
	assert.Empty(t, drain(t, b))
}

func TestUnregisterRemovesFromRooms(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := NewClient(nil, 1, zerolog.Nop())
	h.Register(a)
	h.Join("editing:1", a)
	assert.True(t, h.InRoom("editing:1", a))

	h.Unregister(a)
	assert.False(t, h.InRoom("editing:1", a))

	// Double unregister is a no-op.
	h.Unregister(a)

	_, open := <-a.Outbox()
	assert.False(t, open, "send queue closes on unregister")
}

func TestBroadcastToUnknownRoomIsNoOp(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.Broadcast("editing:404", map[string]string{"event": "z"})
}
