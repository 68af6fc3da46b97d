package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinLeave(t *testing.T) {
	r := NewMemoryRegistry()

	r.Join(1, 10)
	r.Join(1, 11)
	r.Join(2, 10)

	assert.True(t, r.IsJoined(1, 10))
	assert.True(t, r.IsJoined(1, 11))
	assert.False(t, r.IsJoined(2, 11))
	assert.ElementsMatch(t, []int64{10, 11}, r.Connected(1))

	r.Leave(1, 10)
	assert.False(t, r.IsJoined(1, 10))
	assert.ElementsMatch(t, []int64{11}, r.Connected(1))

	// Leaving a document you never joined is a no-op.
	r.Leave(3, 99)
	assert.Empty(t, r.Connected(3))
}

func TestCursorLifecycle(t *testing.T) {
	r := NewMemoryRegistry()
	r.Join(1, 10)

	_, ok := r.Cursor(1, 10)
	assert.False(t, ok, "no cursor before first report")

	anchor := 3
	r.SetCursor(1, 10, Cursor{PartID: 5, Position: 7, SelectionAnchorPosition: &anchor, Target: "text"})
	c, ok := r.Cursor(1, 10)
	require.True(t, ok)
	assert.Equal(t, int64(5), c.PartID)
	assert.Equal(t, 7, c.Position)
	require.NotNil(t, c.SelectionAnchorPosition)
	assert.Equal(t, 3, *c.SelectionAnchorPosition)

	// Cursor for a user who is not joined is dropped silently.
	r.SetCursor(1, 99, Cursor{PartID: 1})
	_, ok = r.Cursor(1, 99)
	assert.False(t, ok)

	// Leaving removes the cursor with the entry.
	r.Leave(1, 10)
	_, ok = r.Cursor(1, 10)
	assert.False(t, ok)
}
