package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/messenger/internal/model"
)

func seedRoom(t *testing.T, st *Memory, roomID string, count int) {
	t.Helper()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < count; i++ {
		require.NoError(t, st.CreateMessage(context.Background(), model.ChatMessage{
			ID:        fmt.Sprintf("%s-m%d", roomID, i),
			Content:   fmt.Sprintf("message %d", i),
			SenderID:  "bob",
			RoomID:    roomID,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			ReadBy:    []string{"bob"},
			Type:      model.MessageText,
		}))
	}
}

func TestMemoryPageZeroIsNewestAscending(t *testing.T) {
	st := NewMemory()
	seedRoom(t, st, "room-1", 7)

	page, err := st.ListMessages(context.Background(), "room-1", 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)

	// The newest three, oldest of them first.
	assert.Equal(t, "room-1-m4", page[0].ID)
	assert.Equal(t, "room-1-m5", page[1].ID)
	assert.Equal(t, "room-1-m6", page[2].ID)
}

func TestMemoryOlderPages(t *testing.T) {
	st := NewMemory()
	seedRoom(t, st, "room-1", 7)

	page, err := st.ListMessages(context.Background(), "room-1", 1, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "room-1-m1", page[0].ID)
	assert.Equal(t, "room-1-m3", page[2].ID)

	// The final partial page.
	page, err = st.ListMessages(context.Background(), "room-1", 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "room-1-m0", page[0].ID)

	// Past the end.
	page, err = st.ListMessages(context.Background(), "room-1", 3, 3)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryListDefaultsAndUnknownRoom(t *testing.T) {
	st := NewMemory()
	seedRoom(t, st, "room-1", 2)

	page, err := st.ListMessages(context.Background(), "room-1", -5, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = st.ListMessages(context.Background(), "ghost-room", 0, 50)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryListSurvivesExtremePaging(t *testing.T) {
	st := NewMemory()
	seedRoom(t, st, "room-1", 1)

	// page*size would wrap around; the page is simply past the end.
	page, err := st.ListMessages(context.Background(), "room-1", math.MaxInt, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = st.ListMessages(context.Background(), "room-1", 2, math.MaxInt)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = st.ListMessages(context.Background(), "room-1", 0, math.MaxInt)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestMemoryCreateIgnoresDuplicateIDs(t *testing.T) {
	st := NewMemory()
	seedRoom(t, st, "room-1", 1)

	require.NoError(t, st.CreateMessage(context.Background(), model.ChatMessage{
		ID:     "room-1-m0",
		RoomID: "room-1",
	}))

	page, err := st.ListMessages(context.Background(), "room-1", 0, 50)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Equal(t, "message 0", page[0].Content)
}

func TestMemoryMarkRead(t *testing.T) {
	st := NewMemory()
	seedRoom(t, st, "room-1", 1)

	msg, err := st.MarkRead(context.Background(), "room-1-m0", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "alice"}, msg.ReadBy)
	assert.Equal(t, "room-1", msg.RoomID)

	// Repeats keep the set, they do not grow it.
	msg, err = st.MarkRead(context.Background(), "room-1-m0", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "alice"}, msg.ReadBy)

	// The update is visible to subsequent reads.
	page, err := st.ListMessages(context.Background(), "room-1", 0, 50)
	require.NoError(t, err)
	assert.True(t, page[0].IsReadBy("alice"))
}

func TestMemoryMarkReadUnknownMessage(t *testing.T) {
	st := NewMemory()

	_, err := st.MarkRead(context.Background(), "nope", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}
