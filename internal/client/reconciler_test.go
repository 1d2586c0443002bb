package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/messenger/internal/model"
)

func textMessage(id, sender string, at time.Time) model.ChatMessage {
	return model.ChatMessage{
		ID:        id,
		Content:   "hello",
		SenderID:  sender,
		RoomID:    "room-1",
		CreatedAt: at,
		ReadBy:    []string{sender},
		Type:      model.MessageText,
	}
}

func TestReconcilerDropsDuplicateIDs(t *testing.T) {
	rec := NewReconciler("alice", nil)
	defer rec.Stop()

	now := time.Now()
	assert.True(t, rec.Add(textMessage("m1", "bob", now)))
	// Redundant socket delivery of the same message.
	assert.False(t, rec.Add(textMessage("m1", "bob", now)))
	assert.Equal(t, 1, rec.Len())
}

func TestReconcilerSeedThenLiveDedup(t *testing.T) {
	rec := NewReconciler("alice", nil)
	defer rec.Stop()

	now := time.Now()
	rec.Seed([]model.ChatMessage{
		textMessage("m1", "bob", now),
		textMessage("m2", "bob", now.Add(time.Second)),
	})

	// A live delivery of a message already present from history.
	assert.False(t, rec.Add(textMessage("m2", "bob", now.Add(time.Second))))
	assert.True(t, rec.Add(textMessage("m3", "bob", now.Add(2*time.Second))))
	assert.Equal(t, 3, rec.Len())
}

func TestReconcilerMessagesSortedByCreatedAt(t *testing.T) {
	rec := NewReconciler("alice", nil)
	defer rec.Stop()

	now := time.Now()
	// Out-of-order arrival: the socket delivered m2 before the history
	// fetch landed with m1.
	require.True(t, rec.Add(textMessage("m2", "bob", now.Add(time.Second))))
	rec.Seed([]model.ChatMessage{textMessage("m1", "bob", now)})
	require.True(t, rec.Add(textMessage("m3", "bob", now.Add(2*time.Second))))

	view := rec.Messages()
	require.Len(t, view, 3)
	assert.Equal(t, "m1", view[0].ID)
	assert.Equal(t, "m2", view[1].ID)
	assert.Equal(t, "m3", view[2].ID)
}

func TestReconcilerSortIsStableForEqualTimestamps(t *testing.T) {
	rec := NewReconciler("alice", nil)
	defer rec.Stop()

	now := time.Now()
	require.True(t, rec.Add(textMessage("first", "bob", now)))
	require.True(t, rec.Add(textMessage("second", "bob", now)))

	view := rec.Messages()
	require.Len(t, view, 2)
	assert.Equal(t, "first", view[0].ID)
	assert.Equal(t, "second", view[1].ID)
}

func TestReconcilerMarkReadIsMonotone(t *testing.T) {
	rec := NewReconciler("alice", nil)
	defer rec.Stop()

	rec.Seed([]model.ChatMessage{textMessage("m1", "bob", time.Now())})

	assert.True(t, rec.MarkRead("m1", "alice"))
	// Repeat receipt is a no-op, not an error.
	assert.False(t, rec.MarkRead("m1", "alice"))
	// Receipts for unknown messages are dropped.
	assert.False(t, rec.MarkRead("nope", "alice"))

	view := rec.Messages()
	require.Len(t, view, 1)
	assert.ElementsMatch(t, []string{"bob", "alice"}, view[0].ReadBy)
}

func TestReconcilerSchedulesAckForForeignMessages(t *testing.T) {
	acked := make(chan string, 4)
	rec := NewReconciler("alice", func(messageID string) {
		acked <- messageID
	})
	rec.delay = 10 * time.Millisecond
	defer rec.Stop()

	now := time.Now()
	// Own messages and already-read messages never ack.
	rec.Add(textMessage("own", "alice", now))
	seen := textMessage("seen", "bob", now)
	seen.ReadBy = append(seen.ReadBy, "alice")
	rec.Add(seen)
	// Seeded history never acks either.
	rec.Seed([]model.ChatMessage{textMessage("old", "bob", now)})

	rec.Add(textMessage("fresh", "bob", now))

	select {
	case id := <-acked:
		assert.Equal(t, "fresh", id)
	case <-time.After(time.Second):
		t.Fatal("expected a read receipt for the foreign message")
	}

	select {
	case id := <-acked:
		t.Fatalf("unexpected extra read receipt for %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconcilerStopCancelsPendingAcks(t *testing.T) {
	acked := make(chan string, 1)
	rec := NewReconciler("alice", func(messageID string) {
		acked <- messageID
	})
	rec.delay = 20 * time.Millisecond

	rec.Add(textMessage("m1", "bob", time.Now()))
	rec.Stop()

	select {
	case id := <-acked:
		t.Fatalf("read receipt for %s fired after Stop", id)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestReconcilerIsOwn(t *testing.T) {
	rec := NewReconciler("alice", nil)
	defer rec.Stop()

	assert.True(t, rec.IsOwn("alice"))
	assert.False(t, rec.IsOwn("bob"))
	assert.False(t, rec.IsOwn(""))
}
