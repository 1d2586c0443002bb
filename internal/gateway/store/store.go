// Package store persists room messages for the reference gateway.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/carelink/messenger/internal/model"
)

var ErrNotFound = errors.New("store: message not found")

// Store is the gateway's message persistence contract. Pages are
// counted from the newest messages: page 0 returns the latest `size`
// messages in ascending createdAt order.
type Store interface {
	CreateMessage(ctx context.Context, msg model.ChatMessage) error
	ListMessages(ctx context.Context, roomID string, page, size int) ([]model.ChatMessage, error)
	MarkRead(ctx context.Context, messageID, userID string) (model.ChatMessage, error)
}

// Memory is the default in-process store.
type Memory struct {
	mu    sync.Mutex
	rooms map[string][]model.ChatMessage
	index map[string]string // message id -> room id
}

func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string][]model.ChatMessage),
		index: make(map[string]string),
	}
}

func (m *Memory) CreateMessage(_ context.Context, msg model.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index[msg.ID]; exists {
		return nil
	}
	m.index[msg.ID] = msg.RoomID
	m.rooms[msg.RoomID] = append(m.rooms[msg.RoomID], msg)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, roomID string, page, size int) ([]model.ChatMessage, error) {
	if size <= 0 {
		size = 50
	}
	if page < 0 {
		page = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.rooms[roomID]
	// page*size wraps around for huge client-supplied pages. Reject
	// pages past the end before multiplying.
	if page > len(all)/size {
		return []model.ChatMessage{}, nil
	}
	end := len(all) - page*size
	if end <= 0 {
		return []model.ChatMessage{}, nil
	}
	start := max(end-size, 0)

	out := make([]model.ChatMessage, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, messageID, userID string) (model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID, ok := m.index[messageID]
	if !ok {
		return model.ChatMessage{}, ErrNotFound
	}

	messages := m.rooms[roomID]
	for i := range messages {
		if messages[i].ID == messageID {
			messages[i].MarkReadBy(userID)
			return messages[i], nil
		}
	}
	return model.ChatMessage{}, ErrNotFound
}
