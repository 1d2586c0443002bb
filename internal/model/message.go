// Package model defines the chat data structures shared by the client
// core and the gateway.
package model

import (
	"slices"
	"time"
)

// MessageType discriminates the chat message payload kinds.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageFile  MessageType = "FILE"
	MessageVoice MessageType = "VOICE"
)

// ChatMessage holds a single room message. ReadBy grows monotonically
// and never contains duplicates.
type ChatMessage struct {
	ID        string      `json:"id"`
	Content   string      `json:"content,omitempty"`
	SenderID  string      `json:"senderId"`
	RoomID    string      `json:"roomId"`
	CreatedAt time.Time   `json:"createdAt"`
	ReadBy    []string    `json:"readBy,omitempty"`
	Type      MessageType `json:"type"`
	FileURL   string      `json:"fileUrl,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
}

// MarkReadBy records that userID has acknowledged the message. Returns
// false when the user was already present.
func (m *ChatMessage) MarkReadBy(userID string) bool {
	if slices.Contains(m.ReadBy, userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// IsReadBy reports whether userID has acknowledged the message.
func (m *ChatMessage) IsReadBy(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// TypingState maps a remote user id to "is typing now". Entries are
// flipped to false when a user stops, never removed, so callers can
// tell "never typed" (absent) from "stopped typing" (false).
type TypingState map[string]bool

// Clone returns an independent copy of the state.
func (s TypingState) Clone() TypingState {
	next := make(TypingState, len(s))
	for user, typing := range s {
		next[user] = typing
	}
	return next
}
