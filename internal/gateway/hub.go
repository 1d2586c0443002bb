// Package gateway implements the reference backend for the messenger
// core: room hubs over WebSocket plus the REST history endpoints.
package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/carelink/messenger/internal/gateway/store"
	"github.com/carelink/messenger/internal/model"
)

// Hub tracks rooms and routes frames between their clients.
type Hub struct {
	store     store.Store
	sanitizer *bluemonday.Policy

	mu    sync.Mutex
	rooms map[string]*room
}

// frameDedupWindow bounds how many recent frame ids a room remembers
// for idempotent message sends.
const frameDedupWindow = 512

type room struct {
	id      string
	clients map[string]*Client
	typing  map[string]bool
	// active calls: call id -> participant user ids
	calls map[string][]string
	// recently seen sender frame ids, oldest first
	frameIDs map[string]bool
	frameLog []string
}

// seenFrame records a sender-supplied frame id and reports whether it
// was already seen. Blank ids are never deduplicated.
func (r *room) seenFrame(id string) bool {
	if id == "" {
		return false
	}
	if r.frameIDs[id] {
		return true
	}
	r.frameIDs[id] = true
	r.frameLog = append(r.frameLog, id)
	if len(r.frameLog) > frameDedupWindow {
		delete(r.frameIDs, r.frameLog[0])
		r.frameLog = r.frameLog[1:]
	}
	return false
}

func NewHub(st store.Store) *Hub {
	return &Hub{
		store:     st,
		sanitizer: bluemonday.StrictPolicy(),
		rooms:     make(map[string]*room),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.RoomID]
	if !ok {
		r = &room{
			id:       c.RoomID,
			clients:  make(map[string]*Client),
			typing:   make(map[string]bool),
			calls:    make(map[string][]string),
			frameIDs: make(map[string]bool),
		}
		h.rooms[c.RoomID] = r
	}
	r.clients[c.UserID] = c
	h.mu.Unlock()

	h.broadcast(c.RoomID, model.Envelope{
		Type:   model.FrameUserJoined,
		RoomID: c.RoomID,
		UserID: c.UserID,
	}, c.UserID)

	log.Printf("user %s joined room %s", c.UserID, c.RoomID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.RoomID]
	if ok {
		if r.clients[c.UserID] == c {
			delete(r.clients, c.UserID)
			delete(r.typing, c.UserID)
		}
		if len(r.clients) == 0 {
			delete(h.rooms, c.RoomID)
			r = nil
		}
	}
	h.mu.Unlock()

	if r != nil {
		// The departing user drops out of the active typing set.
		h.broadcastTyping(c.RoomID)
	}
	c.close()
}

// handleFrame demultiplexes one inbound client frame.
func (h *Hub) handleFrame(ctx context.Context, c *Client, env model.Envelope) {
	switch env.Type {
	case model.FrameNewTextMessage, model.FrameNewFileMessage, model.FrameNewVoiceMessage:
		h.handleNewMessage(ctx, c, env)

	case model.FrameMessageRead:
		h.HandleRead(ctx, c.RoomID, env.MessageID, c.UserID)

	case model.FrameTyping:
		h.handleTyping(c, env)

	case model.FrameCallType:
		h.handleCallType(c, env)

	case model.FrameOffer, model.FrameAnswer, model.FrameICECandidate:
		env.UserID = c.UserID
		h.routeTo(c.RoomID, env.TargetUserID, env)

	case model.FrameEndCall:
		h.handleEndCall(c, env)

	default:
		log.Printf("unknown frame type %q from user %s", env.Type, c.UserID)
	}
}

func (h *Hub) handleNewMessage(ctx context.Context, c *Client, env model.Envelope) {
	// Redelivered sends (retries after a flaky ack) carry the same
	// sender frame id and must not produce a second message.
	h.mu.Lock()
	if r, ok := h.rooms[c.RoomID]; ok && r.seenFrame(env.FrameID) {
		h.mu.Unlock()
		log.Printf("dropping duplicate frame %s from user %s", env.FrameID, c.UserID)
		return
	}
	h.mu.Unlock()

	msgType := model.MessageText
	switch env.Type {
	case model.FrameNewFileMessage:
		msgType = model.MessageFile
	case model.FrameNewVoiceMessage:
		msgType = model.MessageVoice
	}

	msg := model.ChatMessage{
		ID:        uuid.NewString(),
		Content:   h.sanitizer.Sanitize(env.Content),
		SenderID:  c.UserID,
		RoomID:    c.RoomID,
		CreatedAt: time.Now().UTC(),
		ReadBy:    []string{c.UserID},
		Type:      msgType,
		FileURL:   env.FileURL,
		FileName:  env.FileName,
	}

	if err := h.store.CreateMessage(ctx, msg); err != nil {
		log.Printf("[error] failed to store message: %v", err)
		return
	}

	h.broadcast(c.RoomID, model.Envelope{
		Type:    env.Type,
		RoomID:  c.RoomID,
		Message: &msg,
	}, "")
}

// HandleRead records a read receipt and broadcasts it to the room.
// Shared by the socket path and the REST endpoint.
func (h *Hub) HandleRead(ctx context.Context, roomID, messageID, userID string) {
	msg, err := h.store.MarkRead(ctx, messageID, userID)
	if err != nil {
		log.Printf("[error] mark read %s: %v", messageID, err)
		return
	}
	if roomID == "" {
		roomID = msg.RoomID
	}
	h.NotifyRead(roomID, messageID, userID)
}

// NotifyRead broadcasts a read receipt for an already-recorded read.
func (h *Hub) NotifyRead(roomID, messageID, userID string) {
	h.broadcast(roomID, model.Envelope{
		Type:      model.FrameMessageRead,
		RoomID:    roomID,
		MessageID: messageID,
		UserID:    userID,
	}, "")
}

func (h *Hub) handleTyping(c *Client, env model.Envelope) {
	if env.IsTyping == nil {
		return
	}

	h.mu.Lock()
	if r, ok := h.rooms[c.RoomID]; ok {
		if *env.IsTyping {
			r.typing[c.UserID] = true
		} else {
			delete(r.typing, c.UserID)
		}
	}
	h.mu.Unlock()

	h.broadcastTyping(c.RoomID)
}

// broadcastTyping sends the current "actively typing" set. Clients
// interpret absence as stopped, so the set alone is enough.
func (h *Hub) broadcastTyping(roomID string) {
	active := model.TypingState{}

	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		for user := range r.typing {
			active[user] = true
		}
	}
	h.mu.Unlock()

	h.broadcast(roomID, model.Envelope{
		Type:        model.FrameTyping,
		RoomID:      roomID,
		TypingUsers: active,
	}, "")
}

func (h *Hub) handleCallType(c *Client, env model.Envelope) {
	callID := uuid.NewString()

	h.mu.Lock()
	if r, ok := h.rooms[c.RoomID]; ok {
		r.calls[callID] = []string{c.UserID, env.TargetUserID}
	}
	h.mu.Unlock()

	// Forward the announcement, then hand both sides the assigned id.
	env.UserID = c.UserID
	h.routeTo(c.RoomID, env.TargetUserID, env)

	started := model.Envelope{
		Type:   model.FrameCallStarted,
		RoomID: c.RoomID,
		CallID: callID,
	}
	h.routeTo(c.RoomID, c.UserID, started)
	h.routeTo(c.RoomID, env.TargetUserID, started)

	log.Printf("call %s started in room %s by %s", callID, c.RoomID, c.UserID)
}

func (h *Hub) handleEndCall(c *Client, env model.Envelope) {
	var peers []string

	h.mu.Lock()
	if r, ok := h.rooms[c.RoomID]; ok {
		peers = r.calls[env.CallID]
		delete(r.calls, env.CallID)
	}
	h.mu.Unlock()

	ended := model.Envelope{
		Type:   model.FrameCallEnded,
		RoomID: c.RoomID,
		CallID: env.CallID,
	}
	for _, peer := range peers {
		if peer != c.UserID {
			h.routeTo(c.RoomID, peer, ended)
		}
	}
}

// broadcast fans an envelope out to every room client except the
// excluded user. Full client channels are skipped, not waited on.
func (h *Hub) broadcast(roomID string, env model.Envelope, exclude string) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]*Client, 0, len(r.clients))
	for user, client := range r.clients {
		if user != exclude {
			targets = append(targets, client)
		}
	}
	h.mu.Unlock()

	for _, client := range targets {
		client.enqueue(env)
	}
}

func (h *Hub) routeTo(roomID, userID string, env model.Envelope) {
	if userID == "" {
		return
	}

	h.mu.Lock()
	var target *Client
	if r, ok := h.rooms[roomID]; ok {
		target = r.clients[userID]
	}
	h.mu.Unlock()

	if target == nil {
		log.Printf("dropping %s frame: user %s not in room %s", env.Type, userID, roomID)
		return
	}
	target.enqueue(env)
}
