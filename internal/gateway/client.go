package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/carelink/messenger/internal/model"
)

const (
	clientWriteWait = 10 * time.Second
	pingPeriod      = 54 * time.Second
)

// Client is one connected socket in a room.
type Client struct {
	UserID string
	RoomID string

	conn *websocket.Conn
	hub  *Hub
	send chan model.Envelope

	messageLim *rate.Limiter
	typingLim  *rate.Limiter

	// mu orders enqueue against close: the hub fans out from other
	// clients' goroutines while unregister shuts this client down.
	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, hub *Hub, userID, roomID string) *Client {
	return &Client{
		UserID: userID,
		RoomID: roomID,
		conn:   conn,
		hub:    hub,
		send:   make(chan model.Envelope, 64),
		// 30 messages and 60 typing signals per minute per client.
		messageLim: rate.NewLimiter(rate.Every(2*time.Second), 30),
		typingLim:  rate.NewLimiter(rate.Every(time.Second), 60),
	}
}

func (c *Client) enqueue(env model.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- env:
	default:
		log.Printf("skipping frame for user %s - channel full or client slow", c.UserID)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
}

// readPump reads inbound frames until the socket closes, then
// unregisters the client. Blocks; run it on the handler goroutine.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.CloseNow()
	}()

	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				log.Printf("[error] read from user %s: %v", c.UserID, err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("failed to process frame from user %s: %v", c.UserID, err)
			continue
		}
		env.RoomID = c.RoomID

		if !c.allow(env.Type) {
			continue
		}
		c.hub.handleFrame(ctx, c, env)
	}
}

func (c *Client) allow(frameType string) bool {
	switch frameType {
	case model.FrameNewTextMessage, model.FrameNewFileMessage, model.FrameNewVoiceMessage:
		if !c.messageLim.Allow() {
			log.Printf("message rate limit hit for user %s", c.UserID)
			return false
		}
	case model.FrameTyping:
		if !c.typingLim.Allow() {
			return false
		}
	}
	return true
}

// writePump writes queued frames and keeps the connection alive with
// pings.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			data, err := json.Marshal(env)
			if err != nil {
				log.Printf("[error] encode %s frame for user %s: %v", env.Type, c.UserID, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, clientWriteWait)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Printf("[error] write to user %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, clientWriteWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}
