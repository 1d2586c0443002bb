package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/carelink/messenger/internal/history"
	"github.com/carelink/messenger/internal/identity"
	"github.com/carelink/messenger/internal/model"
)

// writeWait bounds a single socket write.
const writeWait = 10 * time.Second

// Manager owns one logical real-time session per chat room: the
// socket, the reconciled message list and the merged typing state.
// Switching rooms always disconnects the previous session first, and a
// generation counter keeps in-flight work from a previous room from
// mutating state after the switch.
type Manager struct {
	wsURL    string
	history  *history.Client
	identity identity.Provider

	// Token, when set, supplies the bearer token appended to the socket
	// URL. Browsers cannot set headers on a WebSocket handshake, so the
	// gateway accepts it as a query param.
	Token func() string

	mu         sync.Mutex
	conn       *websocket.Conn
	cancelRead context.CancelFunc
	roomID     string
	generation uint64
	state      State
	reconciler *Reconciler
	typing     model.TypingState

	messageLim *rate.Limiter
	typingLim  *rate.Limiter

	status broadcaster[State]
	typers broadcaster[model.TypingState]
	frames broadcaster[model.Envelope]

	sanitizer *bluemonday.Policy
}

// NewManager wires the session core. wsURL is the gateway socket base,
// e.g. "ws://localhost:8080".
func NewManager(wsURL string, hist *history.Client, id identity.Provider) *Manager {
	return &Manager{
		wsURL:     wsURL,
		history:   hist,
		identity:  id,
		state:     StateDisconnected,
		typing:    model.TypingState{},
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// SetMessageLimiter caps outbound text sends. Frames over the limit
// are dropped with a log line, never an error.
func (m *Manager) SetMessageLimiter(requests int, window time.Duration) {
	m.messageLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// SetTypingLimiter caps outbound typing frames.
func (m *Manager) SetTypingLimiter(requests int, window time.Duration) {
	m.typingLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// SubscribeStatus delivers connection-state changes. Multicast, no
// replay; the returned cancel must be called on teardown.
func (m *Manager) SubscribeStatus() (<-chan State, func()) {
	return m.status.subscribe(8)
}

// SubscribeTyping delivers merged typing-state snapshots.
func (m *Manager) SubscribeTyping() (<-chan model.TypingState, func()) {
	return m.typers.subscribe(16)
}

// SubscribeFrames delivers every inbound wire envelope in arrival
// order. The call coordinator consumes its signaling frames from here.
func (m *Manager) SubscribeFrames() (<-chan model.Envelope, func()) {
	return m.frames.subscribe(64)
}

// Connect establishes the session for roomID: socket handshake, then
// the initial history load. Both must succeed before the state is
// connected; any failure drops back to disconnected and is returned
// exactly once. A previous session is always torn down first.
func (m *Manager) Connect(ctx context.Context, roomID string) error {
	m.Disconnect()

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.state = StateConnecting
	m.mu.Unlock()
	m.status.publish(StateConnecting)

	conn, err := m.dial(ctx, roomID)
	if err != nil {
		m.fail(gen, roomID, err)
		return fmt.Errorf("internal/client: connect room %s: %w", roomID, err)
	}

	rec := NewReconciler(m.identity.CurrentUserID(), m.ackRead)
	messages, err := m.history.ListMessages(ctx, roomID, history.DefaultPage, history.DefaultSize)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "history load failed")
		m.fail(gen, roomID, err)
		return fmt.Errorf("internal/client: connect room %s: %w", roomID, err)
	}
	rec.Seed(messages)

	readCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if gen != m.generation {
		// Superseded by a newer Connect/Disconnect while the
		// handshake was in flight.
		m.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		rec.Stop()
		return fmt.Errorf("internal/client: connect room %s: superseded by a newer session", roomID)
	}
	m.conn = conn
	m.cancelRead = cancel
	m.roomID = roomID
	m.reconciler = rec
	m.typing = model.TypingState{}
	m.state = StateConnected
	m.mu.Unlock()

	m.status.publish(StateConnected)
	slog.Info("room session established", "room_id", roomID, "history", len(messages))

	go m.readLoop(readCtx, gen, conn)
	return nil
}

func (m *Manager) dial(ctx context.Context, roomID string) (*websocket.Conn, error) {
	endpoint := fmt.Sprintf("%s/ws?roomId=%s", m.wsURL, url.QueryEscape(roomID))
	if m.Token != nil {
		if token := m.Token(); token != "" {
			endpoint += "&token=" + url.QueryEscape(token)
		}
	}
	if userID := m.identity.CurrentUserID(); userID != "" {
		endpoint += "&userId=" + url.QueryEscape(userID)
	}
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (m *Manager) fail(gen uint64, roomID string, err error) {
	log.Printf("[error] session for room %s failed: %v", roomID, err)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.mu.Unlock()
	m.status.publish(StateDisconnected)
}

// Disconnect tears the current session down. Idempotent: closing an
// already-closed session is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	cancel := m.cancelRead
	rec := m.reconciler
	m.conn = nil
	m.cancelRead = nil
	m.reconciler = nil
	m.generation++
	changed := m.state != StateDisconnected
	m.state = StateDisconnected
	m.typing = model.TypingState{}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if rec != nil {
		rec.Stop()
	}
	if changed {
		m.status.publish(StateDisconnected)
	}
}

// readLoop pumps inbound frames until the socket closes or the session
// is superseded. Frames are processed strictly in arrival order.
func (m *Manager) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	defer m.dropConnection(gen, conn)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				ctx.Err() == nil {
				log.Printf("[error] socket read: %v", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[error] malformed frame dropped: %v", err)
			continue
		}

		if !m.isCurrent(gen) {
			return
		}
		m.dispatch(&env)
	}
}

func (m *Manager) dropConnection(gen uint64, conn *websocket.Conn) {
	conn.CloseNow()

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	rec := m.reconciler
	m.conn = nil
	m.cancelRead = nil
	m.reconciler = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	m.status.publish(StateDisconnected)
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

// dispatch demultiplexes one inbound envelope by frame type. Chat
// frames feed the reconciler, typing frames the two-pass merge; every
// frame also fans out to subscribers.
func (m *Manager) dispatch(env *model.Envelope) {
	switch {
	case env.Type == model.FrameTyping:
		// The gateway echoes the full active set, local user included.
		// Typing state tracks remote users only.
		update := env.TypingUsers.Clone()
		delete(update, m.identity.CurrentUserID())

		m.mu.Lock()
		m.typing = MergeTyping(m.typing, update)
		snapshot := m.typing.Clone()
		m.mu.Unlock()
		m.typers.publish(snapshot)

	case env.Type == model.FrameMessageRead:
		m.mu.Lock()
		rec := m.reconciler
		m.mu.Unlock()
		if rec != nil {
			rec.MarkRead(env.MessageID, env.UserID)
		}

	case env.IsChatFrame():
		if env.Message == nil {
			log.Printf("[error] %s frame without message payload dropped", env.Type)
			return
		}
		msg := *env.Message
		msg.Content = m.sanitizer.Sanitize(msg.Content)

		m.mu.Lock()
		rec := m.reconciler
		m.mu.Unlock()
		if rec != nil {
			rec.Add(msg)
		}
	}

	m.frames.publish(*env)
}

// ackRead posts the delayed read receipt. Transient failures are
// logged, never retried and never surfaced.
func (m *Manager) ackRead(messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	if err := m.history.MarkRead(ctx, messageID); err != nil {
		log.Printf("[error] read receipt for %s: %v", messageID, err)
	}
}

// SendTextMessage sends chat text. Logs and drops when not connected;
// never panics into UI code.
func (m *Manager) SendTextMessage(roomID, content string) {
	if m.messageLim != nil && !m.messageLim.Allow() {
		log.Printf("[warn] message rate limit hit, dropping send for room %s", roomID)
		return
	}
	m.send(model.Envelope{
		Type:    model.FrameNewTextMessage,
		RoomID:  roomID,
		FrameID: uuid.NewString(),
		Content: content,
		UserID:  m.identity.CurrentUserID(),
	})
}

// SendFileMessage sends a file reference previously uploaded out of
// band.
func (m *Manager) SendFileMessage(roomID, fileURL, fileName string) {
	if m.messageLim != nil && !m.messageLim.Allow() {
		log.Printf("[warn] message rate limit hit, dropping send for room %s", roomID)
		return
	}
	m.send(model.Envelope{
		Type:     model.FrameNewFileMessage,
		RoomID:   roomID,
		FrameID:  uuid.NewString(),
		FileURL:  fileURL,
		FileName: fileName,
		UserID:   m.identity.CurrentUserID(),
	})
}

// SendTypingIndicator is fire-and-forget; no acknowledgement is
// awaited. Stop signals bypass the rate limiter so a stop is never
// dropped.
func (m *Manager) SendTypingIndicator(roomID string, isTyping bool) {
	if isTyping && m.typingLim != nil && !m.typingLim.Allow() {
		return
	}
	typing := isTyping
	m.send(model.Envelope{
		Type:     model.FrameTyping,
		RoomID:   roomID,
		UserID:   m.identity.CurrentUserID(),
		IsTyping: &typing,
	})
}

// SendSignal forwards a call-signaling frame over the room socket.
func (m *Manager) SendSignal(env model.Envelope) {
	if env.RoomID == "" {
		env.RoomID = m.Room()
	}
	m.send(env)
}

func (m *Manager) send(env model.Envelope) {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if conn == nil || state != StateConnected {
		log.Printf("[warn] dropping %s frame: not connected", env.Type)
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[error] encode %s frame: %v", env.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Printf("[error] send %s frame: %v", env.Type, err)
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Room returns the active room id, empty when disconnected.
func (m *Manager) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return ""
	}
	return m.roomID
}

// Messages returns the derived, sorted projection of the active
// room's message list.
func (m *Manager) Messages() []model.ChatMessage {
	m.mu.Lock()
	rec := m.reconciler
	m.mu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.Messages()
}

// Typing returns a snapshot of the merged typing state.
func (m *Manager) Typing() model.TypingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing.Clone()
}

// UserID exposes the resolved local identity, used for own-message
// classification.
func (m *Manager) UserID() string {
	return m.identity.CurrentUserID()
}
