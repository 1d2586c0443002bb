package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/messenger/internal/gateway/store"
	"github.com/carelink/messenger/internal/model"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()

	st := store.NewMemory()
	ts := httptest.NewServer(NewServer(st).Routes())
	t.Cleanup(ts.Close)
	return ts, st
}

// wsClient is one connected room participant in tests.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func join(t *testing.T, ts *httptest.Server, roomID, userID string) *wsClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(context.Background(),
		wsURL+"/ws?roomId="+roomID+"&userId="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(env model.Envelope) {
	c.t.Helper()

	data, err := json.Marshal(env)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
}

// expect reads frames until one of the wanted type arrives.
func (c *wsClient) expect(frameType string) model.Envelope {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		_, data, err := c.conn.Read(ctx)
		require.NoError(c.t, err, "waiting for %s frame", frameType)

		var env model.Envelope
		require.NoError(c.t, json.Unmarshal(data, &env))
		if env.Type == frameType {
			return env
		}
	}
}

func TestRequestsWithoutIdentityAreRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/api/rooms/room-1/messages")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestListMessagesEndpoint(t *testing.T) {
	ts, st := newTestServer(t)

	now := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, st.CreateMessage(context.Background(), model.ChatMessage{
			ID:        id,
			Content:   "hello",
			SenderID:  "bob",
			RoomID:    "room-1",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			ReadBy:    []string{"bob"},
			Type:      model.MessageText,
		}))
	}

	res, err := http.Get(ts.URL + "/api/rooms/room-1/messages?userId=alice&page=0&size=2")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var messages []model.ChatMessage
	require.NoError(t, json.NewDecoder(res.Body).Decode(&messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "m2", messages[0].ID)
	assert.Equal(t, "m3", messages[1].ID)
}

func TestSendMessageIsStoredSanitizedAndBroadcast(t *testing.T) {
	ts, st := newTestServer(t)

	alice := join(t, ts, "room-1", "alice")
	bob := join(t, ts, "room-1", "bob")

	// Alice sees Bob arrive; Bob does not see his own join.
	joined := alice.expect(model.FrameUserJoined)
	assert.Equal(t, "bob", joined.UserID)

	alice.send(model.Envelope{
		Type:    model.FrameNewTextMessage,
		Content: "<img src=x onerror=alert(1)>take your meds",
	})

	env := bob.expect(model.FrameNewTextMessage)
	require.NotNil(t, env.Message)
	assert.Equal(t, "take your meds", env.Message.Content)
	assert.Equal(t, "alice", env.Message.SenderID)
	assert.NotEmpty(t, env.Message.ID)
	assert.Equal(t, []string{"alice"}, env.Message.ReadBy)
	assert.Equal(t, model.MessageText, env.Message.Type)

	// The sender receives the authoritative copy too.
	own := alice.expect(model.FrameNewTextMessage)
	assert.Equal(t, env.Message.ID, own.Message.ID)

	stored, err := st.ListMessages(context.Background(), "room-1", 0, 50)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "take your meds", stored[0].Content)
}

func TestDuplicateFrameIDsProduceOneMessage(t *testing.T) {
	ts, st := newTestServer(t)

	alice := join(t, ts, "room-1", "alice")
	bob := join(t, ts, "room-1", "bob")

	// A retried send carries the same frame id.
	send := model.Envelope{
		Type:    model.FrameNewTextMessage,
		FrameID: "frame-1",
		Content: "only once",
	}
	alice.send(send)
	alice.send(send)
	alice.send(model.Envelope{
		Type:    model.FrameNewTextMessage,
		FrameID: "frame-2",
		Content: "second",
	})

	first := bob.expect(model.FrameNewTextMessage)
	assert.Equal(t, "only once", first.Message.Content)
	// The duplicate was dropped, so the very next message frame is the
	// second send.
	next := bob.expect(model.FrameNewTextMessage)
	assert.Equal(t, "second", next.Message.Content)

	stored, err := st.ListMessages(context.Background(), "room-1", 0, 50)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestFileMessageKeepsFileFields(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := join(t, ts, "room-1", "alice")
	bob := join(t, ts, "room-1", "bob")

	alice.send(model.Envelope{
		Type:     model.FrameNewFileMessage,
		FileURL:  "https://cdn.example.com/scan.pdf",
		FileName: "scan.pdf",
	})

	env := bob.expect(model.FrameNewFileMessage)
	require.NotNil(t, env.Message)
	assert.Equal(t, model.MessageFile, env.Message.Type)
	assert.Equal(t, "scan.pdf", env.Message.FileName)
	assert.Equal(t, "https://cdn.example.com/scan.pdf", env.Message.FileURL)
}

func TestReadReceiptOverSocket(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := join(t, ts, "room-1", "alice")
	bob := join(t, ts, "room-1", "bob")

	alice.send(model.Envelope{Type: model.FrameNewTextMessage, Content: "hello"})
	msg := bob.expect(model.FrameNewTextMessage).Message

	bob.send(model.Envelope{Type: model.FrameMessageRead, MessageID: msg.ID})

	receipt := alice.expect(model.FrameMessageRead)
	assert.Equal(t, msg.ID, receipt.MessageID)
	assert.Equal(t, "bob", receipt.UserID)
}

func TestReadReceiptOverREST(t *testing.T) {
	ts, st := newTestServer(t)

	require.NoError(t, st.CreateMessage(context.Background(), model.ChatMessage{
		ID:        "m1",
		RoomID:    "room-1",
		SenderID:  "alice",
		CreatedAt: time.Now().UTC(),
		ReadBy:    []string{"alice"},
		Type:      model.MessageText,
	}))

	alice := join(t, ts, "room-1", "alice")

	res, err := http.Post(ts.URL+"/api/messages/m1/read?userId=bob", "", nil)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	// The socket side hears about the REST receipt.
	receipt := alice.expect(model.FrameMessageRead)
	assert.Equal(t, "m1", receipt.MessageID)
	assert.Equal(t, "bob", receipt.UserID)

	msg, err := st.MarkRead(context.Background(), "m1", "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, msg.ReadBy)
}

func TestReadReceiptUnknownMessage(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Post(ts.URL+"/api/messages/ghost/read?userId=bob", "", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestTypingBroadcastsActiveSet(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := join(t, ts, "room-1", "alice")
	bob := join(t, ts, "room-1", "bob")

	typing := true
	bob.send(model.Envelope{Type: model.FrameTyping, IsTyping: &typing})

	env := alice.expect(model.FrameTyping)
	assert.True(t, env.TypingUsers["bob"])

	stopped := false
	bob.send(model.Envelope{Type: model.FrameTyping, IsTyping: &stopped})

	env = alice.expect(model.FrameTyping)
	assert.False(t, env.TypingUsers["bob"])
}

func TestCallSignalingFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := join(t, ts, "room-1", "alice")
	bob := join(t, ts, "room-1", "bob")

	// Alice announces a video call to Bob.
	alice.send(model.Envelope{
		Type:         model.FrameCallType,
		CallType:     "video",
		TargetUserID: "bob",
	})

	announce := bob.expect(model.FrameCallType)
	assert.Equal(t, "video", announce.CallType)
	assert.Equal(t, "alice", announce.UserID)

	// Both sides get the assigned call id.
	started := alice.expect(model.FrameCallStarted)
	require.NotEmpty(t, started.CallID)
	assert.Equal(t, started.CallID, bob.expect(model.FrameCallStarted).CallID)

	// Offer, answer and candidates are routed point to point.
	alice.send(model.Envelope{
		Type:         model.FrameOffer,
		TargetUserID: "bob",
		Offer:        &model.SessionDescription{Type: "offer", SDP: "v=0 offer"},
	})
	offer := bob.expect(model.FrameOffer)
	require.NotNil(t, offer.Offer)
	assert.Equal(t, "alice", offer.UserID)

	bob.send(model.Envelope{
		Type:         model.FrameAnswer,
		TargetUserID: "alice",
		Answer:       &model.SessionDescription{Type: "answer", SDP: "v=0 answer"},
	})
	answer := alice.expect(model.FrameAnswer)
	require.NotNil(t, answer.Answer)
	assert.Equal(t, "bob", answer.UserID)

	mid := "0"
	alice.send(model.Envelope{
		Type:         model.FrameICECandidate,
		TargetUserID: "bob",
		Candidate:    &model.ICECandidate{Candidate: "candidate:1", SDPMid: &mid},
	})
	cand := bob.expect(model.FrameICECandidate)
	require.NotNil(t, cand.Candidate)
	assert.Equal(t, "candidate:1", cand.Candidate.Candidate)

	// Hangup reaches the other participant as call-ended.
	alice.send(model.Envelope{Type: model.FrameEndCall, CallID: started.CallID})
	ended := bob.expect(model.FrameCallEnded)
	assert.Equal(t, started.CallID, ended.CallID)
}

func TestSignalToAbsentUserIsDropped(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := join(t, ts, "room-1", "alice")
	bob := join(t, ts, "room-1", "bob")

	alice.send(model.Envelope{
		Type:         model.FrameOffer,
		TargetUserID: "ghost",
		Offer:        &model.SessionDescription{Type: "offer", SDP: "v=0"},
	})

	// The room keeps working; a follow-up message still arrives.
	alice.send(model.Envelope{Type: model.FrameNewTextMessage, Content: "still here"})
	env := bob.expect(model.FrameNewTextMessage)
	assert.Equal(t, "still here", env.Message.Content)
}

func TestRoomsAreIsolated(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := join(t, ts, "room-a", "alice")
	carol := join(t, ts, "room-b", "carol")
	dave := join(t, ts, "room-b", "dave")

	alice.send(model.Envelope{Type: model.FrameNewTextMessage, Content: "room a only"})
	carol.send(model.Envelope{Type: model.FrameNewTextMessage, Content: "room b only"})

	env := dave.expect(model.FrameNewTextMessage)
	assert.Equal(t, "room b only", env.Message.Content)
	assert.Equal(t, "room-b", env.Message.RoomID)
}

func TestWebSocketRequiresRoom(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, res, err := websocket.Dial(context.Background(), wsURL+"/ws?userId=alice", nil)
	require.Error(t, err)
	if res != nil {
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	}
}
