package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/messenger/internal/model"
)

func TestListMessagesSendsPagingAndAuth(t *testing.T) {
	var gotPath, gotPage, gotSize, gotAuth string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPage = r.URL.Query().Get("page")
		gotSize = r.URL.Query().Get("size")
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.ChatMessage{ //nolint:errcheck
			{ID: "m1", Content: "hello", SenderID: "bob", RoomID: "room-1", CreatedAt: time.Now().UTC()},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	client.Token = func() string { return "tok-123" }

	messages, err := client.ListMessages(context.Background(), "room-1", 2, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].ID)

	assert.Equal(t, "/api/rooms/room-1/messages", gotPath)
	assert.Equal(t, "2", gotPage)
	assert.Equal(t, "10", gotSize)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestListMessagesAppliesDefaults(t *testing.T) {
	var gotPage, gotSize string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPage = r.URL.Query().Get("page")
		gotSize = r.URL.Query().Get("size")
		w.Write([]byte("[]")) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	_, err := client.ListMessages(context.Background(), "room-1", -1, 0)
	require.NoError(t, err)

	assert.Equal(t, "0", gotPage)
	assert.Equal(t, "50", gotSize)
}

func TestListMessagesErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	_, err := client.ListMessages(context.Background(), "room-1", 0, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestMarkRead(t *testing.T) {
	var gotMethod, gotPath string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	require.NoError(t, client.MarkRead(context.Background(), "m1"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/messages/m1/read", gotPath)
}

func TestMarkReadSurfacesErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown message", http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	err := client.MarkRead(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
