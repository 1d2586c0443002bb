package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/carelink/messenger/internal/gateway/store"
	"github.com/carelink/messenger/internal/history"
	"github.com/carelink/messenger/internal/identity"
	ratelimiter "github.com/carelink/messenger/internal/rate_limiter"
)

type contextKey string

const userIDKey contextKey = "userId"

// Server exposes the gateway's REST and WebSocket endpoints.
type Server struct {
	hub     *Hub
	store   store.Store
	limiter *ratelimiter.IPRateLimiter
}

func NewServer(st store.Store) *Server {
	return &Server{
		hub:   NewHub(st),
		store: st,
		// 300 REST requests per minute per IP; socket frames are
		// limited per user instead.
		limiter: ratelimiter.NewIPRateLimiter(300, time.Minute, ratelimiter.CleanupOpts{
			TTL:      10 * time.Minute,
			Interval: time.Minute,
		}),
	}
}

// Close stops the limiter's cleanup goroutine.
func (s *Server) Close() {
	s.limiter.Cancel()
}

// Routes builds the router: history + read receipts over REST, the
// room channel over /ws, all behind bearer-token identity.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})

	r.Group(func(r chi.Router) {
		r.Use(withIdentity)
		r.With(s.limiter.Middleware).Get("/api/rooms/{roomID}/messages", s.handleListMessages)
		r.With(s.limiter.Middleware).Post("/api/messages/{messageID}/read", s.handleMarkRead)
		r.Get("/ws", s.handleWS)
	})

	return r
}

// withIdentity resolves the caller's user id from the bearer token
// (header or, for browser WebSocket clients, the token query param).
// The token payload is decoded, not verified: the reference gateway
// trusts its reverse proxy for authentication.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		userID := identity.UserIDFromToken(token)
		if userID == "" {
			// Dev fallback so ad hoc clients can connect without
			// minting tokens.
			userID = r.URL.Query().Get("userId")
		}
		if userID == "" {
			http.Error(w, "missing or malformed bearer token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	page := queryInt(r, "page", history.DefaultPage)
	size := queryInt(r, "size", history.DefaultSize)

	messages, err := s.store.ListMessages(r.Context(), roomID, page, size)
	if err != nil {
		log.Printf("[error] failed to load messages for room %s: %v", roomID, err)
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(messages); err != nil {
		log.Printf("[error] encode message list: %v", err)
	}
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	userID := userFromContext(r.Context())

	msg, err := s.store.MarkRead(r.Context(), messageID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown message", http.StatusNotFound)
			return
		}
		log.Printf("[error] mark read %s: %v", messageID, err)
		http.Error(w, "failed to mark read", http.StatusInternalServerError)
		return
	}

	s.hub.NotifyRead(msg.RoomID, messageID, userID)
	w.WriteHeader(http.StatusNoContent)
}

// handleWS upgrades the connection and registers the client with its
// room hub. Blocks on the read pump: the request context is cancelled
// as soon as the handler returns.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		http.Error(w, "roomId is required", http.StatusBadRequest)
		return
	}
	userID := userFromContext(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[error] failed to upgrade connection to WebSocket: %v", err)
		return
	}

	ctx := r.Context()
	c := NewClient(conn, s.hub, userID, roomID)
	s.hub.register(c)

	go c.writePump(ctx)
	c.readPump(ctx)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
