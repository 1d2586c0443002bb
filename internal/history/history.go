// Package history is the HTTP collaborator for message history and
// read receipts.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/carelink/messenger/internal/model"
)

const (
	DefaultPage = 0
	DefaultSize = 50
)

// Client talks to the gateway's REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client

	// Token, when set, supplies the bearer token attached to every
	// request.
	Token func() string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ListMessages fetches one page of room history, newest page first is
// the gateway's concern; the caller only relies on the documented
// page/size defaults (0/50).
func (c *Client) ListMessages(ctx context.Context, roomID string, page, size int) ([]model.ChatMessage, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if page < 0 {
		page = DefaultPage
	}

	endpoint := fmt.Sprintf("%s/api/rooms/%s/messages", c.baseURL, url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("internal/history: build request: %w", err)
	}

	query := req.URL.Query()
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	req.URL.RawQuery = query.Encode()
	c.authorize(req)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("internal/history: fetch messages for room %s: %w", roomID, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("internal/history: fetch messages for room %s: status %d", roomID, res.StatusCode)
	}

	var messages []model.ChatMessage
	if err := json.NewDecoder(res.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("internal/history: decode messages: %w", err)
	}

	return messages, nil
}

// MarkRead posts a read receipt for messageID. Fire-and-forget from the
// core's perspective; the caller logs failures and moves on.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	endpoint := fmt.Sprintf("%s/api/messages/%s/read", c.baseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("internal/history: build request: %w", err)
	}
	c.authorize(req)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("internal/history: mark message %s read: %w", messageID, err)
	}
	defer res.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("internal/history: mark message %s read: status %d", messageID, res.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token == nil {
		return
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
