package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/messenger/internal/model"
)

// Postgres persists messages in a pgx pool. Schema lives under
// sql/schema and is applied with goose on gateway start.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) CreateMessage(ctx context.Context, msg model.ChatMessage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, created_at, read_by, type, file_url, file_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.CreatedAt,
		msg.ReadBy, string(msg.Type), msg.FileURL, msg.FileName,
	)
	if err != nil {
		return fmt.Errorf("store: create message %s: %w", msg.ID, err)
	}
	return nil
}

func (p *Postgres) ListMessages(ctx context.Context, roomID string, page, size int) ([]model.ChatMessage, error) {
	if size <= 0 {
		size = 50
	}
	if page < 0 {
		page = 0
	}
	// Keep the OFFSET computation from wrapping around.
	if page > math.MaxInt/size {
		return []model.ChatMessage{}, nil
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, room_id, sender_id, content, created_at, read_by, type, file_url, file_name
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		roomID, size, page*size,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list messages for room %s: %w", roomID, err)
	}
	defer rows.Close()

	messages := []model.ChatMessage{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages for room %s: %w", roomID, err)
	}

	// Query order is newest-first for paging; callers get ascending.
	slices.Reverse(messages)
	return messages, nil
}

func (p *Postgres) MarkRead(ctx context.Context, messageID, userID string) (model.ChatMessage, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE messages
		SET read_by = CASE
			WHEN $2 = ANY(read_by) THEN read_by
			ELSE array_append(read_by, $2)
		END
		WHERE id = $1
		RETURNING id, room_id, sender_id, content, created_at, read_by, type, file_url, file_name`,
		messageID, userID,
	)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ChatMessage{}, ErrNotFound
		}
		return model.ChatMessage{}, fmt.Errorf("store: mark message %s read: %w", messageID, err)
	}
	return msg, nil
}

func scanMessage(row pgx.Row) (model.ChatMessage, error) {
	var msg model.ChatMessage
	var msgType string
	err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content,
		&msg.CreatedAt, &msg.ReadBy, &msgType, &msg.FileURL, &msg.FileName)
	if err != nil {
		return model.ChatMessage{}, err
	}
	msg.Type = model.MessageType(msgType)
	return msg, nil
}
