package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/talko/internal/model"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Create inserts m and returns the stored row.
func (r *MessageRepo) Create(ctx context.Context, m model.NewMessage) (model.Message, error) {
	const q = `
INSERT INTO messages (sender_id, recipient_id, text)
VALUES ($1, $2, $3)
RETURNING id, "timestamp"`
	out := model.Message{SenderID: m.SenderID, RecipientID: m.RecipientID, Text: m.Text}
	if err := r.db.Pool.QueryRow(ctx, q, m.SenderID, m.RecipientID, m.Text).Scan(&out.ID, &out.Timestamp); err != nil {
		return model.Message{}, mapErr(err)
	}
	return out, nil
}

const messageWithSenderSelect = `
SELECT m.id, m.sender_id, m.recipient_id, m.text, m."timestamp",
       u.id, u.username, u.created_at
FROM messages m
JOIN users u ON u.id = m.sender_id`

// ListBroadcast returns broadcast history in timestamp order.
func (r *MessageRepo) ListBroadcast(ctx context.Context) ([]model.MessageWithSender, error) {
	const q = messageWithSenderSelect + `
WHERE m.recipient_id IS NULL
ORDER BY m."timestamp", m.id`
	return r.list(ctx, q)
}

// ListConversation returns the direct history of the unordered pair (a, b).
func (r *MessageRepo) ListConversation(ctx context.Context, a, b uuid.UUID) ([]model.MessageWithSender, error) {
	const q = messageWithSenderSelect + `
WHERE (m.sender_id = $1 AND m.recipient_id = $2)
   OR (m.sender_id = $2 AND m.recipient_id = $1)
ORDER BY m."timestamp", m.id`
	return r.list(ctx, q, a, b)
}

func (r *MessageRepo) list(ctx context.Context, q string, args ...any) ([]model.MessageWithSender, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.MessageWithSender, 0)
	for rows.Next() {
		var m model.MessageWithSender
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.RecipientID, &m.Text, &m.Timestamp,
			&m.Sender.ID, &m.Sender.Username, &m.Sender.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
