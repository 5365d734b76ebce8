package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/talko/internal/model"
)

// MessageRepository stores immutable chat messages.
type MessageRepository interface {
	// Create persists m; the store assigns ID and Timestamp.
	// An unknown sender or recipient yields errs.ErrNotFound.
	Create(ctx context.Context, m model.NewMessage) (model.Message, error)
	// ListBroadcast returns all messages without a recipient, oldest first.
	ListBroadcast(ctx context.Context) ([]model.MessageWithSender, error)
	// ListConversation returns direct messages exchanged between a and b in either direction, oldest first.
	ListConversation(ctx context.Context, a, b uuid.UUID) ([]model.MessageWithSender, error)
}
