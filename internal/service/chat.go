package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/talko/internal/errs"
	"github.com/and161185/talko/internal/metrics"
	"github.com/and161185/talko/internal/model"
	"github.com/and161185/talko/internal/repository"
)

// Deliverer pushes a stored message to live connections and reports how many accepted it.
type Deliverer interface {
	Deliver(msg model.MessageWithSender) int
}

// ChatService serves history queries and sequences persist-then-deliver for new messages.
type ChatService struct {
	users      repository.UserRepository
	messages   repository.MessageRepository
	deliver    Deliverer
	maxTextLen int
	log        *zap.Logger
	now        func() time.Time
}

// NewChatService constructs ChatService. deliver may be nil, in which case messages are only stored.
func NewChatService(users repository.UserRepository, messages repository.MessageRepository, deliver Deliverer, maxTextLen int, log *zap.Logger) *ChatService {
	return &ChatService{
		users:      users,
		messages:   messages,
		deliver:    deliver,
		maxTextLen: maxTextLen,
		log:        log,
		now:        time.Now,
	}
}

// SetDeliverer attaches the fan-out after construction; the realtime layer itself depends on ChatService.
func (s *ChatService) SetDeliverer(d Deliverer) { s.deliver = d }

// Me returns the caller's own record.
func (s *ChatService) Me(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// Users lists everybody except the caller.
func (s *ChatService) Users(ctx context.Context, caller uuid.UUID) ([]model.User, error) {
	return s.users.ListExcept(ctx, caller)
}

// Broadcasts returns the public room history, oldest first.
func (s *ChatService) Broadcasts(ctx context.Context) ([]model.MessageWithSender, error) {
	return s.messages.ListBroadcast(ctx)
}

// Conversation returns the direct history between caller and other, oldest first.
func (s *ChatService) Conversation(ctx context.Context, caller, other uuid.UUID) ([]model.MessageWithSender, error) {
	if other == uuid.Nil {
		return nil, fmt.Errorf("%w: bad user id", errs.ErrValidation)
	}
	return s.messages.ListConversation(ctx, caller, other)
}

// Send validates, persists and then delivers a message from sender.
// A nil recipient makes it a broadcast. Delivery happens only after the store accepted the message.
func (s *ChatService) Send(ctx context.Context, sender model.User, text string, recipient *uuid.UUID) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, fmt.Errorf("%w: text is required", errs.ErrValidation)
	}
	if utf8.RuneCountInString(text) > s.maxTextLen {
		return model.Message{}, fmt.Errorf("%w: text must be at most %d characters", errs.ErrValidation, s.maxTextLen)
	}
	if recipient != nil && *recipient == uuid.Nil {
		return model.Message{}, fmt.Errorf("%w: bad recipient id", errs.ErrValidation)
	}

	msg, err := s.messages.Create(ctx, model.NewMessage{SenderID: sender.ID, RecipientID: recipient, Text: text})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) && recipient != nil {
			return model.Message{}, fmt.Errorf("%w: recipient not found", errs.ErrValidation)
		}
		return model.Message{}, fmt.Errorf("store message: %w", err)
	}
	metrics.MessagesSent.WithLabelValues(metrics.MessageKind(msg.IsDirect())).Inc()

	if s.deliver != nil {
		n := s.deliver.Deliver(model.MessageWithSender{
			Message: msg,
			Sender:  model.Sender{ID: sender.ID, Username: sender.Username, CreatedAt: sender.CreatedAt},
		})
		s.log.Debug("message delivered",
			zap.Int64("message_id", msg.ID),
			zap.Bool("direct", msg.IsDirect()),
			zap.Int("pushes", n),
		)
	}
	return msg, nil
}

// TouchLastSeen records activity for id. Failures are logged, not returned.
func (s *ChatService) TouchLastSeen(ctx context.Context, id uuid.UUID) {
	if err := s.users.TouchLastSeen(ctx, id, s.now()); err != nil {
		s.log.Warn("touch last_seen", zap.String("user_id", id.String()), zap.Error(err))
	}
}
