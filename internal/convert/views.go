// Package convert maps domain entities to their JSON wire shapes.
package convert

import (
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"

	model "github.com/and161185/talko/internal/model"
)

// UserView is the public shape of a user. The password hash never appears here.
type UserView struct {
	ID        u.UUID     `json:"id"`
	Username  string     `json:"username"`
	CreatedAt time.Time  `json:"createdAt"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// OnlineUserView is an entry of an online_users frame.
type OnlineUserView struct {
	ID       u.UUID `json:"id"`
	Username string `json:"username"`
}

// SenderView is the author projection attached to messages.
type SenderView struct {
	ID        u.UUID    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageView is a stored message. RecipientID is null for broadcasts.
type MessageView struct {
	ID          int64     `json:"id"`
	SenderID    u.UUID    `json:"senderId"`
	RecipientID *u.UUID   `json:"recipientId"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// MessageWithSenderView is a message plus its author.
type MessageWithSenderView struct {
	MessageView
	Sender SenderView `json:"sender"`
}

// AuthView is returned by register and login.
type AuthView struct {
	User      UserView  `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func ToUserView(in model.User) UserView {
	v := UserView{ID: in.ID, Username: in.Username, CreatedAt: in.CreatedAt}
	if !in.LastSeen.IsZero() {
		ls := in.LastSeen
		v.LastSeen = &ls
	}
	return v
}

func ToUserViews(in []model.User) []UserView {
	out := make([]UserView, 0, len(in))
	for _, x := range in {
		out = append(out, ToUserView(x))
	}
	return out
}

func ToOnlineUserViews(in []model.Identity) []OnlineUserView {
	out := make([]OnlineUserView, 0, len(in))
	for _, x := range in {
		out = append(out, OnlineUserView{ID: x.ID, Username: x.Username})
	}
	return out
}

func ToMessageView(in model.Message) MessageView {
	return MessageView{
		ID:          in.ID,
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		Text:        in.Text,
		Timestamp:   in.Timestamp,
	}
}

func ToMessageWithSenderView(in model.MessageWithSender) MessageWithSenderView {
	return MessageWithSenderView{
		MessageView: ToMessageView(in.Message),
		Sender: SenderView{
			ID:        in.Sender.ID,
			Username:  in.Sender.Username,
			CreatedAt: in.Sender.CreatedAt,
		},
	}
}

func ToMessageWithSenderViews(in []model.MessageWithSender) []MessageWithSenderView {
	out := make([]MessageWithSenderView, 0, len(in))
	for _, x := range in {
		out = append(out, ToMessageWithSenderView(x))
	}
	return out
}

func ToAuthView(user model.User, tok model.Tokens) AuthView {
	return AuthView{User: ToUserView(user), Token: tok.AccessToken, ExpiresAt: tok.ExpiresAt}
}

// ParseID parses a user id from a path or body field.
func ParseID(s string) (u.UUID, error) {
	var id u.UUID
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return u.Nil, fmt.Errorf("invalid id: %w", err)
	}
	return id, nil
}
