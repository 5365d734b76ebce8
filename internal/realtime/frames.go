package realtime

import (
	json "github.com/goccy/go-json"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/talko/internal/convert"
	"github.com/and161185/talko/internal/model"
)

// Frame types on the wire.
const (
	FrameAuth        = "auth"
	FrameMessage     = "message"
	FrameTyping      = string(model.TypingStarted)
	FrameStopTyping  = string(model.TypingStopped)
	FrameOnlineUsers = "online_users"
)

// inbound is the union of all client frames. Unknown fields are ignored.
type inbound struct {
	Type        string     `json:"type"`
	Token       string     `json:"token,omitempty"`
	Text        string     `json:"text,omitempty"`
	RecipientID *uuid.UUID `json:"recipientId,omitempty"`
	ToUserID    *uuid.UUID `json:"toUserId,omitempty"`
}

// typingTarget returns toUserId, falling back to recipientId which some clients send instead.
func (f inbound) typingTarget() *uuid.UUID {
	if f.ToUserID != nil {
		return f.ToUserID
	}
	return f.RecipientID
}

type onlineUsersFrame struct {
	Type  string                   `json:"type"`
	Users []convert.OnlineUserView `json:"users"`
}

type messageFrame struct {
	Type    string                        `json:"type"`
	Message convert.MessageWithSenderView `json:"message"`
}

type typingFrame struct {
	Type       string    `json:"type"`
	FromUserID uuid.UUID `json:"fromUserId"`
}

func encodeOnlineUsers(users []model.Identity) ([]byte, error) {
	return json.Marshal(onlineUsersFrame{Type: FrameOnlineUsers, Users: convert.ToOnlineUserViews(users)})
}

func encodeMessage(m model.MessageWithSender) ([]byte, error) {
	return json.Marshal(messageFrame{Type: FrameMessage, Message: convert.ToMessageWithSenderView(m)})
}

func encodeTyping(from uuid.UUID, phase model.TypingPhase) ([]byte, error) {
	return json.Marshal(typingFrame{Type: string(phase), FromUserID: from})
}

func decodeInbound(data []byte) (inbound, error) {
	var f inbound
	err := json.Unmarshal(data, &f)
	return f, err
}
