// Package model defines domain entities used by services, repositories and the realtime core.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects an issued access token and its expiry.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User represents an account stored on the server. The password is kept only as an encoded hash.
type User struct {
	ID           uuid.UUID // PK
	Username     string    // unique
	PasswordHash string    // PHC-encoded argon2id
	CreatedAt    time.Time
	LastSeen     time.Time
}

// Identity is the public projection of a user attached to connections and messages.
type Identity struct {
	ID       uuid.UUID
	Username string
}

// Identity returns the public projection of u.
func (u User) Identity() Identity { return Identity{ID: u.ID, Username: u.Username} }

// Message is a single immutable chat message.
// A nil RecipientID means the message is broadcast to everyone.
type Message struct {
	ID          int64
	SenderID    uuid.UUID
	RecipientID *uuid.UUID
	Text        string
	Timestamp   time.Time // assigned by the store at insert
}

// IsDirect reports whether the message has exactly one recipient.
func (m Message) IsDirect() bool { return m.RecipientID != nil }

// NewMessage is a send intent before persistence.
type NewMessage struct {
	SenderID    uuid.UUID
	RecipientID *uuid.UUID
	Text        string
}

// Sender is the projection of the author shipped with every message.
type Sender struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
}

// MessageWithSender joins a message with its author.
type MessageWithSender struct {
	Message
	Sender Sender
}

// TypingPhase is the state carried by a typing signal.
type TypingPhase string

// Typing phases, named after the frame types that carry them.
const (
	TypingStarted TypingPhase = "typing"
	TypingStopped TypingPhase = "stop_typing"
)

// Valid reports whether p is a known phase.
func (p TypingPhase) Valid() bool { return p == TypingStarted || p == TypingStopped }
