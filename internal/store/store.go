package store

import (
	"context"
	"time"
)

// Chat is the persistent conversation attached to one appointment. Exactly
// one chat exists per appointment; call signaling and messages share its id
// as the channel name.
type Chat struct {
	ID            string
	AppointmentID string
	ProviderID    string
	ClientID      string
	CreatedAt     time.Time
}

// Message is a persisted chat message. Call summaries are ordinary
// messages authored by the party that ended the call.
type Message struct {
	ID         int64
	ChatID     string
	AuthorID   string
	AuthorName string
	AuthorRole string
	Body       string
	ImageURL   *string
	CreatedAt  time.Time
}

// ChatStore handles chat persistence.
type ChatStore interface {
	// EnsureChat returns the chat for an appointment, creating it on
	// first use.
	EnsureChat(ctx context.Context, appointmentID, providerID, clientID string) (*Chat, error)

	// GetChatByID retrieves a chat by id.
	GetChatByID(ctx context.Context, id string) (*Chat, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills its ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves messages from a chat, oldest first, with
	// pagination. If beforeID is provided, returns messages older than
	// that id.
	ListMessages(ctx context.Context, chatID string, limit int, beforeID *int64) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ChatStore
	MessageStore
	Close() error
}
