package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelinkhq/carecall/internal/signaling"
	"github.com/carelinkhq/carecall/internal/store"
)

// MessageEvent is the new-message payload broadcast on the chat's channel.
// Subscribers render it live; late joiners read the same message back from
// the transcript API instead, since the channel never replays.
type MessageEvent struct {
	ID         int64     `json:"id"`
	ChatID     string    `json:"chat_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	AuthorRole string    `json:"author_role"`
	Body       string    `json:"body"`
	ImageURL   *string   `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder persists messages and announces them on the signaling channel.
// Persistence is authoritative; a failed announce is logged and dropped.
type Recorder struct {
	messages store.MessageStore
	bus      signaling.Bus
	log      *zerolog.Logger
}

// NewRecorder builds a Recorder.
func NewRecorder(messages store.MessageStore, bus signaling.Bus, logger *zerolog.Logger) *Recorder {
	return &Recorder{messages: messages, bus: bus, log: logger}
}

// AppendMessage stores the message and broadcasts a new-message event.
func (r *Recorder) AppendMessage(ctx context.Context, chatID, text, authorID, authorName, authorRole string) error {
	msg := &store.Message{
		ChatID:     chatID,
		AuthorID:   authorID,
		AuthorName: authorName,
		AuthorRole: authorRole,
		Body:       text,
	}
	if err := r.messages.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	event := MessageEvent{
		ID:         msg.ID,
		ChatID:     msg.ChatID,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		AuthorRole: msg.AuthorRole,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	}
	if err := r.bus.Publish(ctx, chatID, signaling.EventNewMessage, event); err != nil {
		r.log.Warn().Err(err).Str("chat", chatID).Msg("new-message broadcast failed")
	}
	return nil
}

var _ Appender = (*Recorder)(nil)
