package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/carelinkhq/carecall/internal/signaling"
	"github.com/carelinkhq/carecall/internal/store"
	"github.com/carelinkhq/carecall/internal/token"
	"github.com/carelinkhq/carecall/internal/transcript"
)

// Handlers provides the REST API endpoints.
type Handlers struct {
	issuer   token.Service
	hub      *signaling.Hub
	store    store.Store
	recorder *transcript.Recorder
	log      *zerolog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(deps Deps, logger *zerolog.Logger) *Handlers {
	return &Handlers{
		issuer:   deps.Issuer,
		hub:      deps.Hub,
		store:    deps.Store,
		recorder: deps.Recorder,
		log:      logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PublishResponse acknowledges an accepted event.
type PublishResponse struct {
	Success bool `json:"success"`
}

// IssueToken mints a credential pair for a call room.
// POST /api/token
func (h *Handlers) IssueToken(c *gin.Context) {
	var req token.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid token request")
		c.JSON(http.StatusBadRequest, token.IssueResponse{Success: false, Error: "invalid request body"})
		return
	}

	pair, err := h.issuer.Issue(c.Request.Context(), req.RoomID, req.CallKind, req.PartyID)
	if err != nil {
		if errors.Is(err, token.ErrEmptyRoom) {
			c.JSON(http.StatusBadRequest, token.IssueResponse{Success: false, Error: "room id is required"})
			return
		}
		h.log.Error().Err(err).Str("room", req.RoomID).Msg("credential issuance failed")
		c.JSON(http.StatusInternalServerError, token.IssueResponse{Success: false, Error: "issuance failed"})
		return
	}

	c.JSON(http.StatusOK, token.IssueResponse{
		InitiatorToken:   pair.Initiator.Token,
		ReceiverToken:    pair.Responder.Token,
		InitiatorPartyID: pair.Initiator.PartyID,
		ReceiverPartyID:  pair.Responder.PartyID,
		RoomID:           req.RoomID,
		IssuerID:         pair.IssuerID,
		Success:          true,
	})
}

// PublishEvent accepts a signaling envelope and fans it out to the
// channel's current subscribers. Fire-and-forget beyond acceptance.
// POST /api/events
func (h *Handlers) PublishEvent(c *gin.Context) {
	var env signaling.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.log.Debug().Err(err).Msg("invalid event envelope")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if env.Channel == "" || env.Event == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "channel and event are required"})
		return
	}

	if err := h.hub.Publish(c.Request.Context(), env.Channel, env.Event, env.Data); err != nil {
		h.log.Error().Err(err).Str("channel", env.Channel).Msg("event publish failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "publish failed"})
		return
	}

	c.JSON(http.StatusOK, PublishResponse{Success: true})
}

// EnsureChatRequest represents the chat creation request body.
type EnsureChatRequest struct {
	AppointmentID string `json:"appointment_id" binding:"required"`
	ProviderID    string `json:"provider_id" binding:"required"`
	ClientID      string `json:"client_id" binding:"required"`
}

// ChatResponse represents a chat in API responses.
type ChatResponse struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	ProviderID    string `json:"provider_id"`
	ClientID      string `json:"client_id"`
	CreatedAt     string `json:"created_at"`
}

// EnsureChat returns the chat for an appointment, creating it on first use.
// POST /api/chats
func (h *Handlers) EnsureChat(c *gin.Context) {
	var req EnsureChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid chat request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	chat, err := h.store.EnsureChat(c.Request.Context(), req.AppointmentID, req.ProviderID, req.ClientID)
	if err != nil {
		h.log.Error().Err(err).Str("appointment", req.AppointmentID).Msg("ensure chat failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, chatToResponse(chat))
}

func chatToResponse(chat *store.Chat) ChatResponse {
	return ChatResponse{
		ID:            chat.ID,
		AppointmentID: chat.AppointmentID,
		ProviderID:    chat.ProviderID,
		ClientID:      chat.ClientID,
		CreatedAt:     chat.CreatedAt.Format(time.RFC3339),
	}
}

// MessageResponse represents a transcript message in API responses.
type MessageResponse struct {
	ID         int64   `json:"id"`
	ChatID     string  `json:"chat_id"`
	AuthorID   string  `json:"author_id"`
	AuthorName string  `json:"author_name"`
	AuthorRole string  `json:"author_role"`
	Body       string  `json:"body"`
	ImageURL   *string `json:"image_url,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// ListMessages returns a page of the chat transcript, oldest first.
// GET /api/chats/:id/messages?limit=&before=
func (h *Handlers) ListMessages(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := h.store.GetChatByID(c.Request.Context(), chatID); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	var beforeID *int64
	if raw := c.Query("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before id"})
			return
		}
		beforeID = &parsed
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), chatID, limit, beforeID)
	if err != nil {
		h.log.Error().Err(err).Str("chat", chatID).Msg("list messages failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, MessageResponse{
			ID:         msg.ID,
			ChatID:     msg.ChatID,
			AuthorID:   msg.AuthorID,
			AuthorName: msg.AuthorName,
			AuthorRole: msg.AuthorRole,
			Body:       msg.Body,
			ImageURL:   msg.ImageURL,
			CreatedAt:  msg.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

// PostMessageRequest represents the message creation request body.
type PostMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

// PostMessage appends a message to the transcript and broadcasts it on
// the chat's channel. The author comes from the bearer token.
// POST /api/chats/:id/messages
func (h *Handlers) PostMessage(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := h.store.GetChatByID(c.Request.Context(), chatID); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found"})
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	authorID := c.GetString(ContextKeyUserID)
	authorName := c.GetString(ContextKeyDisplayName)
	authorRole := c.GetString(ContextKeyRole)

	if err := h.recorder.AppendMessage(c.Request.Context(), chatID, req.Body, authorID, authorName, authorRole); err != nil {
		h.log.Error().Err(err).Str("chat", chatID).Msg("append message failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, PublishResponse{Success: true})
}
