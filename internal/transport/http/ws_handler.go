package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/carelinkhq/carecall/internal/auth"
	"github.com/carelinkhq/carecall/internal/signaling"
)

// wsSendBuffer bounds per-connection backlog; a subscriber that cannot
// drain it loses events, matching the channel's at-most-once contract.
const wsSendBuffer = 32

// WSHandler upgrades subscribe requests and bridges one channel of the hub
// onto each websocket connection.
type WSHandler struct {
	hub *signaling.Hub
	jwt *auth.JWTConfig
	log *zerolog.Logger
}

// NewWSHandler builds the websocket subscribe handler.
func NewWSHandler(hub *signaling.Hub, jwtCfg *auth.JWTConfig, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, jwt: jwtCfg, log: logger}
}

// Subscribe handles GET /ws?channel=<chat>&token=<bearer>. Browsers cannot
// set headers on websocket dials, so the bearer rides the query string.
func (h *WSHandler) Subscribe(c *gin.Context) {
	channel := c.Query("channel")
	if channel == "" {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "channel is required"})
		return
	}
	if _, err := auth.ValidateToken(h.jwt, c.Query("token")); err != nil {
		h.log.Debug().Err(err).Msg("ws subscribe rejected")
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan signaling.Envelope, wsSendBuffer)
	sub, err := h.hub.SubscribeAll(ctx, channel, func(env signaling.Envelope) {
		select {
		case events <- env:
		default:
			h.log.Warn().Str("channel", channel).Msg("dropping event for slow ws subscriber")
		}
	})
	if err != nil {
		h.log.Error().Err(err).Str("channel", channel).Msg("hub subscribe failed")
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Close()

	// The read loop only watches for the client closing the socket;
	// subscribers never send.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	h.log.Debug().Str("channel", channel).Msg("ws subscriber attached")

	for {
		select {
		case env := <-events:
			if err := wsjson.Write(ctx, conn, env); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.log.Warn().Err(err).Str("channel", channel).Msg("ws write failed")
				}
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		}
	}
}
