// Package http exposes the carecall server API: credential issuance, the
// signaling publish endpoint, the websocket subscribe endpoint, and the
// chat transcript.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/carelinkhq/carecall/internal/auth"
	"github.com/carelinkhq/carecall/internal/config"
	"github.com/carelinkhq/carecall/internal/signaling"
	"github.com/carelinkhq/carecall/internal/store"
	"github.com/carelinkhq/carecall/internal/token"
	"github.com/carelinkhq/carecall/internal/transcript"
)

// Deps are the collaborators the HTTP layer exposes.
type Deps struct {
	Issuer   token.Service
	Hub      *signaling.Hub
	Store    store.Store
	Recorder *transcript.Recorder
	JWT      *auth.JWTConfig
}

// NewServer builds the HTTP server with all routes mounted.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	handlers := NewHandlers(deps, logger)
	wsHandler := NewWSHandler(deps.Hub, deps.JWT, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/ws", wsHandler.Subscribe)

	api := router.Group("/api")
	api.Use(AuthMiddleware(deps.JWT, logger))
	{
		api.POST("/token", handlers.IssueToken)
		api.POST("/events", handlers.PublishEvent)
		api.POST("/chats", handlers.EnsureChat)
		api.GET("/chats/:id/messages", handlers.ListMessages)
		api.POST("/chats/:id/messages", handlers.PostMessage)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
