// Package app wires the carecall server together: storage, signaling hub,
// credential issuer, transcript recorder, and the HTTP transport.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelinkhq/carecall/internal/auth"
	"github.com/carelinkhq/carecall/internal/config"
	"github.com/carelinkhq/carecall/internal/signaling"
	"github.com/carelinkhq/carecall/internal/store"
	"github.com/carelinkhq/carecall/internal/store/sqlite"
	"github.com/carelinkhq/carecall/internal/token"
	"github.com/carelinkhq/carecall/internal/transcript"
	transporthttp "github.com/carelinkhq/carecall/internal/transport/http"
)

// App holds the assembled server and its long-lived resources.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application from configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}

	hub := signaling.NewHub(logger)
	issuer := token.NewIssuer(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.CallTokenTTL, logger)
	recorder := transcript.NewRecorder(st, hub, logger)

	server := transporthttp.NewServer(transporthttp.Deps{
		Issuer:   issuer,
		Hub:      hub,
		Store:    st,
		Recorder: recorder,
		JWT:      jwtConfig,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal listener error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
