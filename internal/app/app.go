// Package app assembles the services shared by the HTTP server and the
// terminal client.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
	"github.com/zhouzirui/c3-chat/backend/internal/prompts"
	"github.com/zhouzirui/c3-chat/backend/internal/service/ai"
	"github.com/zhouzirui/c3-chat/backend/internal/service/auth"
	"github.com/zhouzirui/c3-chat/backend/internal/service/broker"
	"github.com/zhouzirui/c3-chat/backend/internal/service/session"
	"github.com/zhouzirui/c3-chat/backend/internal/service/turn"
	"github.com/zhouzirui/c3-chat/backend/internal/store"
)

// App holds the wired services.
type App struct {
	Store    store.Store
	Gateway  ai.Gateway
	Broker   broker.Broker
	Sessions *session.Manager
	Auth     *auth.Service
}

// Build constructs every service from cfg. The caller owns the returned App
// and must Close it.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	promptSet, err := prompts.Load(cfg.Sessions.PromptsFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store ready")

	gateway, err := ai.New(ctx, cfg.AI, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init model gateway: %w", err)
	}
	logger.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Msg("model gateway ready")

	b, err := broker.New(ctx, cfg.Broker, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init tool broker: %w", err)
	}
	logger.Info().Str("broker", cfg.Broker.Kind).Str("app", cfg.Broker.App).Msg("tool broker ready")

	controller := turn.NewController(gateway, b, turn.Options{
		ModelTimeout: cfg.AI.ModelTimeout,
		ToolTimeout:  cfg.AI.ToolTimeout,
		Stream:       cfg.AI.StreamResponse,
	}, logger)

	sessions := session.NewManager(st, b, controller, session.Options{
		App:          cfg.Broker.App,
		PublicDomain: cfg.Broker.PublicDomain,
		SystemPrompt: promptSet.System,
		MaxLive:      cfg.Sessions.MaxLive,
	}, logger)

	return &App{
		Store:    st,
		Gateway:  gateway,
		Broker:   b,
		Sessions: sessions,
		Auth:     auth.NewService(st, cfg.Auth),
	}, nil
}

// Close releases the store and any broker connections.
func (a *App) Close() error {
	var errs []error
	if closer, ok := a.Broker.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
