// Package app wires the bot together: storage, credentials, the provider
// client, the session controller, and the Telegram transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/gigabot/internal/gigabot/config"
	"github.com/bdobrica/gigabot/internal/gigabot/dialog"
	"github.com/bdobrica/gigabot/internal/gigabot/gigachat"
	"github.com/bdobrica/gigabot/internal/gigabot/session"
	"github.com/bdobrica/gigabot/internal/gigabot/store"
	"github.com/bdobrica/gigabot/internal/gigabot/telegram"
)

// App is the assembled bot.
type App struct {
	config       *Config
	store        *store.Store
	telegram     *telegram.Client
	controller   *session.Controller
	healthServer *HealthServer
}

// New creates the application from a validated configuration.
func New(cfg *Config) (*App, error) {
	slog.Info("opening database", "path", cfg.DatabasePath)
	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: initialize database: %w", err)
	}

	configStore := config.New(db)

	// Reuse the token persisted by the last refresh so a restart does not
	// need an OAuth round-trip before the first provider call.
	initialToken := ""
	if tok, err := configStore.Get(context.Background(), config.KeyAccessToken); err == nil {
		initialToken = tok
		slog.Info("reusing persisted access token")
	} else if !errors.Is(err, config.ErrNotFound) {
		slog.Warn("could not read persisted access token", "err", err)
	}

	creds := gigachat.NewCredentials(gigachat.CredentialsConfig{
		AuthKey:      cfg.GigaChatAuthKey,
		InitialToken: initialToken,
		OAuthURL:     cfg.OAuthURL,
		Timeout:      cfg.OAuthTimeout,
	}, configStore)

	dispatcher := gigachat.NewClient(gigachat.Config{
		BaseURL:     cfg.GigaChatBaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		Timeout:     cfg.ProviderTimeout,
	}, creds)

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = dialog.DefaultSystemPrompt
	}
	contexts := dialog.NewStore(db, systemPrompt, cfg.MaxTurns)

	tg, err := telegram.New(telegram.Config{
		Token:       cfg.TelegramToken,
		PollTimeout: cfg.PollTimeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app: initialize Telegram client: %w", err)
	}

	controller := session.NewController(session.ControllerConfig{
		StopToken:          cfg.StopToken,
		ClearContextOnStop: cfg.ClearContextOnStop,
	}, tg, dispatcher, contexts, db, session.NewRateLimiter(cfg.RateLimit, 0))

	app := &App{
		config:     cfg,
		store:      db,
		telegram:   tg,
		controller: controller,
	}
	if cfg.HTTPAddr != "" {
		app.healthServer = NewHealthServer(cfg.HTTPAddr, db)
	}
	return app, nil
}

// Run starts the transport and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting Telegram long-poll")
	a.telegram.Start(ctx, a.controller.HandleUpdate)

	slog.Info("gigabot is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop tears the application down in reverse dependency order.
func (a *App) Stop() {
	slog.Info("stopping Telegram client")
	a.telegram.Stop()

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	slog.Info("closing database")
	a.store.Close()
}
