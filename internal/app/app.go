// Package app wires the application's components: configuration,
// storage, the reasoning engine, the task registry, and the turn
// executor.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/cinemesh/cinemesh/internal/chat"
	"github.com/cinemesh/cinemesh/internal/config"
	"github.com/cinemesh/cinemesh/internal/database"
	"github.com/cinemesh/cinemesh/internal/engine"
	"github.com/cinemesh/cinemesh/internal/log"
	"github.com/cinemesh/cinemesh/internal/session"
	"github.com/cinemesh/cinemesh/internal/tasks"
	"github.com/cinemesh/cinemesh/internal/tools"
)

// App is the application container.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *session.Store
	Engine   engine.Engine
	Registry *tasks.Registry
	Executor *chat.Executor

	db *sql.DB
}

// Setup opens storage, applies migrations, and builds the engine and
// executor from cfg. The configuration must already be validated.
func Setup(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogFormat == "json",
	})

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", "path", cfg.DatabasePath)

	store := session.New(db, logger)

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := tasks.NewRegistry()
	hydrator := chat.NewHydrator(store, cfg.SystemPrompt, cfg.ContextBudget)
	executor := chat.NewExecutor(store, hydrator, eng, registry, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Engine:   eng,
		Registry: registry,
		Executor: executor,
		db:       db,
	}, nil
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Engine, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		eng, err := engine.NewGemini(ctx, cfg.GeminiAPIKey, cfg.MaxTokens, logger)
		if err != nil {
			return nil, fmt.Errorf("create gemini engine: %w", err)
		}
		logger.Info("engine ready", "provider", cfg.Provider)
		return eng, nil

	case config.ProviderGateway:
		client := tools.NewClient(tools.ClientConfig{
			BaseURL:    cfg.TMDBBaseURL,
			APIKey:     cfg.TMDBAPIKey,
			Timeout:    cfg.HTTPTimeout,
			MaxRetries: cfg.HTTPRetries,
		}, logger)
		toolkit := tools.NewToolkit(client)

		retry := engine.DefaultRetryConfig()
		retry.MaxRetries = cfg.HTTPRetries

		eng := engine.NewGateway(engine.GatewayConfig{
			BaseURL:      cfg.GatewayBaseURL,
			APIKey:       cfg.GatewayAPIKey,
			DefaultModel: cfg.DefaultModel,
			MaxTokens:    cfg.MaxTokens,
			Timeout:      cfg.HTTPTimeout,
			Retry:        retry,
		}, toolkit, logger)
		logger.Info("engine ready",
			"provider", cfg.Provider,
			"gateway", cfg.GatewayBaseURL,
			"model", cfg.DefaultModel,
			"tools", len(toolkit.Specs()),
		)
		return eng, nil

	default:
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidProvider, cfg.Provider)
	}
}

// Close releases the application's resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
