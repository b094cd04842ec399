// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/cloud"
	"github.com/jeranaias/multichat/internal/config"
	"github.com/jeranaias/multichat/internal/logging"
	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/notify"
	"github.com/jeranaias/multichat/internal/orchestrator"
	"github.com/jeranaias/multichat/internal/retrieval"
	"github.com/jeranaias/multichat/internal/settings"
	"github.com/jeranaias/multichat/internal/storage"
	"github.com/jeranaias/multichat/internal/telemetry"
	"github.com/jeranaias/multichat/internal/templates"
)

// APIKeyEnv seeds the API key when settings hold none.
const APIKeyEnv = "OPENROUTER_API_KEY"

// AppOptions customizes Open.
type AppOptions struct {
	// Models binds the starting sessions.
	Models []string

	// Watch reloads settings when the settings file changes on disk. Only
	// the file backend supports it.
	Watch bool

	// Completer replaces the OpenRouter client.
	Completer orchestrator.Completer

	// Notices receives terminal notifications. Nil uses stderr.
	Notices io.Writer
}

// App is the assembled stack behind the CLI commands.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	KV           storage.KV
	Settings     *settings.Store
	Sessions     *storage.SessionStore
	Usage        *telemetry.UsageTracker
	Templates    *templates.Library
	Orchestrator *orchestrator.Orchestrator

	cancel context.CancelFunc
}

// OpenStore opens the logger, storage, settings and usage tracker without
// the orchestrator. Commands that only read saved state use it.
func OpenStore(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	kv, err := storage.Open(cfg.StorageOptions())
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	store := settings.NewStore(ctx, kv, logger)
	store.SetFallbackAPIKey(os.Getenv(APIKeyEnv))

	usage := telemetry.NewUsageTracker(kv, logger)
	usage.Load(ctx)

	lib := templates.NewLibrary()
	if cfg.Templates.File != "" {
		user, err := templates.LoadFile(cfg.Templates.File)
		if err != nil {
			logger.Warn("templates file ignored", zap.String("path", cfg.Templates.File), zap.Error(err))
		} else {
			lib = templates.NewLibrary(user...)
		}
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		KV:        kv,
		Settings:  store,
		Sessions:  storage.NewSessionStore(kv, logger),
		Usage:     usage,
		Templates: lib,
	}, nil
}

// Open assembles the full stack including the orchestrator.
func Open(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	app, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	if opts.Watch {
		if fkv, ok := app.KV.(*storage.FileKV); ok {
			if err := app.Settings.Watch(runCtx, fkv.Path(storage.KeySettings), settings.DefaultDebounce); err != nil {
				app.Logger.Warn("settings watch disabled", zap.Error(err))
			}
		}
	}

	completer := opts.Completer
	if completer == nil {
		completer = newCloudClient(cfg, app.Logger)
	}

	notices := opts.Notices
	if notices == nil {
		notices = os.Stderr
	}

	models := make([]string, 0, len(opts.Models))
	for _, m := range opts.Models {
		models = append(models, model.ResolveModelID(m))
	}

	orch, err := orchestrator.New(ctx, orchestrator.Options{
		Completer: completer,
		Settings:  app.Settings,
		Persister: app.Sessions,
		Recorder:  app.Usage,
		Selector:  newSelector(cfg, app.Settings, app.Logger),
		Notifier: notify.Gated{
			Next:      notify.Multi{notify.NewTerminal(notices), notify.Log{Logger: app.Logger}},
			Enabled:   func() bool { return app.Settings.Get().NotificationsEnabled },
			Permitted: notify.TerminalPermitted(int(os.Stderr.Fd())),
			Logger:    app.Logger,
		},
		Templates: app.Templates,
		Logger:    app.Logger,
		Image: cloud.ImageOptions{
			MaxRetries: cfg.Chat.ImageMaxRetries,
			Size:       cfg.Chat.ImageSize,
			Quality:    cfg.Chat.ImageQuality,
		},
		InitialModels: models,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Orchestrator = orch
	return app, nil
}

// Close stops the orchestrator, flushes usage and releases storage.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	a.Usage.Flush(context.Background())

	err := a.KV.Close()
	// Sync fails on some terminals; the error carries nothing actionable.
	_ = a.Logger.Sync()
	return err
}

func newCloudClient(cfg *config.Config, logger *zap.Logger) *cloud.Client {
	c := cloud.NewClient().
		WithBaseURL(cfg.Cloud.BaseURL).
		WithTimeout(cfg.Cloud.Timeout()).
		WithMaxRetries(cfg.Cloud.MaxRetries).
		WithLogger(logger)
	if cfg.Cloud.SiteURL != "" {
		c = c.WithSiteURL(cfg.Cloud.SiteURL)
	}
	if cfg.Cloud.SiteName != "" {
		c = c.WithSiteName(cfg.Cloud.SiteName)
	}
	if cfg.Cloud.RequestsPerSecond > 0 {
		c = c.WithRateLimit(cfg.Cloud.RequestsPerSecond)
	}
	return c
}

// newSelector embeds remotely when an embedding model is configured, and
// locally otherwise.
func newSelector(cfg *config.Config, store *settings.Store, logger *zap.Logger) *retrieval.Selector {
	embed := retrieval.LocalEmbedding(retrieval.LocalDimensions)
	if cfg.Chat.EmbeddingModel != "" {
		base := cfg.Chat.EmbeddingBaseURL
		if base == "" {
			base = cfg.Cloud.BaseURL
		}
		embed = retrieval.RemoteEmbedding(base, cfg.Chat.EmbeddingModel, func() string {
			return store.Get().APIKey
		})
	}
	return retrieval.NewSelector(embed, cfg.Chat.RAGTopK, logger)
}

// errQuit ends the REPL loop.
var errQuit = errors.New("quit")
