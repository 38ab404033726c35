package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kaustubhduse/support-agent/internal/agent"
	"github.com/kaustubhduse/support-agent/internal/api"
	"github.com/kaustubhduse/support-agent/internal/buildinfo"
	"github.com/kaustubhduse/support-agent/internal/chat"
	"github.com/kaustubhduse/support-agent/internal/commerce"
	"github.com/kaustubhduse/support-agent/internal/config"
	"github.com/kaustubhduse/support-agent/internal/llm"
	"github.com/kaustubhduse/support-agent/internal/memory"
	"github.com/kaustubhduse/support-agent/internal/observe"
	"github.com/kaustubhduse/support-agent/internal/router"
)

// stores holds the opened persistence backends.
type stores struct {
	memory   memory.MemoryStore
	commerce commerce.Store
}

// Close closes both stores.
func (s *stores) Close() error {
	return errors.Join(s.memory.Close(), s.commerce.Close())
}

// openStores opens the message and commerce stores for the configured
// driver. Both SQLite stores share one database file.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Database.Driver {
	case "postgres":
		mem, err := memory.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		com, err := commerce.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			mem.Close()
			return nil, err
		}
		return &stores{memory: mem, commerce: com}, nil

	default:
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		mem, err := memory.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open message store: %w", err)
		}
		com, err := commerce.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			mem.Close()
			return nil, fmt.Errorf("open commerce store: %w", err)
		}
		return &stores{memory: mem, commerce: com}, nil
	}
}

// app is the wired request path: loop, agents, router and chat service.
type app struct {
	logger *slog.Logger
	stores *stores
	loop   *agent.Loop
	router *router.Router
	chat   *chat.Service
}

func newApp(cfg *config.Config, logger *slog.Logger, st *stores) (*app, error) {
	client := createLLMClient(cfg, logger)

	loop := agent.NewLoop(logger, client, agent.LoopConfig{
		DefaultModel: cfg.Models.Default,
		Temperature:  cfg.Models.Temperature,
		MaxTokens:    cfg.Models.MaxTokens,
		MaxTurns:     cfg.Models.MaxTurns,
		MaxAttempts:  cfg.Models.MaxAttempts,
		RetryBackoff: cfg.Models.RetryBackoff,
	})

	handlers := []agent.Handler{
		agent.NewSupportAgent(loop, st.memory, cfg.Context.MaxTokens, logger),
		agent.NewOrderAgent(loop, st.commerce, logger),
		agent.NewBillingAgent(loop, st.commerce, logger),
	}

	rtr, err := router.NewRouter(logger, loop, handlers, router.Config{
		MaxAuditLog: cfg.Router.MaxAuditLog,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		logger: logger,
		stores: st,
		loop:   loop,
		router: rtr,
		chat:   chat.NewService(st.memory, rtr, logger),
	}, nil
}

// newServer builds the API server. When metrics are enabled it installs
// the OpenTelemetry providers and serves /metrics. The returned function
// flushes telemetry on shutdown.
func (a *app) newServer(ctx context.Context, cfg *config.Config) (*api.Server, func(context.Context) error, error) {
	server := api.NewServer(cfg.ListenAddr(), a.chat, a.stores.memory, a.router, a.logger)
	server.SetCORS(cfg.CORS.AllowedOrigins)
	if l := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window); l != nil {
		server.SetRateLimiter(l)
	}

	if !cfg.Metrics.Enabled {
		return server, func(context.Context) error { return nil }, nil
	}

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: buildinfo.Version,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := provider.Metrics()
	if err != nil {
		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	a.loop.SetMetrics(metrics)
	a.router.SetMetrics(metrics)
	server.SetMetrics(metrics, provider.Handler())
	a.logger.Info("metrics enabled", "path", "/metrics")

	return server, provider.Shutdown, nil
}

// createLLMClient builds a multi-provider client. The configured
// provider serves the default model and any model not mapped elsewhere.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	openaiClient := llm.NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, logger)
	ollamaClient := llm.NewOllamaClient(cfg.Ollama.URL, logger)

	var fallback llm.Client = openaiClient
	if cfg.Models.Provider == "ollama" {
		fallback = ollamaClient
	}

	multi := llm.NewMultiClient(fallback)
	multi.AddProvider("openai", openaiClient)
	multi.AddProvider("ollama", ollamaClient)
	multi.AddModel(cfg.Models.Default, cfg.Models.Provider)

	if cfg.Models.Provider == "openai" && cfg.OpenAI.APIKey == "" {
		logger.Warn("no API key configured; model calls will fail and agents will answer with their fallback text")
	}
	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "provider", cfg.Models.Provider)

	return multi
}
