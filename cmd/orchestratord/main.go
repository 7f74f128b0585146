// Command orchestratord runs the skill orchestration core behind a thin
// HTTP/SSE transport. It wires the engine, registry, sandbox gateway,
// memory store, and session store together per internal/config and serves
// the client API described in internal/httpapi.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-skills/orchestrator/internal/agent"
	"github.com/nexus-skills/orchestrator/internal/auth"
	"github.com/nexus-skills/orchestrator/internal/config"
	"github.com/nexus-skills/orchestrator/internal/httpapi"
	"github.com/nexus-skills/orchestrator/internal/llm"
	"github.com/nexus-skills/orchestrator/internal/memory"
	"github.com/nexus-skills/orchestrator/internal/observability"
	"github.com/nexus-skills/orchestrator/internal/reranker"
	"github.com/nexus-skills/orchestrator/internal/sandbox"
	"github.com/nexus-skills/orchestrator/internal/sessions"
	"github.com/nexus-skills/orchestrator/internal/skills"
)

// version is populated by ldflags during release builds.
var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "orchestratord",
		Short:   "Skill orchestration core server",
		Version: version,
	}
	root.AddCommand(buildServeCmd(), buildSkillsCmd(), buildAuthCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/SSE server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func buildSkillsCmd() *cobra.Command {
	skillsCmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect the skill registry without starting a server",
	}
	skillsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Build the registry once and print its catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			registry := skills.NewRegistry(cfg.Skills.Directory)
			if err := registry.Build(cmd.Context()); err != nil {
				return err
			}
			fmt.Print(registry.Snapshot().SummarizeForPrompt())
			return nil
		},
	})
	return skillsCmd
}

func buildAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API credentials",
	}
	var expiry time.Duration
	issueCmd := &cobra.Command{
		Use:   "issue-token CLIENT_ID",
		Short: "Mint a bearer token for a caller, signed with AUTH_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := auth.NewService(os.Getenv("AUTH_JWT_SECRET"), expiry)
			token, err := service.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "token lifetime (0 for no expiry)")
	authCmd.AddCommand(issueCmd)
	return authCmd
}

// wiring holds every process-lifetime dependency the server needs, so
// runServe can build them once and shut them down in reverse order.
type wiring struct {
	registry   *skills.Registry
	store      sessions.Store
	lockMgr    *sessions.SessionLockManager
	httpServer *http.Server
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	w, err := buildWiring(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer w.lockMgr.Stop()
	defer w.registry.Close()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestratord listening", "addr", w.httpServer.Addr)
		if err := w.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-runCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return w.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildWiring(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*wiring, error) {
	registry := skills.NewRegistry(cfg.Skills.Directory)
	if err := registry.Build(ctx); err != nil {
		if _, isDuplicateName := err.(*skills.RegistryBuildError); !isDuplicateName {
			return nil, err
		}
		logger.Warn("initial skill registry build failed, starting with an empty catalog", "error", err)
	}
	if cfg.Skills.WatchEnabled {
		if err := registry.StartWatching(ctx, cfg.Skills.WatchDebounce); err != nil {
			logger.Warn("skill registry hot-reload disabled: failed to start watcher", "error", err)
		}
	}

	store, err := buildSessionStore()
	if err != nil {
		return nil, err
	}
	lockMgr := sessions.NewSessionLockManager(10 * time.Minute)
	lockedStore := sessions.NewLockingStore(store, lockMgr, "orchestratord")

	provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	metrics := observability.NewMetrics()
	memStore := buildMemoryStore(cfg, provider, lockedStore, metrics)

	gateway := sandbox.NewGateway(cfg.Sandbox.BaseURL(), nil)
	executor := sandbox.NewExecutor(gateway)

	engineConfig := agent.EngineConfig{
		MaxIterations:  cfg.Agent.MaxIterations,
		MaxTokens:      cfg.Agent.DefaultMaxTokens,
		Temperature:    cfg.Agent.DefaultTemperature,
		SandboxTimeout: cfg.Agent.SandboxTimeout,
		CancelGrace:    cfg.Agent.CancelGrace,
	}
	engine := agent.NewEngine(provider, executor, lockedStore, memStore, registry, engineConfig)

	// AUTH_JWT_SECRET is, like SESSIONS_DATABASE_URL, a deployment
	// concern rather than an orchestration tuning knob: an empty secret
	// disables auth entirely and every route serves unauthenticated.
	authService := auth.NewService(os.Getenv("AUTH_JWT_SECRET"), time.Hour)

	handler, err := httpapi.NewHandler(httpapi.Config{
		Engine:   engine,
		Store:    lockedStore,
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
		Auth:     authService,
	})
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (SSE) must not be capped
	}

	return &wiring{registry: registry, store: lockedStore, lockMgr: lockMgr, httpServer: httpServer}, nil
}

// buildSessionStore defaults to the in-memory reference store; setting
// SESSIONS_SQLITE_PATH selects the embedded SQLite store and
// SESSIONS_DATABASE_URL the CockroachDB/Postgres-backed one. These env
// vars aren't part of the recognized config surface since persistence
// backend choice is a deployment concern, not a tuning knob of the
// orchestration core.
func buildSessionStore() (sessions.Store, error) {
	if path := os.Getenv("SESSIONS_SQLITE_PATH"); path != "" {
		return sessions.NewSQLiteStore(path)
	}
	dsn := os.Getenv("SESSIONS_DATABASE_URL")
	if dsn == "" {
		return sessions.NewMemoryStore(), nil
	}
	return sessions.NewCockroachStoreFromDSN(dsn, nil)
}

func buildMemoryStore(cfg *config.Config, provider agent.LLMProvider, entries memory.EntryStore, metrics *observability.Metrics) *memory.Store {
	memConfig := memory.Config{
		TopK:              cfg.Memory.TopK,
		ScoreFloor:        cfg.Memory.ScoreFloor,
		UserTurnThreshold: cfg.Memory.UserTurnThreshold,
		OnRetrieval: func(d time.Duration) {
			metrics.MemoryRetrievalDuration.Observe(d.Seconds())
		},
	}

	var rr reranker.Reranker
	if cfg.Memory.RerankerBaseURL != "" {
		rr = reranker.NewClient(cfg.Memory.RerankerBaseURL, nil)
	}
	summarizer := llm.NewProviderSummarizer(provider, cfg.LLM.Model)

	return memory.NewStore(rr, summarizer, entries, memConfig)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
