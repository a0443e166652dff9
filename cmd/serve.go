package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/uchat-ai/uchat/db"
	"github.com/uchat-ai/uchat/internal/chat"
	"github.com/uchat-ai/uchat/internal/config"
	"github.com/uchat-ai/uchat/internal/extract"
	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/observability"
	"github.com/uchat-ai/uchat/internal/provider"
	"github.com/uchat-ai/uchat/internal/search"
	"github.com/uchat-ai/uchat/internal/transcript"
	"github.com/uchat-ai/uchat/internal/transcript/postgres"
	"github.com/uchat-ai/uchat/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// parseLogLevel maps the configured level name to a slog level,
// defaulting to info for unknown values.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: parseLogLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	logger.Info("starting uchat", "version", Version, "model", cfg.ModelName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	telemetry, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		Version:     Version,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	archive := postgres.New(pool, logger)

	store, err := transcript.NewStore(cfg.NodeID, logger)
	if err != nil {
		return fmt.Errorf("creating transcript store: %w", err)
	}

	llm, err := provider.New(provider.Config{
		BaseURL:           cfg.ProviderBaseURL,
		APIKey:            cfg.ProviderAPIKey,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.RequestBurst,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating provider client: %w", err)
	}

	var imageSearch chat.ImageSearcher
	if cfg.SearchBaseURL != "" {
		imageSearch = search.New(cfg.SearchBaseURL, cfg.SearchAPIKey, nil, logger)
	}

	var extractor web.Extractor
	if cfg.ExtractorBaseURL != "" {
		extractor = extract.New(cfg.ExtractorBaseURL, nil, logger)
	}

	controller, err := chat.New(chat.Config{
		Store:        store,
		Provider:     llm,
		Search:       imageSearch,
		Archiver:     archive,
		Model:        cfg.ModelName,
		SystemPrompt: cfg.SystemPrompt,
		TurnTimeout:  cfg.TurnTimeout,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating chat controller: %w", err)
	}

	server := web.NewServer(web.Config{
		Store:     store,
		Turns:     controller,
		Extractor: extractor,
		Feedback:  archive,
		Readiness: archive,
		Logger:    logger,
	})

	return server.Run(ctx, cfg.ServerAddr)
}
