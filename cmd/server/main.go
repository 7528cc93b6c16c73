package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gwi.com/mindcare-assistant/internal/api"
	"gwi.com/mindcare-assistant/internal/config"
	"gwi.com/mindcare-assistant/internal/core"
	"gwi.com/mindcare-assistant/internal/ingest"
	"gwi.com/mindcare-assistant/internal/observability"
	"gwi.com/mindcare-assistant/internal/store"
	"gwi.com/mindcare-assistant/internal/utils"
)

const shutdownTimeout = 30 * time.Second

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "mindcare",
		Short:         "Mental health support assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newIndexCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var (
		paths      []string
		appendMode bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the document index from files or directories",
		Long: `Extract text from .pdf, .md and .txt files, split it into chunks,
embed every chunk and replace the stored index, or extend it with --append.

Example:
  mindcare ingest --path ./docs
  mindcare ingest --path guide.pdf --path faq.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runIngest(ctx, opts, paths, appendMode)
		},
	}
	cmd.Flags().StringSliceVar(&paths, "path", nil, "file or directory to ingest (repeatable)")
	cmd.Flags().BoolVar(&appendMode, "append", false, "add to the existing index instead of replacing it")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func setup(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	dbStore, err := store.NewSQLiteStore(cfg.Index.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	embedder, err := core.NewGeminiService(ctx, cfg.Index.EmbeddingAPIKey, cfg.Generation.Model, cfg.Index.EmbeddingModel, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	defer embedder.Close()
	if !embedder.Ready() {
		logger.Warn("GEMINI_API_KEY not set; API will start but retrieval is unavailable")
	}

	generator, closeGenerator, err := newGenerator(ctx, cfg, embedder, logger)
	if err != nil {
		return err
	}
	defer closeGenerator()
	if !generator.Ready() {
		logger.Warn("generation credentials not set; API will start but chat is unavailable",
			zap.String("provider", cfg.Generation.Provider))
	}

	index, err := core.NewVectorIndex(ctx, dbStore, embedder, cfg.Index.EmbeddingCache, logger, metrics,
		core.WithQueryTimeout(cfg.Index.QueryTimeout))
	if err != nil {
		return fmt.Errorf("failed to load document index: %w", err)
	}

	// SIGHUP picks up chunks written by a separate ingest run.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnSignal(ctx, hup, index, logger)

	detector, err := core.NewCrisisDetector(cfg.Safety.CrisisKeywords, cfg.Safety.CrisisPatterns)
	if err != nil {
		return err
	}

	sessions := core.NewSessionStore(cfg.Memory.MaxSessions, cfg.Memory.IdleTTL,
		core.WithEvictionHook(func(id, reason string) {
			metrics.SessionEvicted(reason)
			logger.Debug("session evicted", zap.String("session_id", id), zap.String("reason", reason))
		}))
	metrics.RegisterActiveSessions(sessions.Count)

	responder := core.NewResponder(index, generator,
		core.RetrievalParams{K: cfg.Index.K, FetchK: cfg.Index.FetchK, Lambda: cfg.Index.Lambda},
		core.GenerationParams{
			MaxTokens:   cfg.Generation.MaxTokens,
			Temperature: cfg.Generation.Temperature,
			Timeout:     cfg.Generation.Timeout,
		},
		cfg.Memory.PromptTurns, logger, metrics)
	chatService := core.NewChatService(cfg, detector, sessions, responder, index, logger, metrics)

	router := api.NewRouter(api.NewAPIHandler(chatService, logger), api.RouterOptions{
		Logger:    logger,
		Metrics:   metrics,
		Gatherer:  reg,
		RateLimit: cfg.Server.RateLimitRPS,
		RateBurst: cfg.Server.RateBurst,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.Int("chunks", index.Count()),
			zap.String("llm_model", generator.Model()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited gracefully")
	return nil
}

type reloader interface {
	Reload(ctx context.Context) error
	Count() int
}

// reloadOnSignal reloads the index each time sig fires until ctx is done. A
// failed reload keeps the previous chunks serving.
func reloadOnSignal(ctx context.Context, sig <-chan os.Signal, index reloader, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if err := index.Reload(ctx); err != nil {
				logger.Error("index reload failed", zap.Error(err))
				continue
			}
			logger.Info("index reloaded", zap.Int("chunks", index.Count()))
		}
	}
}

// newGenerator picks the generation backend. A Gemini generator shares the
// embedding client when both use the same key.
func newGenerator(ctx context.Context, cfg *config.Config, embedder *core.GeminiService,
	logger *zap.Logger) (core.Generator, func(), error) {
	noop := func() {}
	switch cfg.Generation.Provider {
	case config.ProviderOpenAI:
		return core.NewOpenAIGenerator(cfg.Generation.APIKey, cfg.Generation.BaseURL, cfg.Generation.Model, logger), noop, nil
	default:
		if cfg.Generation.APIKey == cfg.Index.EmbeddingAPIKey {
			return embedder, noop, nil
		}
		gen, err := core.NewGeminiService(ctx, cfg.Generation.APIKey, cfg.Generation.Model, cfg.Index.EmbeddingModel, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize generation client: %w", err)
		}
		return gen, gen.Close, nil
	}
}

func runIngest(ctx context.Context, opts *rootOptions, paths []string, appendMode bool) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	embedder, err := core.NewGeminiService(ctx, cfg.Index.EmbeddingAPIKey, cfg.Generation.Model, cfg.Index.EmbeddingModel, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	defer embedder.Close()
	if !embedder.Ready() {
		return errors.New("GEMINI_API_KEY is required for ingestion")
	}

	dbStore, err := store.NewSQLiteStore(cfg.Index.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	ingester := ingest.NewIngester(dbStore, embedder, ingest.Options{
		ChunkSize:     cfg.Index.ChunkSize,
		ChunkOverlap:  cfg.Index.ChunkOverlap,
		RatePerMinute: cfg.Index.IngestRateLimit,
		Append:        appendMode,
	}, logger)

	stats, err := ingester.Run(ctx, paths...)
	if err != nil {
		return fmt.Errorf("data ingestion failed: %w", err)
	}
	logger.Info("data ingestion complete",
		zap.Int("files", stats.Files),
		zap.Int("stored", stats.Embedded),
		zap.Int("skipped", stats.Skipped))
	return nil
}

func newIndexCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect or reset the stored document index",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print the number of stored chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, func(s *store.SQLiteStore) error {
				n, err := s.CountDataChunks(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d chunks\n", n)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every stored chunk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, func(s *store.SQLiteStore) error {
				if err := s.ClearDataChunks(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "index cleared")
				return nil
			})
		},
	})
	return cmd
}

func withStore(opts *rootOptions, fn func(*store.SQLiteStore) error) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dbStore, err := store.NewSQLiteStore(cfg.Index.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()
	return fn(dbStore)
}
