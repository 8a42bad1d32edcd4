package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ayurbridge/terminology-api/internal/config"
	"github.com/ayurbridge/terminology-api/internal/domain/admin"
	"github.com/ayurbridge/terminology-api/internal/domain/auditlog"
	"github.com/ayurbridge/terminology-api/internal/domain/mapping"
	"github.com/ayurbridge/terminology-api/internal/domain/sourcecode"
	"github.com/ayurbridge/terminology-api/internal/domain/targetcode"
	"github.com/ayurbridge/terminology-api/internal/domain/terminology"
	"github.com/ayurbridge/terminology-api/internal/jobs"
	"github.com/ayurbridge/terminology-api/internal/pipeline"
	"github.com/ayurbridge/terminology-api/internal/platform/cache"
	"github.com/ayurbridge/terminology-api/internal/platform/db"
	"github.com/ayurbridge/terminology-api/internal/platform/embedding"
	"github.com/ayurbridge/terminology-api/internal/platform/llm"
	"github.com/ayurbridge/terminology-api/internal/platform/middleware"
	"github.com/ayurbridge/terminology-api/internal/platform/telemetry"
	"github.com/ayurbridge/terminology-api/internal/platform/who"
)

const version = "0.3.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "terminology-server",
		Short: "NAMASTE to ICD-11 TM2 terminology bridge",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(generateEmbeddingsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Process-wide state: caches, rate limiters, metrics.
	caches := cache.NewLayer()
	limiters := middleware.NewRegistry(middleware.DefaultClasses())
	limiters.StartSweeps(ctx, 30*time.Second)
	metrics := telemetry.NewProvider("terminology-server")

	// Repositories.
	sourceRepo := sourcecode.NewSourceCodeRepoPG(pool)
	targetRepo := targetcode.NewTargetCodeRepoPG(pool)
	mappingRepo := mapping.NewMappingRepoPG(pool)
	auditRepo := auditlog.NewAuditRepoPG(pool)

	// External model adapters.
	embedClient := embedding.NewClient(cfg.EmbeddingAPIURL, cfg.EmbeddingAPIKey,
		cfg.EmbeddingModel, cfg.EmbeddingDim,
		time.Duration(cfg.EmbeddingTimeoutMS)*time.Millisecond, logger)
	llmClient := llm.NewClient(cfg.LLMAPIURL, cfg.LLMAPIKey,
		cfg.LLMModel, cfg.LLMMaxTokens,
		time.Duration(cfg.LLMTimeoutMS)*time.Millisecond, logger)
	whoProbe := who.NewProbe(cfg.WHOTokenURL, cfg.WHOClientID, cfg.WHOClientSecret, logger)

	// Services.
	sourceSvc := sourcecode.NewService(sourceRepo)
	targetSvc := targetcode.NewService(targetRepo)
	retriever := pipeline.NewRetriever(targetRepo, logger)
	pipe := pipeline.New(embedClient, retriever, llmClient, logger)
	mappingSvc := mapping.NewService(sourceRepo, mappingRepo, pipe, caches, logger)
	termSvc := terminology.NewService(sourceSvc, targetSvc, mappingSvc)
	auditSvc := auditlog.NewService(auditRepo)
	auditRecorder := auditlog.NewRecorder(ctx, auditRepo, logger)
	generator := admin.NewGenerator(sourceRepo, targetRepo, embedClient, logger)

	queue := jobs.NewQueue(ctx, mappingSvc.ProcessBatchItem, jobs.Options{
		MaxConcurrent: cfg.JobMaxConcurrent,
		ItemDelay:     time.Duration(cfg.JobItemDelayMS) * time.Millisecond,
		Retention:     time.Duration(cfg.JobRetentionMS) * time.Millisecond,
	}, logger)

	// Echo server.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.Audit(logger, auditRecorder))

	// Per-class rate limiting plus the translate deadline.
	deadline := time.Duration(cfg.RequestDeadlineMS) * time.Millisecond
	mappingMW := []echo.MiddlewareFunc{
		middleware.RateLimit(limiters.Limiter("mapping")),
		middleware.RequestTimeout(deadline),
	}
	batchMW := []echo.MiddlewareFunc{middleware.RateLimit(limiters.Limiter("batch"))}
	standardMW := []echo.MiddlewareFunc{middleware.RateLimit(limiters.Limiter("standard"))}
	searchMW := []echo.MiddlewareFunc{
		middleware.RateLimit(limiters.Limiter("search")),
		middleware.ResponseCache(caches.Search, false),
	}
	fhirMW := []echo.MiddlewareFunc{
		middleware.RateLimit(limiters.Limiter("search")),
		middleware.ResponseCache(caches.FHIR, true),
		middleware.RequestTimeout(deadline),
	}
	healthMW := []echo.MiddlewareFunc{middleware.RateLimit(limiters.Limiter("health"))}

	// Handlers.
	mapping.NewHandler(mappingSvc, queue,
		time.Duration(cfg.JobItemDelayMS)*time.Millisecond, logger).
		RegisterRoutes(e, mappingMW, batchMW, standardMW)
	sourcecode.NewHandler(sourceSvc).RegisterRoutes(e, searchMW...)
	targetcode.NewHandler(targetSvc).RegisterRoutes(e, searchMW...)
	terminology.NewHandler(termSvc, version, logger).RegisterRoutes(e, fhirMW...)
	admin.NewHandler(caches, limiters, auditSvc, generator, sourceSvc, targetSvc, targetRepo, logger).
		RegisterRoutes(e, standardMW...)

	// Operational endpoints.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	}, healthMW...)
	e.GET("/health/ready", func(c echo.Context) error {
		if err := db.Ping(c.Request().Context(), pool); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
		status := "ok"
		upstream := whoProbe.Check(c.Request().Context())
		if !upstream.Reachable {
			status = "degraded"
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   status,
			"database": db.GetPoolStats(pool),
			"upstream": upstream,
		})
	}, healthMW...)
	e.GET("/metrics", metrics.Handler(), healthMW...)

	// Serve with graceful shutdown.
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		errCh <- e.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return err
			}
			for _, st := range statuses {
				logger.Info().Int("version", st.Version).Str("name", st.Name).Msg("migration applied")
			}
			return nil
		},
	}
}

func generateEmbeddingsCmd() *cobra.Command {
	var kind string
	var batch int

	cmd := &cobra.Command{
		Use:   "generate-embeddings",
		Short: "Backfill missing embedding columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.EmbeddingAPIURL == "" {
				return fmt.Errorf("EMBEDDING_API_URL is required to generate embeddings")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			embedClient := embedding.NewClient(cfg.EmbeddingAPIURL, cfg.EmbeddingAPIKey,
				cfg.EmbeddingModel, cfg.EmbeddingDim,
				time.Duration(cfg.EmbeddingTimeoutMS)*time.Millisecond, logger)
			generator := admin.NewGenerator(
				sourcecode.NewSourceCodeRepoPG(pool),
				targetcode.NewTargetCodeRepoPG(pool),
				embedClient, logger)

			total := 0
			for {
				updated, err := generator.Generate(ctx, kind, batch)
				if err != nil {
					return err
				}
				if updated == 0 {
					break
				}
				total += updated
				logger.Info().Int("updated", total).Str("kind", kind).Msg("embedding progress")
			}
			logger.Info().Int("total", total).Str("kind", kind).Msg("embedding backfill complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "target", "which catalog to embed: source or target")
	cmd.Flags().IntVar(&batch, "batch", 50, "rows per embedding batch")
	return cmd
}
