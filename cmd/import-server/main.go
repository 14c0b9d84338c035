// Package main provides the import service entry point: the job status
// API, the worker pool that drives import jobs, and the retention sweeps,
// all in a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deckhaven/import-service/pkg/conflict"
	"github.com/deckhaven/import-service/pkg/deckstore"
	"github.com/deckhaven/import-service/pkg/events"
	"github.com/deckhaven/import-service/pkg/ha"
	"github.com/deckhaven/import-service/pkg/history"
	"github.com/deckhaven/import-service/pkg/importjob"
	"github.com/deckhaven/import-service/pkg/preview"
	"github.com/deckhaven/import-service/pkg/resolve"
	"github.com/deckhaven/import-service/pkg/scryfall"
	"github.com/deckhaven/import-service/pkg/userctx"
)

const apiPrefix = "/api/import/v1alpha1"

func main() {
	var (
		listenAddr   string
		databaseType string
		databaseDSN  string
		configPath   string
		cardAPIURL   string
		cardCacheMax int
		cardCacheTTL time.Duration
		logLevel     string
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "", "Database type (postgres, mysql, or sqlite)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.StringVar(&configPath, "config", "", "Optional YAML job config file")
	flag.StringVar(&cardAPIURL, "card-api", "", "Card reference API base URL")
	flag.IntVar(&cardCacheMax, "card-cache-size", 4096, "Max entries in the card resolution cache")
	flag.DurationVar(&cardCacheTTL, "card-cache-ttl", 10*time.Minute, "TTL for cached card resolutions")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(logLevel),
	}))
	slog.SetDefault(logger)

	cfg := importjob.ConfigFromEnv()
	if configPath != "" {
		if err := importjob.LoadConfigFile(cfg, configPath); err != nil {
			logger.Error("failed to load config file", "path", configPath, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("starting import server",
		"listen", listenAddr,
		"workers", cfg.Concurrency,
		"maxRetries", cfg.MaxRetries)

	gormDB, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	jobStore := importjob.NewStore(gormDB)
	conflictStore := conflict.NewStore(gormDB)
	previewStore := preview.NewStore(gormDB)
	historyStore := history.NewStore(gormDB)
	deckStore := deckstore.NewStore(gormDB)
	eventStore := events.NewStore(gormDB)

	// Replicas starting together race on AutoMigrate without this.
	locker := ha.NewMigrationLocker(gormDB)
	err = locker.WithLock(context.Background(), func() error {
		for name, migrate := range map[string]func() error{
			"jobs":      jobStore.AutoMigrate,
			"conflicts": conflictStore.AutoMigrate,
			"previews":  previewStore.AutoMigrate,
			"history":   historyStore.AutoMigrate,
			"decks":     deckStore.AutoMigrate,
			"events":    eventStore.AutoMigrate,
		} {
			if err := migrate(); err != nil {
				return fmt.Errorf("migrate %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	resolveCfg := resolve.DefaultConfig()
	resolveCfg.CacheSize = cardCacheMax
	resolveCfg.CacheTTL = cardCacheTTL
	resolver := resolve.NewResolver(scryfall.NewClient(cardAPIURL, logger), resolveCfg)
	publisher := events.NewPublisher(eventStore, logger)
	rollbackEngine := history.NewEngine(historyStore, deckStore, publisher, logger)
	orchestrator := importjob.NewOrchestrator(
		jobStore, conflictStore, previewStore, historyStore, deckStore,
		resolver, publisher, cfg, logger)
	pool := importjob.NewWorkerPool(jobStore, orchestrator, previewStore, publisher, cfg, logger)
	retention := events.NewRetentionWorker(eventStore, cfg.RetentionDays, logger)

	api := importjob.NewAPI(
		jobStore, conflictStore, previewStore, historyStore,
		rollbackEngine, eventStore, publisher, cfg, logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", userctx.UserIDHeader},
		MaxAge:         300,
	}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := gormDB.DB()
		if err != nil || sqlDB.PingContext(r.Context()) != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Route(apiPrefix, func(r chi.Router) {
		r.Use(userctx.Middleware())
		r.Mount("/", api.Router())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		pool.Run(ctx)
	}()
	go retention.Run(ctx)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("import server ready", "listen", listenAddr, "apiPrefix", apiPrefix)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Wait for in-flight jobs; they checkpoint between steps so this is
	// bounded by the step timeout.
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not stop within the shutdown window")
	}

	logger.Info("import server stopped")
}

func setupDatabase(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
	}
	if dbType == "" {
		dbType = os.Getenv("DATABASE_TYPE")
		if dbType == "" {
			dbType = "postgres"
		}
	}

	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected postgres, mysql, or sqlite)", dbType)
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
