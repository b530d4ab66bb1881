package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"meli-tracker-api/internal/config"
	"meli-tracker-api/internal/database"
	"meli-tracker-api/internal/handler"
	"meli-tracker-api/internal/repository"
	"meli-tracker-api/internal/service"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting meli-tracker-api")

	ctx := context.Background()

	slog.Info("connecting to database", "host", cfg.Database.Host, "database", cfg.Database.Name)
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Repositories
	canonicalRepo := repository.NewCanonicalRepo(db)
	listingRepo := repository.NewListingRepo(db)
	historyRepo := repository.NewPriceHistoryRepo(db)

	// Services
	statsSvc := service.NewStatsService(canonicalRepo, listingRepo, logger)
	groupingSvc := service.NewGroupingService(canonicalRepo, listingRepo, statsSvc, logger)
	ingestSvc := service.NewIngestService(listingRepo, historyRepo, groupingSvc, statsSvc, logger)

	// Handlers
	healthHandler := handler.NewHealthHandler(db)
	canonicalHandler := handler.NewCanonicalHandler(canonicalRepo, listingRepo, groupingSvc, statsSvc)
	listingHandler := handler.NewListingHandler(listingRepo, historyRepo, ingestSvc)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", healthHandler.Check)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/canonical-vehicles", func(r chi.Router) {
			r.Get("/", canonicalHandler.List)
			r.Get("/{id}", canonicalHandler.Get)
			r.Get("/{id}/listings", canonicalHandler.Listings)
			r.Post("/{id}/update-stats", canonicalHandler.UpdateStats)
			r.Post("/{sourceID}/merge/{targetID}", canonicalHandler.Merge)
		})

		r.Route("/listings", func(r chi.Router) {
			r.Post("/", listingHandler.Ingest)
			r.Get("/{id}", listingHandler.Get)
			r.Put("/{id}/price", listingHandler.UpdatePrice)
			r.Get("/{id}/price-history", listingHandler.PriceHistory)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		slog.Info("server started", "port", cfg.APIPort)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}

	slog.Info("server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
