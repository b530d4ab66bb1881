package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"meli-tracker-api/internal/config"
	"meli-tracker-api/internal/database"
	"meli-tracker-api/internal/repository"
	"meli-tracker-api/internal/service"
)

// regroup is a one-shot backfill: it walks listings that carry no canonical
// vehicle (ingested while grouping was failing, or left behind by a data fix)
// and runs each one through the grouping engine.
func main() {
	var (
		dbHost     = flag.String("db-host", getEnv("DB_HOST", "localhost"), "Database host")
		dbPort     = flag.Int("db-port", getEnvInt("DB_PORT", 5432), "Database port")
		dbName     = flag.String("db-name", getEnv("DB_NAME", "melitracker"), "Database name")
		dbUser     = flag.String("db-user", getEnv("DB_USER", "melitracker"), "Database user")
		dbPassword = flag.String("db-password", getEnv("DB_PASSWORD", ""), "Database password")
		dbSSLMode  = flag.String("db-sslmode", getEnv("DB_SSLMODE", "disable"), "Database SSL mode")

		batchSize = flag.Int("batch-size", 200, "Listings to load per batch")
		limit     = flag.Int("limit", 0, "Stop after this many listings (0 = no limit)")
		logLevel  = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	)

	flag.Parse()

	if *dbPassword == "" {
		fmt.Fprintln(os.Stderr, "Error: database password is required (use -db-password or DB_PASSWORD env)")
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, stopping", "signal", sig)
		cancel()
	}()

	dbConfig := config.DatabaseConfig{
		Host:     *dbHost,
		Port:     *dbPort,
		Name:     *dbName,
		User:     *dbUser,
		Password: *dbPassword,
		SSLMode:  *dbSSLMode,
		MaxConns: 10,
		MinConns: 2,
	}

	dbPool, err := database.NewPostgresPool(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	canonicalRepo := repository.NewCanonicalRepo(dbPool)
	listingRepo := repository.NewListingRepo(dbPool)

	statsSvc := service.NewStatsService(canonicalRepo, listingRepo, logger)
	groupingSvc := service.NewGroupingService(canonicalRepo, listingRepo, statsSvc, logger)

	grouped, created, failed, err := run(ctx, listingRepo, groupingSvc, *batchSize, *limit, logger)

	logger.Info("regroup finished",
		"grouped", grouped,
		"canonicals_created", created,
		"failed", failed,
	)

	if err != nil && ctx.Err() == nil {
		logger.Error("regroup aborted", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, listings *repository.ListingRepo, grouping *service.GroupingService, batchSize, limit int, logger *slog.Logger) (grouped, created, failed int, err error) {
	for {
		if ctx.Err() != nil {
			return grouped, created, failed, ctx.Err()
		}

		batch, err := listings.ListUngrouped(ctx, batchSize)
		if err != nil {
			return grouped, created, failed, fmt.Errorf("listing ungrouped batch: %w", err)
		}
		if len(batch) == 0 {
			return grouped, created, failed, nil
		}

		progressed := false
		for i := range batch {
			if ctx.Err() != nil {
				return grouped, created, failed, ctx.Err()
			}
			listing := &batch[i]

			result, err := grouping.GroupListing(ctx, listing)
			if err != nil {
				failed++
				logger.Warn("grouping failed",
					"listing_id", listing.ID,
					"title", listing.Title,
					"error", err,
				)
				continue
			}

			grouped++
			progressed = true
			if result.Created {
				created++
			}
			logger.Debug("listing grouped",
				"listing_id", listing.ID,
				"canonical_id", result.CanonicalID,
				"created", result.Created,
				"score", result.Score,
			)

			if limit > 0 && grouped >= limit {
				return grouped, created, failed, nil
			}
		}

		// Every listing in the batch failed; the next query would return the
		// same rows, so stop instead of spinning
		if !progressed {
			return grouped, created, failed, fmt.Errorf("no listing in batch of %d could be grouped", len(batch))
		}
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}
