package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"meli-tracker-api/internal/client"
	"meli-tracker-api/internal/config"
	"meli-tracker-api/internal/database"
	"meli-tracker-api/internal/repository"
	"meli-tracker-api/internal/scraper"
	"meli-tracker-api/internal/service"
)

func main() {
	var (
		// Database flags
		dbHost     = flag.String("db-host", getEnv("DB_HOST", "localhost"), "Database host")
		dbPort     = flag.Int("db-port", getEnvInt("DB_PORT", 5432), "Database port")
		dbName     = flag.String("db-name", getEnv("DB_NAME", "melitracker"), "Database name")
		dbUser     = flag.String("db-user", getEnv("DB_USER", "melitracker"), "Database user")
		dbPassword = flag.String("db-password", getEnv("DB_PASSWORD", ""), "Database password")
		dbSSLMode  = flag.String("db-sslmode", getEnv("DB_SSLMODE", "disable"), "Database SSL mode")

		// Search flags
		query       = flag.String("query", "carros usados", "MercadoLibre search query")
		maxListings = flag.Int("max-listings", 1000, "Maximum listings to ingest (API caps search depth at 1000)")
		rateLimit   = flag.Float64("rate-limit", 2.0, "MercadoLibre API requests per second")

		// LLM fallback flags - the dictionary extractor handles most titles,
		// an LLM is only consulted when it cannot resolve a brand
		groqAPIKeys = flag.String("groq-api-keys", getEnv("GROQ_API_KEYS", getEnv("GROQ_API_KEY", "")), "Groq API keys (comma-separated for failover, empty disables Groq)")
		groqRPM     = flag.Int("groq-rpm", 30, "Groq requests per minute per key (free tier: 30)")
		ollamaURL   = flag.String("ollama-url", getEnv("OLLAMA_URL", ""), "Ollama base URL (empty disables Ollama)")
		ollamaModel = flag.String("ollama-model", getEnv("OLLAMA_MODEL", ""), "Ollama model name")

		// Pipeline flags
		workers         = flag.Int("workers", 5, "Number of concurrent ingestion workers")
		checkpointEvery = flag.Int("checkpoint-every", 100, "Save checkpoint every N listings")
		checkpointFile  = flag.String("checkpoint-file", "ingest_checkpoint.json", "Checkpoint file path")
		resumeOffset    = flag.Int("resume-offset", 0, "Resume from specific search offset")
		dryRun          = flag.Bool("dry-run", false, "Dry run mode (extract and log, don't write)")
		monitorPort     = flag.Int("monitor-port", 9090, "HTTP monitoring server port")
		noMonitor       = flag.Bool("no-monitor", false, "Disable HTTP monitoring")
		logLevel        = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	)

	flag.Parse()

	if *dbPassword == "" {
		fmt.Fprintln(os.Stderr, "Error: database password is required (use -db-password or DB_PASSWORD env)")
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)
	slog.SetDefault(logger)

	logger.Info("starting MercadoLibre ingestion",
		"query", *query,
		"max_listings", *maxListings,
		"workers", *workers,
		"rate_limit_rps", *rateLimit,
		"dry_run", *dryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down gracefully", "signal", sig)
		cancel()
	}()

	dbConfig := config.DatabaseConfig{
		Host:     *dbHost,
		Port:     *dbPort,
		Name:     *dbName,
		User:     *dbUser,
		Password: *dbPassword,
		SSLMode:  *dbSSLMode,
		MaxConns: 25,
		MinConns: 5,
	}

	dbPool, err := database.NewPostgresPool(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := database.RunMigrations(ctx, dbPool); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database ready")

	canonicalRepo := repository.NewCanonicalRepo(dbPool)
	listingRepo := repository.NewListingRepo(dbPool)
	historyRepo := repository.NewPriceHistoryRepo(dbPool)
	failureRepo := repository.NewScrapeFailureRepo(dbPool)

	statsSvc := service.NewStatsService(canonicalRepo, listingRepo, logger)
	groupingSvc := service.NewGroupingService(canonicalRepo, listingRepo, statsSvc, logger)
	ingestSvc := service.NewIngestService(listingRepo, historyRepo, groupingSvc, statsSvc, logger)

	meliClient := client.NewMercadoLibreClient(*rateLimit)
	defer meliClient.Close()

	pipelineConfig := scraper.DefaultPipelineConfig()
	pipelineConfig.Workers = *workers
	pipelineConfig.Query = *query
	pipelineConfig.MaxListings = *maxListings
	pipelineConfig.CheckpointEvery = *checkpointEvery
	pipelineConfig.CheckpointFile = *checkpointFile
	pipelineConfig.ResumeOffset = *resumeOffset
	pipelineConfig.DryRun = *dryRun
	pipelineConfig.HTTPMonitorPort = *monitorPort
	pipelineConfig.EnableMonitoring = !*noMonitor

	pipeline := scraper.NewPipeline(pipelineConfig, meliClient, ingestSvc, logger)
	pipeline.SetFailureStore(failureRepo)

	if extractor := buildLLMExtractor(ctx, *groqAPIKeys, *groqRPM, *ollamaURL, *ollamaModel, logger); extractor != nil {
		pipeline.SetLLMExtractor(extractor)
	}

	if err := pipeline.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("ingestion cancelled")
			os.Exit(0)
		}
		logger.Error("ingestion failed", "error", err)
		os.Exit(1)
	}

	logger.Info("ingestion completed successfully")
}

// buildLLMExtractor picks the title extraction backend: Groq when keys are
// configured, otherwise a local Ollama instance, otherwise none
func buildLLMExtractor(ctx context.Context, groqKeys string, groqRPM int, ollamaURL, ollamaModel string, logger *slog.Logger) client.TitleExtractor {
	if keys := parseAPIKeys(groqKeys); len(keys) > 0 {
		logger.Info("LLM fallback enabled", "backend", "groq", "keys", len(keys))
		return client.NewGroqClient(keys, float64(groqRPM), logger)
	}

	if ollamaURL != "" {
		ollama := client.NewOllamaClient(ollamaURL, ollamaModel, logger)
		if err := ollama.Ping(ctx); err != nil {
			logger.Warn("Ollama unreachable, LLM fallback disabled", "url", ollamaURL, "error", err)
			return nil
		}
		logger.Info("LLM fallback enabled", "backend", "ollama", "url", ollamaURL)
		return ollama
	}

	logger.Info("no LLM configured, title extraction is dictionary-only")
	return nil
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

// parseAPIKeys splits comma-separated API keys and filters empty ones
func parseAPIKeys(keysStr string) []string {
	parts := strings.Split(keysStr, ",")
	var keys []string
	for _, k := range parts {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
