package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"meli-tracker-api/internal/client"
	"meli-tracker-api/internal/matching"
	"meli-tracker-api/internal/model"
)

// SearchClient fetches listing pages and single listings from the marketplace
type SearchClient interface {
	SearchCars(ctx context.Context, query string, offset int) (*client.SearchPage, error)
	GetItem(ctx context.Context, id string) (*client.SearchResult, error)
}

// Ingester stores a scraped listing and resolves its canonical vehicle
type Ingester interface {
	Ingest(ctx context.Context, req model.IngestListingRequest) (*model.IngestListingResponse, error)
}

// FailureStore tracks listings that failed to ingest, for scheduled retries
type FailureStore interface {
	Upsert(ctx context.Context, meliID, errorType, errorMessage string) error
	MarkResolved(ctx context.Context, meliID string) error
	GetPendingRetries(ctx context.Context, limit int) ([]model.ScrapeFailure, error)
	CountPending(ctx context.Context) (int, error)
}

// PipelineConfig holds configuration for an ingestion run
type PipelineConfig struct {
	Workers          int
	Query            string
	MaxListings      int
	PageSize         int
	CheckpointEvery  int
	CheckpointFile   string
	ResumeOffset     int
	DryRun           bool
	HTTPMonitorPort  int
	EnableMonitoring bool
}

// DefaultPipelineConfig returns default configuration
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:          5,
		MaxListings:      1000,
		PageSize:         50,
		CheckpointEvery:  100,
		CheckpointFile:   "ingest_checkpoint.json",
		DryRun:           false,
		HTTPMonitorPort:  9090,
		EnableMonitoring: true,
	}
}

// Pipeline walks the marketplace search pages and feeds every listing through
// extraction, ingestion and grouping
type Pipeline struct {
	config     PipelineConfig
	search     SearchClient
	ingester   Ingester
	failures   FailureStore
	llm        client.TitleExtractor
	checkpoint *CheckpointManager
	progress   *ProgressTracker
	monitor    *HTTPMonitor
	logger     *slog.Logger
}

func NewPipeline(
	config PipelineConfig,
	search SearchClient,
	ingester Ingester,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		config:     config,
		search:     search,
		ingester:   ingester,
		checkpoint: NewCheckpointManager(config.CheckpointFile),
		logger:     logger,
	}
}

// SetFailureStore enables failure tracking with retry scheduling
func (p *Pipeline) SetFailureStore(store FailureStore) {
	p.failures = store
}

// SetLLMExtractor enables the LLM fallback for titles the dictionary
// extractor cannot resolve
func (p *Pipeline) SetLLMExtractor(extractor client.TitleExtractor) {
	p.llm = extractor
}

// Run executes the ingestion pipeline until the search is exhausted, the
// listing cap is reached, or the context is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("starting ingestion pipeline",
		"workers", p.config.Workers,
		"query", p.config.Query,
		"max_listings", p.config.MaxListings,
		"dry_run", p.config.DryRun,
	)

	startOffset := p.resolveStartOffset()
	p.progress = NewProgressTracker(p.config.MaxListings)

	if p.config.EnableMonitoring {
		p.monitor = NewHTTPMonitor(p.config.HTTPMonitorPort, p.progress)
		if err := p.monitor.Start(); err != nil {
			p.logger.Warn("failed to start HTTP monitor", "error", err)
		} else {
			p.logger.Info("HTTP monitoring started", "port", p.config.HTTPMonitorPort)
			defer p.monitor.Stop(context.Background())
		}
	}

	workQueue := make(chan client.SearchResult, p.config.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, workQueue, &wg)
	}

	err := p.feedQueue(ctx, startOffset, workQueue)

	close(workQueue)
	wg.Wait()

	if err == nil {
		p.retryPendingFailures(ctx)
	}

	p.printFinalStats(ctx)
	return err
}

// retryBatchLimit caps how many previously failed listings are re-attempted
// per run
const retryBatchLimit = 100

// retryPendingFailures re-fetches listings whose earlier ingestion failed and
// whose retry time has passed. Runs after the main pass so failures recorded
// during this run are eligible; the batch is small and already rate-limited,
// so it processes sequentially.
func (p *Pipeline) retryPendingFailures(ctx context.Context) {
	if p.failures == nil || p.config.DryRun {
		return
	}

	pending, err := p.failures.GetPendingRetries(ctx, retryBatchLimit)
	if err != nil {
		p.logger.Warn("failed to load pending retries", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	p.logger.Info("retrying previously failed listings", "count", len(pending))

	for _, failure := range pending {
		if ctx.Err() != nil {
			return
		}
		item, err := p.search.GetItem(ctx, failure.MercadoLibreID)
		if err != nil {
			p.logger.Debug("retry fetch failed",
				"mercadolibre_id", failure.MercadoLibreID,
				"error", err,
			)
			continue
		}
		p.processListing(ctx, *item)
	}
}

// resolveStartOffset picks the resume point: an explicit flag wins, then a
// checkpoint for the same query, then zero
func (p *Pipeline) resolveStartOffset() int {
	if p.config.ResumeOffset > 0 {
		p.logger.Info("resuming from explicit offset", "offset", p.config.ResumeOffset)
		return p.config.ResumeOffset
	}

	if !p.checkpoint.Exists() {
		return 0
	}
	checkpoint, err := p.checkpoint.Load()
	if err != nil {
		p.logger.Warn("failed to load checkpoint, starting fresh", "error", err)
		return 0
	}
	if checkpoint == nil || checkpoint.Query != p.config.Query {
		return 0
	}

	p.logger.Info("resuming from checkpoint",
		"offset", checkpoint.LastOffset,
		"saved_at", checkpoint.SavedAt,
	)
	return checkpoint.LastOffset
}

// feedQueue pages through the search results and enqueues each listing
func (p *Pipeline) feedQueue(ctx context.Context, startOffset int, queue chan<- client.SearchResult) error {
	enqueued := 0
	sinceCheckpoint := 0
	offset := startOffset

	for enqueued < p.config.MaxListings {
		p.progress.IncrementRequests()
		page, err := p.search.SearchCars(ctx, p.config.Query, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("search page at offset %d failed: %w", offset, err)
		}

		if offset == startOffset {
			total := page.Paging.Total
			if total > p.config.MaxListings {
				total = p.config.MaxListings
			}
			p.progress.SetTotal(total)
			p.logger.Info("search opened",
				"total_available", page.Paging.Total,
				"will_process", total,
			)
		}

		if len(page.Results) == 0 {
			p.logger.Info("search exhausted", "offset", offset)
			break
		}

		for _, result := range page.Results {
			if enqueued >= p.config.MaxListings {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case queue <- result:
				enqueued++
				sinceCheckpoint++
			}
		}

		offset += len(page.Results)

		if sinceCheckpoint >= p.config.CheckpointEvery {
			if err := p.checkpoint.Save(offset, p.config.Query, p.progress); err != nil {
				p.logger.Warn("failed to save checkpoint", "error", err)
			}
			sinceCheckpoint = 0
		}
	}

	if err := p.checkpoint.Save(offset, p.config.Query, p.progress); err != nil {
		p.logger.Warn("failed to save final checkpoint", "error", err)
	}
	return nil
}

// worker ingests listings from the queue
func (p *Pipeline) worker(ctx context.Context, id int, queue <-chan client.SearchResult, wg *sync.WaitGroup) {
	defer wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	processed := 0
	for result := range queue {
		if ctx.Err() != nil {
			p.logger.Info("worker stopping, context cancelled", "worker_id", id)
			return
		}
		p.processListing(ctx, result)
		processed++
	}

	p.logger.Debug("worker finished", "worker_id", id, "processed", processed)
}

// processListing converts one search result into an ingestion and records
// the grouping outcome
func (p *Pipeline) processListing(ctx context.Context, result client.SearchResult) {
	p.progress.SetCurrentListing(result.Title)
	p.progress.IncrementProcessed()

	req := result.ToIngestRequest()
	p.resolveProfile(ctx, &req)

	if req.Brand == "" {
		p.logger.Debug("no brand resolved, skipping",
			"mercadolibre_id", req.MercadoLibreID,
			"title", req.Title,
		)
		p.progress.IncrementSkipped()
		p.saveFailure(ctx, req.MercadoLibreID, "no brand in title: "+req.Title)
		return
	}

	if p.config.DryRun {
		p.logger.Info("dry run - would ingest",
			"mercadolibre_id", req.MercadoLibreID,
			"brand", req.Brand,
			"model", req.Model,
			"year", req.Year,
		)
		p.progress.IncrementSkipped()
		return
	}

	resp, err := p.ingester.Ingest(ctx, req)
	if err != nil {
		p.logger.Warn("ingest failed",
			"mercadolibre_id", req.MercadoLibreID,
			"error", err,
		)
		p.progress.IncrementFailed(err.Error())
		p.saveFailure(ctx, req.MercadoLibreID, err.Error())
		return
	}

	if resp.CanonicalCreated {
		p.progress.IncrementCreated()
	} else if resp.CanonicalVehicleID != "" {
		p.progress.IncrementAttached()
	}

	p.markFailureResolved(ctx, req.MercadoLibreID)
}

// resolveProfile fills missing comparison fields: marketplace attributes
// first, then the dictionary extractor, then the LLM as a last resort
func (p *Pipeline) resolveProfile(ctx context.Context, req *model.IngestListingRequest) {
	if req.Brand != "" && req.Model != "" {
		return
	}

	ext := matching.ExtractFromTitle(req.Title)
	if ext.Brand == "" && p.llm != nil {
		llmExt, err := p.llm.ExtractVehicle(ctx, req.Title)
		if err != nil {
			p.logger.Debug("LLM extraction failed",
				"mercadolibre_id", req.MercadoLibreID,
				"error", err,
			)
		} else {
			ext = llmExt
			p.progress.IncrementLLMExtractions()
		}
	}

	if req.Brand == "" {
		req.Brand = ext.Brand
	}
	if req.Model == "" {
		req.Model = ext.Model
	}
	if req.Year == "" {
		req.Year = ext.Year
	}
	if req.Edition == "" {
		req.Edition = ext.Edition
	}
	if req.Engine == "" {
		req.Engine = ext.Engine
	}
	if req.Transmission == "" {
		req.Transmission = ext.Transmission
	}
}

func (p *Pipeline) saveFailure(ctx context.Context, meliID, errMsg string) {
	if p.failures == nil {
		return
	}
	errorType := model.ClassifyError(errMsg)
	if err := p.failures.Upsert(ctx, meliID, errorType, errMsg); err != nil {
		p.logger.Warn("failed to save failure record",
			"mercadolibre_id", meliID,
			"error", err,
		)
	}
}

func (p *Pipeline) markFailureResolved(ctx context.Context, meliID string) {
	if p.failures == nil {
		return
	}
	if err := p.failures.MarkResolved(ctx, meliID); err != nil {
		p.logger.Debug("failed to mark failure resolved",
			"mercadolibre_id", meliID,
			"error", err,
		)
	}
}

func (p *Pipeline) printFinalStats(ctx context.Context) {
	snapshot := p.progress.GetSnapshot()

	if p.failures != nil && ctx.Err() == nil {
		if unresolved, err := p.failures.CountPending(ctx); err == nil {
			p.logger.Info("unresolved failures remaining", "count", unresolved)
		}
	}

	p.logger.Info("ingestion completed",
		"elapsed", snapshot.Elapsed.String(),
		"total", snapshot.TotalListings,
		"processed", snapshot.Processed,
		"attached", snapshot.Attached,
		"created", snapshot.Created,
		"failed", snapshot.Failed,
		"skipped", snapshot.Skipped,
		"llm_extractions", snapshot.LLMExtractions,
		"total_requests", snapshot.TotalRequests,
		"req_per_sec", fmt.Sprintf("%.2f", snapshot.RequestsPerSec),
	)
}
