package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"meli-tracker-api/internal/client"
	"meli-tracker-api/internal/matching"
	"meli-tracker-api/internal/model"
)

type fakeSearch struct {
	results []client.SearchResult
	calls   int
}

func (f *fakeSearch) SearchCars(_ context.Context, _ string, offset int) (*client.SearchPage, error) {
	f.calls++
	page := &client.SearchPage{}
	page.Paging.Total = len(f.results)
	page.Paging.Offset = offset

	end := offset + 2 // two results per page keeps the paging logic honest
	if end > len(f.results) {
		end = len(f.results)
	}
	if offset < len(f.results) {
		page.Results = f.results[offset:end]
	}
	return page, nil
}

func (f *fakeSearch) GetItem(_ context.Context, id string) (*client.SearchResult, error) {
	for _, r := range f.results {
		if r.ID == id {
			item := r
			return &item, nil
		}
	}
	return nil, fmt.Errorf("item %s not found", id)
}

type fakeIngester struct {
	mu       sync.Mutex
	requests []model.IngestListingRequest
	seen     map[string]bool
	failFor  map[string]error
	failOnce map[string]error
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{
		seen:     map[string]bool{},
		failFor:  map[string]error{},
		failOnce: map[string]error{},
	}
}

func (f *fakeIngester) Ingest(_ context.Context, req model.IngestListingRequest) (*model.IngestListingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failFor[req.MercadoLibreID]; ok {
		return nil, err
	}
	if err, ok := f.failOnce[req.MercadoLibreID]; ok {
		delete(f.failOnce, req.MercadoLibreID)
		return nil, err
	}

	f.requests = append(f.requests, req)
	created := !f.seen[req.Brand+"|"+req.Model]
	f.seen[req.Brand+"|"+req.Model] = true

	return &model.IngestListingResponse{
		Listing:            &model.Listing{MercadoLibreID: req.MercadoLibreID},
		CanonicalVehicleID: "canonical-" + req.Brand,
		CanonicalCreated:   created,
	}, nil
}

type fakeLLM struct {
	extraction matching.TitleExtraction
	calls      int
}

func (f *fakeLLM) ExtractVehicle(_ context.Context, _ string) (matching.TitleExtraction, error) {
	f.calls++
	return f.extraction, nil
}

type fakeFailureStore struct {
	mu       sync.Mutex
	failures map[string]model.ScrapeFailure
	resolved []string
}

func newFakeFailureStore() *fakeFailureStore {
	return &fakeFailureStore{failures: map[string]model.ScrapeFailure{}}
}

func (f *fakeFailureStore) Upsert(_ context.Context, meliID, errorType, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	failure := f.failures[meliID]
	failure.MercadoLibreID = meliID
	failure.ErrorType = errorType
	failure.ErrorMessage = errorMessage
	failure.Attempts++
	f.failures[meliID] = failure
	return nil
}

func (f *fakeFailureStore) MarkResolved(_ context.Context, meliID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.failures[meliID]; ok {
		delete(f.failures, meliID)
		f.resolved = append(f.resolved, meliID)
	}
	return nil
}

func (f *fakeFailureStore) GetPendingRetries(_ context.Context, limit int) ([]model.ScrapeFailure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []model.ScrapeFailure
	for _, failure := range f.failures {
		if len(pending) >= limit {
			break
		}
		pending = append(pending, failure)
	}
	return pending, nil
}

func (f *fakeFailureStore) CountPending(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures), nil
}

func searchResult(id, title string, price float64) client.SearchResult {
	var r client.SearchResult
	r.ID = id
	r.Title = title
	r.Price = price
	return r
}

func testPipelineConfig(t *testing.T) PipelineConfig {
	t.Helper()
	cfg := DefaultPipelineConfig()
	cfg.Workers = 2
	cfg.CheckpointFile = filepath.Join(t.TempDir(), "checkpoint.json")
	cfg.EnableMonitoring = false
	return cfg
}

func TestPipelineIngestsSearchResults(t *testing.T) {
	search := &fakeSearch{results: []client.SearchResult{
		searchResult("MCO-1", "Honda Civic LX 2020", 85_000_000),
		searchResult("MCO-2", "Honda Civic EX 2021", 95_000_000),
		searchResult("MCO-3", "Toyota Corolla XEI 2020", 80_000_000),
	}}
	ingester := newFakeIngester()

	pipeline := NewPipeline(testPipelineConfig(t), search, ingester, slog.New(slog.DiscardHandler))
	if err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ingester.requests) != 3 {
		t.Fatalf("ingested %d listings, want 3", len(ingester.requests))
	}

	// Dictionary extraction filled the profile from the titles
	byID := map[string]model.IngestListingRequest{}
	for _, req := range ingester.requests {
		byID[req.MercadoLibreID] = req
	}
	if req := byID["MCO-1"]; req.Brand != "honda" || req.Model != "civic" || req.Year != "2020" {
		t.Errorf("MCO-1 profile = %q/%q/%q, want honda/civic/2020", req.Brand, req.Model, req.Year)
	}
	if req := byID["MCO-3"]; req.Brand != "toyota" || req.Model != "corolla" {
		t.Errorf("MCO-3 profile = %q/%q, want toyota/corolla", req.Brand, req.Model)
	}

	snapshot := pipeline.progress.GetSnapshot()
	if snapshot.Created != 2 {
		t.Errorf("Created = %d, want 2 (one per brand+model)", snapshot.Created)
	}
	if snapshot.Attached != 1 {
		t.Errorf("Attached = %d, want 1", snapshot.Attached)
	}
}

func TestPipelineRespectsMaxListings(t *testing.T) {
	var results []client.SearchResult
	for i := 0; i < 10; i++ {
		results = append(results,
			searchResult(fmt.Sprintf("MCO-%d", i), fmt.Sprintf("Mazda 3 Touring %d", 2015+i), 60_000_000))
	}
	search := &fakeSearch{results: results}
	ingester := newFakeIngester()

	cfg := testPipelineConfig(t)
	cfg.MaxListings = 4
	pipeline := NewPipeline(cfg, search, ingester, slog.New(slog.DiscardHandler))
	if err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ingester.requests) != 4 {
		t.Errorf("ingested %d listings, want 4", len(ingester.requests))
	}
}

func TestPipelineSkipsUnresolvableTitles(t *testing.T) {
	search := &fakeSearch{results: []client.SearchResult{
		searchResult("MCO-1", "Se vende carro muy bonito", 20_000_000),
		searchResult("MCO-2", "Honda Civic 2020", 85_000_000),
	}}
	ingester := newFakeIngester()

	pipeline := NewPipeline(testPipelineConfig(t), search, ingester, slog.New(slog.DiscardHandler))
	if err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ingester.requests) != 1 {
		t.Fatalf("ingested %d listings, want 1", len(ingester.requests))
	}
	if ingester.requests[0].MercadoLibreID != "MCO-2" {
		t.Errorf("ingested %s, want MCO-2", ingester.requests[0].MercadoLibreID)
	}
	if snapshot := pipeline.progress.GetSnapshot(); snapshot.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", snapshot.Skipped)
	}
}

func TestPipelineFallsBackToLLM(t *testing.T) {
	// A title with no dictionary brand triggers the LLM extractor
	search := &fakeSearch{results: []client.SearchResult{
		searchResult("MCO-1", "Vendo sedan japones impecable 2020", 70_000_000),
	}}
	ingester := newFakeIngester()
	llm := &fakeLLM{extraction: matching.TitleExtraction{
		Brand: "honda", Model: "civic", Year: "2020",
	}}

	pipeline := NewPipeline(testPipelineConfig(t), search, ingester, slog.New(slog.DiscardHandler))
	pipeline.SetLLMExtractor(llm)
	if err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if llm.calls != 1 {
		t.Errorf("LLM calls = %d, want 1", llm.calls)
	}
	if len(ingester.requests) != 1 {
		t.Fatalf("ingested %d listings, want 1", len(ingester.requests))
	}
	if req := ingester.requests[0]; req.Brand != "honda" || req.Model != "civic" {
		t.Errorf("profile = %q/%q, want honda/civic", req.Brand, req.Model)
	}
	if snapshot := pipeline.progress.GetSnapshot(); snapshot.LLMExtractions != 1 {
		t.Errorf("LLMExtractions = %d, want 1", snapshot.LLMExtractions)
	}
}

func TestPipelineRetriesRecordedFailures(t *testing.T) {
	search := &fakeSearch{results: []client.SearchResult{
		searchResult("MCO-1", "Honda Civic LX 2020", 85_000_000),
	}}
	ingester := newFakeIngester()
	ingester.failOnce["MCO-1"] = errors.New("database connection refused")
	failures := newFakeFailureStore()

	pipeline := NewPipeline(testPipelineConfig(t), search, ingester, slog.New(slog.DiscardHandler))
	pipeline.SetFailureStore(failures)
	if err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// First attempt failed and was recorded, the in-run retry pass re-fetched
	// the item and succeeded
	if len(ingester.requests) != 1 {
		t.Fatalf("ingested %d listings, want 1", len(ingester.requests))
	}
	if n, _ := failures.CountPending(context.Background()); n != 0 {
		t.Errorf("pending failures = %d, want 0", n)
	}
	if len(failures.resolved) != 1 || failures.resolved[0] != "MCO-1" {
		t.Errorf("resolved = %v, want [MCO-1]", failures.resolved)
	}
	snapshot := pipeline.progress.GetSnapshot()
	if snapshot.Failed != 1 {
		t.Errorf("Failed = %d, want 1 (the first attempt)", snapshot.Failed)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	mgr := NewCheckpointManager(path)

	if mgr.Exists() {
		t.Fatal("checkpoint should not exist yet")
	}

	progress := NewProgressTracker(100)
	progress.IncrementProcessed()
	progress.IncrementFailed("boom")

	if err := mgr.Save(150, "honda civic", progress); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !mgr.Exists() {
		t.Fatal("checkpoint file missing after save")
	}

	loaded, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.LastOffset != 150 || loaded.Query != "honda civic" {
		t.Errorf("loaded = offset %d query %q, want 150 / honda civic", loaded.LastOffset, loaded.Query)
	}
	if loaded.Stats.Processed != 1 || loaded.Stats.Failed != 1 {
		t.Errorf("stats = %+v, want processed 1 failed 1", loaded.Stats)
	}

	if err := mgr.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if mgr.Exists() {
		t.Error("checkpoint still exists after delete")
	}
}
