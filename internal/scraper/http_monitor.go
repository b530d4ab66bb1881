package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPMonitor exposes the progress tracker over HTTP so a running ingestion
// can be watched without tailing logs
type HTTPMonitor struct {
	server   *http.Server
	progress *ProgressTracker
}

func NewHTTPMonitor(port int, progress *ProgressTracker) *HTTPMonitor {
	mux := http.NewServeMux()

	monitor := &HTTPMonitor{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		progress: progress,
	}

	mux.HandleFunc("/status", monitor.handleStatus)
	mux.HandleFunc("/health", monitor.handleHealth)

	return monitor
}

// Start starts the HTTP server in a goroutine
func (m *HTTPMonitor) Start() error {
	go func() {
		slog.Info("starting HTTP monitor", "addr", m.server.Addr)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP monitor error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server
func (m *HTTPMonitor) Stop(ctx context.Context) error {
	slog.Info("stopping HTTP monitor")
	return m.server.Shutdown(ctx)
}

func (m *HTTPMonitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := m.progress.GetSnapshot()

	response := map[string]interface{}{
		"status":     snapshot.Status,
		"started_at": snapshot.StartedAt.Format(time.RFC3339),
		"elapsed":    snapshot.Elapsed.String(),
		"progress": map[string]interface{}{
			"total_listings": snapshot.TotalListings,
			"processed":      snapshot.Processed,
			"failed":         snapshot.Failed,
			"skipped":        snapshot.Skipped,
			"percentage":     fmt.Sprintf("%.2f", snapshot.Percentage),
		},
		"grouping": map[string]interface{}{
			"attached":      snapshot.Attached,
			"created":       snapshot.Created,
			"price_changes": snapshot.PriceChanges,
		},
		"extraction": map[string]interface{}{
			"llm_extractions": snapshot.LLMExtractions,
		},
		"rate": map[string]interface{}{
			"current_rps": fmt.Sprintf("%.2f", snapshot.RequestsPerSec),
		},
		"eta": map[string]interface{}{
			"remaining_listings":   snapshot.TotalListings - snapshot.Processed,
			"estimated_completion": snapshot.ETA.Format(time.RFC3339),
			"time_remaining":       snapshot.Remaining.String(),
		},
		"last_error":      snapshot.LastError,
		"current_listing": snapshot.CurrentListing,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (m *HTTPMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}
