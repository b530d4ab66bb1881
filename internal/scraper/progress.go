package scraper

import (
	"sync"
	"time"
)

// ProgressTracker tracks the ingestion run. Attached/Created mirror the two
// grouping outcomes so an operator can watch canonical growth live.
type ProgressTracker struct {
	mu sync.RWMutex

	StartedAt      time.Time
	TotalListings  int
	Processed      int
	Failed         int
	Skipped        int
	CurrentListing string
	LastError      string

	// Grouping outcomes
	Attached     int
	Created      int
	PriceChanges int

	// Extraction
	LLMExtractions int

	TotalRequests int
}

func NewProgressTracker(totalListings int) *ProgressTracker {
	return &ProgressTracker{
		StartedAt:     time.Now(),
		TotalListings: totalListings,
	}
}

// SetTotal adjusts the expected listing count once the first search page
// reports it
func (p *ProgressTracker) SetTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TotalListings = total
}

func (p *ProgressTracker) IncrementProcessed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Processed++
}

func (p *ProgressTracker) IncrementFailed(err string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Failed++
	p.LastError = err
}

func (p *ProgressTracker) IncrementSkipped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Skipped++
}

func (p *ProgressTracker) IncrementAttached() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Attached++
}

func (p *ProgressTracker) IncrementCreated() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Created++
}

func (p *ProgressTracker) IncrementPriceChanges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PriceChanges++
}

func (p *ProgressTracker) IncrementLLMExtractions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LLMExtractions++
}

func (p *ProgressTracker) IncrementRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TotalRequests++
}

func (p *ProgressTracker) SetCurrentListing(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentListing = title
}

// GetSnapshot returns a point-in-time copy of the counters with derived
// rates and an ETA
func (p *ProgressTracker) GetSnapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	elapsed := time.Since(p.StartedAt)
	percentage := 0.0
	if p.TotalListings > 0 {
		percentage = (float64(p.Processed) / float64(p.TotalListings)) * 100
	}

	var eta time.Time
	var remaining time.Duration
	if p.Processed > 0 {
		avgPerListing := elapsed / time.Duration(p.Processed)
		remaining = avgPerListing * time.Duration(p.TotalListings-p.Processed)
		eta = time.Now().Add(remaining)
	}

	reqPerSecond := 0.0
	if elapsed.Seconds() > 0 {
		reqPerSecond = float64(p.TotalRequests) / elapsed.Seconds()
	}

	return ProgressSnapshot{
		Status:         "running",
		StartedAt:      p.StartedAt,
		Elapsed:        elapsed,
		TotalListings:  p.TotalListings,
		Processed:      p.Processed,
		Failed:         p.Failed,
		Skipped:        p.Skipped,
		Percentage:     percentage,
		CurrentListing: p.CurrentListing,
		LastError:      p.LastError,
		Attached:       p.Attached,
		Created:        p.Created,
		PriceChanges:   p.PriceChanges,
		LLMExtractions: p.LLMExtractions,
		TotalRequests:  p.TotalRequests,
		RequestsPerSec: reqPerSecond,
		ETA:            eta,
		Remaining:      remaining,
	}
}

// ProgressSnapshot is a point-in-time snapshot of an ingestion run
type ProgressSnapshot struct {
	Status         string
	StartedAt      time.Time
	Elapsed        time.Duration
	TotalListings  int
	Processed      int
	Failed         int
	Skipped        int
	Percentage     float64
	CurrentListing string
	LastError      string
	Attached       int
	Created        int
	PriceChanges   int
	LLMExtractions int
	TotalRequests  int
	RequestsPerSec float64
	ETA            time.Time
	Remaining      time.Duration
}
