package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"meli-tracker-api/internal/model"
	"meli-tracker-api/internal/parser"
)

// trendFloor is the relative price change below which the market is
// considered stable, so ordinary noise is not flagged as a trend
const trendFloor = 0.01

// CanonicalStore defines what the services need from canonical vehicle
// persistence
type CanonicalStore interface {
	FindActiveByBrandModel(ctx context.Context, brand, modelName string) ([]model.CanonicalVehicle, error)
	GetByID(ctx context.Context, id string) (*model.CanonicalVehicle, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*model.CanonicalVehicle, error)
	Insert(ctx context.Context, cv *model.CanonicalVehicle) error
	UpdateStats(ctx context.Context, id string, stats model.CanonicalStats) error
	SetStatus(ctx context.Context, id, status string) error
}

// ListingStore defines what the services need from listing persistence
type ListingStore interface {
	ListByCanonical(ctx context.Context, canonicalID, statusFilter string) ([]model.Listing, error)
	SetCanonicalID(ctx context.Context, listingID, canonicalID string) error
	ReassignCanonical(ctx context.Context, sourceID, targetID string) (int, error)
}

// StatsService recomputes a canonical vehicle's market aggregates from its
// current member listings. Aggregates are derived data: they are always
// rebuilt from membership, never patched incrementally, so they cannot
// drift.
type StatsService struct {
	canonicals CanonicalStore
	listings   ListingStore
	logger     *slog.Logger
}

func NewStatsService(canonicals CanonicalStore, listings ListingStore, logger *slog.Logger) *StatsService {
	return &StatsService{
		canonicals: canonicals,
		listings:   listings,
		logger:     logger,
	}
}

// Refresh recomputes and persists the aggregates for one canonical vehicle.
// Callable standalone (manual trigger) and after every grouping transition
// or member price change. A canonical vehicle with no remaining members
// resets to empty aggregates rather than erroring.
func (s *StatsService) Refresh(ctx context.Context, canonicalID string) (model.CanonicalStats, error) {
	current, err := s.canonicals.GetByID(ctx, canonicalID)
	if err != nil {
		return model.CanonicalStats{}, fmt.Errorf("failed to load canonical vehicle: %w", err)
	}

	members, err := s.listings.ListByCanonical(ctx, canonicalID, "")
	if err != nil {
		return model.CanonicalStats{}, fmt.Errorf("failed to load member listings: %w", err)
	}

	stats := computeStats(members, current.AvgPrice)

	if err := s.canonicals.UpdateStats(ctx, canonicalID, stats); err != nil {
		return model.CanonicalStats{}, fmt.Errorf("failed to persist stats: %w", err)
	}

	s.logger.Debug("canonical stats refreshed",
		"canonical_id", canonicalID,
		"total_listings", stats.TotalListings,
		"active_listings", stats.ActiveListings,
		"price_trend", stats.PriceTrend,
	)

	return stats, nil
}

// computeStats derives the full aggregate set from the member listings.
// previousAvg is the stored average before this refresh, used for the trend.
func computeStats(members []model.Listing, previousAvg *float64) model.CanonicalStats {
	stats := model.CanonicalStats{
		TotalListings: len(members),
	}

	var prices []float64
	var kilometers []float64

	for _, l := range members {
		if l.Status == model.ListingStatusRemoved {
			continue
		}
		stats.ActiveListings++
		stats.TotalViews += l.ViewsCount

		// A member with an unparsable price stays in the counts but out of
		// the price aggregates
		if price, ok := listingPrice(l); ok {
			prices = append(prices, price)
		}
		if km, ok := listingKilometers(l); ok {
			kilometers = append(kilometers, km)
		}
	}

	if len(prices) > 0 {
		sort.Float64s(prices)

		minPrice := prices[0]
		maxPrice := prices[len(prices)-1]
		sum := 0.0
		for _, p := range prices {
			sum += p
		}
		avg := sum / float64(len(prices))
		median := medianOf(prices)

		stats.MinPrice = &minPrice
		stats.MaxPrice = &maxPrice
		stats.AvgPrice = &avg
		stats.MedianPrice = &median
		stats.PriceTrend = priceTrend(previousAvg, avg)
	}

	if len(kilometers) > 0 {
		sum := 0.0
		for _, km := range kilometers {
			sum += km
		}
		avgKm := sum / float64(len(kilometers))
		stats.AverageKilometers = &avgKm
	}

	return stats
}

func listingPrice(l model.Listing) (float64, bool) {
	if l.PriceNumeric != nil && *l.PriceNumeric > 0 {
		return *l.PriceNumeric, true
	}
	return parser.ParsePrice(l.Price)
}

func listingKilometers(l model.Listing) (float64, bool) {
	if l.KmNumeric != nil {
		return *l.KmNumeric, true
	}
	return parser.ParseKilometers(l.Kilometers)
}

// medianOf expects prices sorted ascending
func medianOf(prices []float64) float64 {
	n := len(prices)
	if n%2 == 1 {
		return prices[n/2]
	}
	return (prices[n/2-1] + prices[n/2]) / 2
}

// priceTrend compares the fresh average against the previously stored one
func priceTrend(previous *float64, current float64) string {
	if previous == nil || *previous <= 0 {
		return model.TrendStable
	}
	change := (current - *previous) / *previous
	switch {
	case math.Abs(change) <= trendFloor:
		return model.TrendStable
	case change > 0:
		return model.TrendUp
	default:
		return model.TrendDown
	}
}
