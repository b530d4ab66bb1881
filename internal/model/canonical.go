package model

import "time"

// Canonical vehicle status values
const (
	CanonicalStatusActive   = "active"
	CanonicalStatusInactive = "inactive"
	CanonicalStatusMerged   = "merged"
)

// Price trend values
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// CanonicalVehicle represents a unique vehicle configuration that aggregates
// one or more listings. Brand and model are immutable once set; the remaining
// profile fields come from the founding listing and serve as the comparison
// profile for future candidates.
type CanonicalVehicle struct {
	ID    string `json:"id"`
	Brand string `json:"brand"`
	Model string `json:"model"`

	Year         string `json:"year,omitempty"`
	Edition      string `json:"edition,omitempty"`
	Engine       string `json:"engine,omitempty"`
	Transmission string `json:"transmission,omitempty"`
	FuelType     string `json:"fuel_type,omitempty"`
	Doors        *int   `json:"doors,omitempty"`
	BodyType     string `json:"body_type,omitempty"`

	CanonicalTitle string `json:"canonical_title"`
	Fingerprint    string `json:"-"`

	// Market data, derived from current membership. Never patched
	// incrementally; always recomputed by the stats service.
	MinPrice    *float64 `json:"min_price,omitempty"`
	MaxPrice    *float64 `json:"max_price,omitempty"`
	AvgPrice    *float64 `json:"avg_price,omitempty"`
	MedianPrice *float64 `json:"median_price,omitempty"`
	PriceTrend  string   `json:"price_trend,omitempty"`

	TotalListings     int      `json:"total_listings"`
	ActiveListings    int      `json:"active_listings"`
	TotalViews        int      `json:"total_views"`
	AverageKilometers *float64 `json:"average_kilometers,omitempty"`

	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastMarketUpdate *time.Time `json:"last_market_update,omitempty"`
}

// CanonicalStats holds the recomputed aggregates written back after a stats
// refresh. Pointer fields stay nil when no member provides the metric.
type CanonicalStats struct {
	TotalListings     int
	ActiveListings    int
	TotalViews        int
	MinPrice          *float64
	MaxPrice          *float64
	AvgPrice          *float64
	MedianPrice       *float64
	PriceTrend        string
	AverageKilometers *float64
}
