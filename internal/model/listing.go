package model

import "time"

// Listing status values
const (
	ListingStatusActive  = "active"
	ListingStatusSold    = "sold"
	ListingStatusPaused  = "paused"
	ListingStatusRemoved = "removed"
)

// Listing represents a single scraped marketplace record for one
// vehicle-for-sale instance.
type Listing struct {
	ID             string   `json:"id"`
	MercadoLibreID string   `json:"mercadolibre_id"`
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	Price          string   `json:"price,omitempty"`
	PriceNumeric   *float64 `json:"price_numeric,omitempty"`
	Kilometers     string   `json:"kilometers,omitempty"`
	KmNumeric      *float64 `json:"km_numeric,omitempty"`
	Location       string   `json:"location,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`

	Brand        string `json:"brand,omitempty"`
	Model        string `json:"model,omitempty"`
	Year         string `json:"year,omitempty"`
	Edition      string `json:"edition,omitempty"`
	Engine       string `json:"engine,omitempty"`
	Transmission string `json:"transmission,omitempty"`
	FuelType     string `json:"fuel_type,omitempty"`
	Color        string `json:"color,omitempty"`
	Doors        *int   `json:"doors,omitempty"`
	BodyType     string `json:"body_type,omitempty"`

	CanonicalVehicleID string    `json:"canonical_vehicle_id,omitempty"`
	Status             string    `json:"status"`
	ViewsCount         int       `json:"views_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PriceChange is one entry in a listing's price history
type PriceChange struct {
	ID         string    `json:"id"`
	ListingID  string    `json:"listing_id"`
	OldPrice   *float64  `json:"old_price,omitempty"`
	NewPrice   float64   `json:"new_price"`
	RecordedAt time.Time `json:"recorded_at"`
}
