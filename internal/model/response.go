package model

import "time"

// IngestListingRequest is the payload for POST /listings
type IngestListingRequest struct {
	MercadoLibreID string   `json:"mercadolibre_id"`
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	Price          string   `json:"price,omitempty"`
	PriceNumeric   *float64 `json:"price_numeric,omitempty"`
	Kilometers     string   `json:"kilometers,omitempty"`
	Location       string   `json:"location,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	Brand          string   `json:"brand,omitempty"`
	Model          string   `json:"model,omitempty"`
	Year           string   `json:"year,omitempty"`
	Edition        string   `json:"edition,omitempty"`
	Engine         string   `json:"engine,omitempty"`
	Transmission   string   `json:"transmission,omitempty"`
	FuelType       string   `json:"fuel_type,omitempty"`
	Color          string   `json:"color,omitempty"`
	Doors          *int     `json:"doors,omitempty"`
}

// IngestListingResponse reports the grouping outcome for an ingested listing
type IngestListingResponse struct {
	Listing            *Listing `json:"listing"`
	CanonicalVehicleID string   `json:"canonical_vehicle_id"`
	CanonicalCreated   bool     `json:"canonical_created"`
}

// UpdatePriceRequest is the payload for PUT /listings/{id}/price
type UpdatePriceRequest struct {
	Price        string  `json:"price,omitempty"`
	PriceNumeric float64 `json:"price_numeric"`
}

// CanonicalVehiclePage is a paginated canonical vehicle list
type CanonicalVehiclePage struct {
	CanonicalVehicles []CanonicalVehicle `json:"canonical_vehicles"`
	TotalCount        int                `json:"total_count"`
	Page              int                `json:"page"`
	PageSize          int                `json:"page_size"`
	TotalPages        int                `json:"total_pages"`
	HasNext           bool               `json:"has_next"`
	HasPrevious       bool               `json:"has_previous"`
}

// MergeResponse reports the result of merging two canonical vehicles
type MergeResponse struct {
	SourceID       string `json:"source_id"`
	TargetID       string `json:"target_id"`
	MovedListings  int    `json:"moved_listings"`
	TargetListings int    `json:"target_listings"`
}

// HealthResponse is the health check payload
type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is a generic error payload
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
