package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"meli-tracker-api/internal/matching"
	"meli-tracker-api/internal/model"
	"meli-tracker-api/internal/parser"
	"meli-tracker-api/internal/repository"
)

// ErrInvalidListing is returned when an ingest request lacks required fields
var ErrInvalidListing = errors.New("invalid listing")

// ListingIngestStore is the listing persistence the ingest flow needs
type ListingIngestStore interface {
	Insert(ctx context.Context, l *model.Listing) error
	GetByMercadoLibreID(ctx context.Context, meliID string) (*model.Listing, error)
	UpdatePrice(ctx context.Context, id, price string, priceNumeric float64) error
	SetStatus(ctx context.Context, id, status string) error
}

// PriceHistoryStore records observed price changes
type PriceHistoryStore interface {
	Record(ctx context.Context, listingID string, oldPrice *float64, newPrice float64) error
}

// IngestService turns a raw scraped or posted listing into a stored, grouped
// one. Re-ingesting a known marketplace listing updates its price (recording
// the change) instead of duplicating it.
type IngestService struct {
	listings ListingIngestStore
	history  PriceHistoryStore
	grouping *GroupingService
	stats    *StatsService
	logger   *slog.Logger
}

func NewIngestService(
	listings ListingIngestStore,
	history PriceHistoryStore,
	grouping *GroupingService,
	stats *StatsService,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		listings: listings,
		history:  history,
		grouping: grouping,
		stats:    stats,
		logger:   logger,
	}
}

// Ingest stores or updates the listing and resolves its canonical vehicle
func (s *IngestService) Ingest(ctx context.Context, req model.IngestListingRequest) (*model.IngestListingResponse, error) {
	if req.MercadoLibreID == "" {
		return nil, fmt.Errorf("%w: mercadolibre_id is required", ErrInvalidListing)
	}
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidListing)
	}

	existing, err := s.listings.GetByMercadoLibreID(ctx, req.MercadoLibreID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up listing: %w", err)
	}
	if existing != nil {
		return s.reingest(ctx, existing, req)
	}

	listing := listingFromRequest(req)
	enrichFromTitle(listing)

	if err := s.listings.Insert(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to insert listing: %w", err)
	}

	result, err := s.grouping.GroupListing(ctx, listing)
	if err != nil {
		// The listing is stored; grouping is retried by the regroup backfill
		s.logger.Error("grouping failed for new listing",
			"listing_id", listing.ID,
			"mercadolibre_id", listing.MercadoLibreID,
			"error", err,
		)
		return &model.IngestListingResponse{Listing: listing}, nil
	}

	return &model.IngestListingResponse{
		Listing:            listing,
		CanonicalVehicleID: result.CanonicalID,
		CanonicalCreated:   result.Created,
	}, nil
}

// reingest handles a marketplace listing seen before: refresh its price and
// make sure it is grouped
func (s *IngestService) reingest(ctx context.Context, existing *model.Listing, req model.IngestListingRequest) (*model.IngestListingResponse, error) {
	newPrice, hasPrice := requestPrice(req)
	if hasPrice && priceChanged(existing.PriceNumeric, newPrice) {
		if err := s.listings.UpdatePrice(ctx, existing.ID, req.Price, newPrice); err != nil {
			return nil, fmt.Errorf("failed to update listing price: %w", err)
		}
		if err := s.history.Record(ctx, existing.ID, existing.PriceNumeric, newPrice); err != nil {
			s.logger.Error("failed to record price change",
				"listing_id", existing.ID, "error", err)
		}
		s.logger.Info("listing price changed",
			"listing_id", existing.ID,
			"old_price", existing.PriceNumeric,
			"new_price", newPrice,
		)
		existing.Price = req.Price
		existing.PriceNumeric = &newPrice
	}

	// A listing seen again on the marketplace is active by definition
	if existing.Status != model.ListingStatusActive {
		if err := s.listings.SetStatus(ctx, existing.ID, model.ListingStatusActive); err != nil {
			return nil, fmt.Errorf("failed to reactivate listing: %w", err)
		}
		existing.Status = model.ListingStatusActive
	}

	result, err := s.grouping.GroupListing(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to group listing: %w", err)
	}

	return &model.IngestListingResponse{
		Listing:            existing,
		CanonicalVehicleID: result.CanonicalID,
		CanonicalCreated:   result.Created,
	}, nil
}

// UpdatePrice records a manual price correction on a listing and refreshes
// its canonical vehicle's aggregates
func (s *IngestService) UpdatePrice(ctx context.Context, listing *model.Listing, price string, priceNumeric float64) error {
	if priceNumeric <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidListing)
	}

	if err := s.listings.UpdatePrice(ctx, listing.ID, price, priceNumeric); err != nil {
		return fmt.Errorf("failed to update listing price: %w", err)
	}
	if priceChanged(listing.PriceNumeric, priceNumeric) {
		if err := s.history.Record(ctx, listing.ID, listing.PriceNumeric, priceNumeric); err != nil {
			s.logger.Error("failed to record price change",
				"listing_id", listing.ID, "error", err)
		}
	}

	if listing.CanonicalVehicleID != "" {
		if _, err := s.stats.Refresh(ctx, listing.CanonicalVehicleID); err != nil {
			s.logger.Error("stats refresh after price update failed",
				"canonical_id", listing.CanonicalVehicleID, "error", err)
		}
	}
	return nil
}

func listingFromRequest(req model.IngestListingRequest) *model.Listing {
	l := &model.Listing{
		MercadoLibreID: req.MercadoLibreID,
		URL:            req.URL,
		Title:          req.Title,
		Price:          req.Price,
		PriceNumeric:   req.PriceNumeric,
		Kilometers:     req.Kilometers,
		Location:       req.Location,
		ImageURL:       req.ImageURL,
		Brand:          req.Brand,
		Model:          req.Model,
		Year:           req.Year,
		Edition:        req.Edition,
		Engine:         req.Engine,
		Transmission:   req.Transmission,
		FuelType:       req.FuelType,
		Color:          req.Color,
		Doors:          req.Doors,
		Status:         model.ListingStatusActive,
	}

	if l.PriceNumeric == nil && l.Price != "" {
		if p, ok := parser.ParsePrice(l.Price); ok {
			l.PriceNumeric = &p
		}
	}
	if l.KmNumeric == nil && l.Kilometers != "" {
		if km, ok := parser.ParseKilometers(l.Kilometers); ok {
			l.KmNumeric = &km
		}
	}
	return l
}

// enrichFromTitle fills comparison fields the caller did not provide from the
// free-text title. Explicit values always win over extracted ones.
func enrichFromTitle(l *model.Listing) {
	if l.Brand != "" && l.Model != "" && l.Year != "" {
		return
	}
	ext := matching.ExtractFromTitle(l.Title)
	if l.Brand == "" {
		l.Brand = ext.Brand
	}
	if l.Model == "" {
		l.Model = ext.Model
	}
	if l.Year == "" {
		l.Year = ext.Year
	}
	if l.Edition == "" {
		l.Edition = ext.Edition
	}
	if l.Engine == "" {
		l.Engine = ext.Engine
	}
	if l.Transmission == "" {
		l.Transmission = ext.Transmission
	}
	if l.BodyType == "" {
		l.BodyType = ext.BodyType
	}
}

func requestPrice(req model.IngestListingRequest) (float64, bool) {
	if req.PriceNumeric != nil && *req.PriceNumeric > 0 {
		return *req.PriceNumeric, true
	}
	if req.Price != "" {
		return parser.ParsePrice(req.Price)
	}
	return 0, false
}

func priceChanged(old *float64, newPrice float64) bool {
	return old == nil || *old != newPrice
}
