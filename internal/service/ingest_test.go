package service

import (
	"context"
	"errors"
	"testing"

	"meli-tracker-api/internal/model"
	"meli-tracker-api/internal/repository"
)

// fakeIngestStore adds the listing-ingest methods the shared fakeStore cannot
// carry itself (its Insert belongs to the canonical side)
type fakeIngestStore struct {
	*fakeStore
}

func (f *fakeIngestStore) Insert(_ context.Context, l *model.Listing) error {
	f.addListing(l)
	return nil
}

func (f *fakeIngestStore) GetByMercadoLibreID(_ context.Context, meliID string) (*model.Listing, error) {
	for _, l := range f.listings {
		if l.MercadoLibreID == meliID {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeIngestStore) UpdatePrice(_ context.Context, id, price string, priceNumeric float64) error {
	for _, l := range f.listings {
		if l.ID == id {
			l.Price = price
			l.PriceNumeric = &priceNumeric
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeIngestStore) SetStatus(_ context.Context, id, status string) error {
	for _, l := range f.listings {
		if l.ID == id {
			l.Status = status
			return nil
		}
	}
	return repository.ErrNotFound
}

type priceRecord struct {
	listingID string
	oldPrice  *float64
	newPrice  float64
}

type fakeHistory struct {
	records []priceRecord
}

func (f *fakeHistory) Record(_ context.Context, listingID string, oldPrice *float64, newPrice float64) error {
	f.records = append(f.records, priceRecord{listingID, oldPrice, newPrice})
	return nil
}

func newIngestService(store *fakeStore, history *fakeHistory) *IngestService {
	logger := testLogger()
	stats := NewStatsService(store, store, logger)
	grouping := NewGroupingService(store, store, stats, logger)
	return NewIngestService(&fakeIngestStore{store}, history, grouping, stats, logger)
}

func TestIngestNewListingExtractsAndGroups(t *testing.T) {
	store := newFakeStore()
	history := &fakeHistory{}
	svc := newIngestService(store, history)
	ctx := context.Background()

	resp, err := svc.Ingest(ctx, model.IngestListingRequest{
		MercadoLibreID: "MCO-123",
		URL:            "https://carro.mercadolibre.com.co/MCO-123",
		Title:          "Honda Civic LX 2020 Automático",
		Price:          "$ 85.000.000",
		Kilometers:     "45.000 Km",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	l := resp.Listing
	if l.Brand != "honda" || l.Model != "civic" || l.Year != "2020" {
		t.Errorf("extracted profile = %q/%q/%q, want honda/civic/2020", l.Brand, l.Model, l.Year)
	}
	if l.PriceNumeric == nil || *l.PriceNumeric != 85_000_000 {
		t.Errorf("PriceNumeric = %v, want 85000000", l.PriceNumeric)
	}
	if l.KmNumeric == nil || *l.KmNumeric != 45_000 {
		t.Errorf("KmNumeric = %v, want 45000", l.KmNumeric)
	}
	if !resp.CanonicalCreated || resp.CanonicalVehicleID == "" {
		t.Errorf("grouping outcome = created %v, id %q; want a fresh canonical vehicle",
			resp.CanonicalCreated, resp.CanonicalVehicleID)
	}
	if len(history.records) != 0 {
		t.Errorf("price history records = %d, want 0 for a first sighting", len(history.records))
	}
}

func TestIngestExplicitFieldsWinOverExtraction(t *testing.T) {
	store := newFakeStore()
	svc := newIngestService(store, &fakeHistory{})
	ctx := context.Background()

	resp, err := svc.Ingest(ctx, model.IngestListingRequest{
		MercadoLibreID: "MCO-124",
		Title:          "Honda Civic LX 2020",
		Brand:          "Honda",
		Model:          "Civic",
		Year:           "2019",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if resp.Listing.Year != "2019" {
		t.Errorf("Year = %q, want the explicit 2019 over the extracted 2020", resp.Listing.Year)
	}
}

func TestIngestReingestUpdatesPriceAndHistory(t *testing.T) {
	store := newFakeStore()
	history := &fakeHistory{}
	svc := newIngestService(store, history)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, model.IngestListingRequest{
		MercadoLibreID: "MCO-200",
		Title:          "Honda Civic 2020",
		Price:          "$ 85.000.000",
	})
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	second, err := svc.Ingest(ctx, model.IngestListingRequest{
		MercadoLibreID: "MCO-200",
		Title:          "Honda Civic 2020",
		Price:          "$ 82.000.000",
	})
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}

	if second.Listing.ID != first.Listing.ID {
		t.Error("re-ingest created a second listing row")
	}
	if second.CanonicalCreated {
		t.Error("re-ingest created a second canonical vehicle")
	}
	if second.CanonicalVehicleID != first.CanonicalVehicleID {
		t.Errorf("canonical = %s, want %s", second.CanonicalVehicleID, first.CanonicalVehicleID)
	}
	if *second.Listing.PriceNumeric != 82_000_000 {
		t.Errorf("PriceNumeric = %v, want 82000000", *second.Listing.PriceNumeric)
	}

	if len(history.records) != 1 {
		t.Fatalf("price history records = %d, want 1", len(history.records))
	}
	rec := history.records[0]
	if rec.oldPrice == nil || *rec.oldPrice != 85_000_000 || rec.newPrice != 82_000_000 {
		t.Errorf("recorded change = %v -> %v, want 85000000 -> 82000000", rec.oldPrice, rec.newPrice)
	}

	// The canonical aggregates follow the new price
	cv, _ := store.GetByID(ctx, second.CanonicalVehicleID)
	if cv.AvgPrice == nil || *cv.AvgPrice != 82_000_000 {
		t.Errorf("AvgPrice = %v, want 82000000", cv.AvgPrice)
	}
}

func TestIngestReingestReactivatesRemovedListing(t *testing.T) {
	store := newFakeStore()
	svc := newIngestService(store, &fakeHistory{})
	ctx := context.Background()

	first, err := svc.Ingest(ctx, model.IngestListingRequest{
		MercadoLibreID: "MCO-300",
		Title:          "Honda Civic 2020",
		Price:          "$ 85.000.000",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	first.Listing.Status = model.ListingStatusRemoved

	resp, err := svc.Ingest(ctx, model.IngestListingRequest{
		MercadoLibreID: "MCO-300",
		Title:          "Honda Civic 2020",
		Price:          "$ 85.000.000",
	})
	if err != nil {
		t.Fatalf("re-Ingest() error = %v", err)
	}
	if resp.Listing.Status != model.ListingStatusActive {
		t.Errorf("Status = %q, want %q", resp.Listing.Status, model.ListingStatusActive)
	}
}

func TestIngestRejectsMissingFields(t *testing.T) {
	svc := newIngestService(newFakeStore(), &fakeHistory{})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, model.IngestListingRequest{Title: "Honda Civic"})
	if !errors.Is(err, ErrInvalidListing) {
		t.Errorf("missing mercadolibre_id: err = %v, want ErrInvalidListing", err)
	}

	_, err = svc.Ingest(ctx, model.IngestListingRequest{MercadoLibreID: "MCO-1"})
	if !errors.Is(err, ErrInvalidListing) {
		t.Errorf("missing title: err = %v, want ErrInvalidListing", err)
	}
}
