package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"meli-tracker-api/internal/matching"
	"meli-tracker-api/internal/model"
)

// fakeStore is an in-memory CanonicalStore and ListingStore. Canonical
// vehicles hidden via hideFromSweep stay invisible to the candidate sweep
// but still collide on fingerprint, simulating a concurrent writer.
type fakeStore struct {
	canonicals []*model.CanonicalVehicle
	listings   []*model.Listing
	hidden     map[string]bool
	seq        int
	statsCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{hidden: map[string]bool{}}
}

func (f *fakeStore) addListing(l *model.Listing) *model.Listing {
	f.seq++
	if l.ID == "" {
		l.ID = fmt.Sprintf("listing-%d", f.seq)
	}
	if l.Status == "" {
		l.Status = model.ListingStatusActive
	}
	f.listings = append(f.listings, l)
	return l
}

func (f *fakeStore) Insert(_ context.Context, cv *model.CanonicalVehicle) error {
	// Fingerprint uniqueness holds among active rows only, like the partial
	// index in the real schema
	for _, existing := range f.canonicals {
		if existing.Fingerprint == cv.Fingerprint && existing.Status == model.CanonicalStatusActive {
			return ErrDuplicateFingerprint
		}
	}
	f.seq++
	cv.ID = fmt.Sprintf("canonical-%d", f.seq)
	cv.Status = model.CanonicalStatusActive
	cv.CreatedAt = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Minute)
	f.canonicals = append(f.canonicals, cv)
	return nil
}

func (f *fakeStore) FindActiveByBrandModel(_ context.Context, brand, modelName string) ([]model.CanonicalVehicle, error) {
	var out []model.CanonicalVehicle
	for _, cv := range f.canonicals {
		if f.hidden[cv.ID] || cv.Status != model.CanonicalStatusActive {
			continue
		}
		if matching.Normalize(cv.Brand) == matching.Normalize(brand) &&
			matching.Normalize(cv.Model) == matching.Normalize(modelName) {
			out = append(out, *cv)
		}
	}
	// Same ordering as the repository query: oldest first, ID as tiebreaker
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*model.CanonicalVehicle, error) {
	for _, cv := range f.canonicals {
		if cv.ID == id {
			copied := *cv
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("canonical %s not found", id)
}

func (f *fakeStore) GetByFingerprint(_ context.Context, fingerprint string) (*model.CanonicalVehicle, error) {
	for _, cv := range f.canonicals {
		if cv.Fingerprint == fingerprint && cv.Status == model.CanonicalStatusActive {
			copied := *cv
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("fingerprint %s not found", fingerprint)
}

func (f *fakeStore) UpdateStats(_ context.Context, id string, stats model.CanonicalStats) error {
	f.statsCalls++
	for _, cv := range f.canonicals {
		if cv.ID == id {
			cv.TotalListings = stats.TotalListings
			cv.ActiveListings = stats.ActiveListings
			cv.TotalViews = stats.TotalViews
			cv.MinPrice = stats.MinPrice
			cv.MaxPrice = stats.MaxPrice
			cv.AvgPrice = stats.AvgPrice
			cv.MedianPrice = stats.MedianPrice
			cv.PriceTrend = stats.PriceTrend
			cv.AverageKilometers = stats.AverageKilometers
			return nil
		}
	}
	return fmt.Errorf("canonical %s not found", id)
}

func (f *fakeStore) SetStatus(_ context.Context, id, status string) error {
	for _, cv := range f.canonicals {
		if cv.ID == id {
			cv.Status = status
			return nil
		}
	}
	return fmt.Errorf("canonical %s not found", id)
}

func (f *fakeStore) ListByCanonical(_ context.Context, canonicalID, statusFilter string) ([]model.Listing, error) {
	var out []model.Listing
	for _, l := range f.listings {
		if l.CanonicalVehicleID != canonicalID {
			continue
		}
		if statusFilter != "" && l.Status != statusFilter {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (f *fakeStore) SetCanonicalID(_ context.Context, listingID, canonicalID string) error {
	for _, l := range f.listings {
		if l.ID == listingID {
			l.CanonicalVehicleID = canonicalID
			return nil
		}
	}
	return fmt.Errorf("listing %s not found", listingID)
}

func (f *fakeStore) ReassignCanonical(_ context.Context, sourceID, targetID string) (int, error) {
	moved := 0
	for _, l := range f.listings {
		if l.CanonicalVehicleID == sourceID {
			l.CanonicalVehicleID = targetID
			moved++
		}
	}
	return moved, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newGroupingService(store *fakeStore) *GroupingService {
	logger := testLogger()
	stats := NewStatsService(store, store, logger)
	return NewGroupingService(store, store, stats, logger)
}

func floatPtr(v float64) *float64 { return &v }

func civicListing(store *fakeStore, brand, modelName, year, edition, engine string, price float64) *model.Listing {
	return store.addListing(&model.Listing{
		Brand:        brand,
		Model:        modelName,
		Year:         year,
		Edition:      edition,
		Engine:       engine,
		PriceNumeric: floatPtr(price),
	})
}

func TestGroupListingCreatesThenAttaches(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	first := civicListing(store, "Honda", "Civic", "2020", "LX", "", 85_000_000)
	result, err := svc.GroupListing(ctx, first)
	if err != nil {
		t.Fatalf("GroupListing() error = %v", err)
	}
	if !result.Created {
		t.Error("first listing should create a canonical vehicle")
	}
	canonicalID := result.CanonicalID

	// Casing and accent variants of the same vehicle attach to the founder
	variants := []*model.Listing{
		civicListing(store, "HONDA", "civic", "2020", "lx", "", 87_000_000),
		civicListing(store, "honda", "Civic", "2020", "", "", 83_000_000),
	}
	for i, l := range variants {
		result, err := svc.GroupListing(ctx, l)
		if err != nil {
			t.Fatalf("variant %d: GroupListing() error = %v", i, err)
		}
		if result.Created {
			t.Errorf("variant %d: created a duplicate canonical vehicle", i)
		}
		if result.CanonicalID != canonicalID {
			t.Errorf("variant %d: attached to %s, want %s", i, result.CanonicalID, canonicalID)
		}
	}

	if len(store.canonicals) != 1 {
		t.Fatalf("canonical count = %d, want 1", len(store.canonicals))
	}
	cv := store.canonicals[0]
	if cv.TotalListings != 3 {
		t.Errorf("TotalListings = %d, want 3", cv.TotalListings)
	}
	if cv.MinPrice == nil || *cv.MinPrice != 83_000_000 {
		t.Errorf("MinPrice = %v, want 83000000", cv.MinPrice)
	}
	if cv.CanonicalTitle != "Honda Civic 2020 LX" {
		t.Errorf("CanonicalTitle = %q, want %q", cv.CanonicalTitle, "Honda Civic 2020 LX")
	}
}

func TestGroupListingAdjacentYearStaysDistinct(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	older := civicListing(store, "Honda", "Civic", "2019", "", "", 78_000_000)
	newer := civicListing(store, "Honda", "Civic", "2020", "", "", 85_000_000)

	r1, err := svc.GroupListing(ctx, older)
	if err != nil {
		t.Fatalf("GroupListing(2019) error = %v", err)
	}
	r2, err := svc.GroupListing(ctx, newer)
	if err != nil {
		t.Fatalf("GroupListing(2020) error = %v", err)
	}

	if !r2.Created {
		t.Error("the 2020 listing should found its own canonical vehicle")
	}
	if r1.CanonicalID == r2.CanonicalID {
		t.Error("model years one apart grouped together")
	}
}

func TestGroupListingBrandGate(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	honda := civicListing(store, "Honda", "Civic", "2020", "", "", 85_000_000)
	toyota := civicListing(store, "Toyota", "Corolla", "2020", "", "", 82_000_000)

	r1, err := svc.GroupListing(ctx, honda)
	if err != nil {
		t.Fatalf("GroupListing(honda) error = %v", err)
	}
	r2, err := svc.GroupListing(ctx, toyota)
	if err != nil {
		t.Fatalf("GroupListing(toyota) error = %v", err)
	}

	if r1.CanonicalID == r2.CanonicalID {
		t.Error("different brands share a canonical vehicle")
	}
	if len(store.canonicals) != 2 {
		t.Errorf("canonical count = %d, want 2", len(store.canonicals))
	}
}

func TestGroupListingTiePrefersOldest(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	// Two canonical vehicles differing only in edition score identically
	// against an edition-less listing; the older one must win
	oldest := civicListing(store, "Honda", "Civic", "2020", "LX", "", 85_000_000)
	second := civicListing(store, "Honda", "Civic", "2020", "EX", "", 88_000_000)
	if _, err := svc.GroupListing(ctx, oldest); err != nil {
		t.Fatalf("GroupListing(oldest) error = %v", err)
	}
	if _, err := svc.GroupListing(ctx, second); err != nil {
		t.Fatalf("GroupListing(second) error = %v", err)
	}
	if len(store.canonicals) != 2 {
		t.Fatalf("setup produced %d canonicals, want 2", len(store.canonicals))
	}

	bare := civicListing(store, "Honda", "Civic", "2020", "", "", 84_000_000)
	for i := 0; i < 3; i++ {
		bare.CanonicalVehicleID = ""
		result, err := svc.GroupListing(ctx, bare)
		if err != nil {
			t.Fatalf("run %d: GroupListing() error = %v", i, err)
		}
		if result.CanonicalID != store.canonicals[0].ID {
			t.Errorf("run %d: attached to %s, want oldest %s", i, result.CanonicalID, store.canonicals[0].ID)
		}
	}
}

func TestGroupListingIdempotentRerun(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	l := civicListing(store, "Honda", "Civic", "2020", "LX", "1.5 turbo", 85_000_000)
	first, err := svc.GroupListing(ctx, l)
	if err != nil {
		t.Fatalf("GroupListing() error = %v", err)
	}

	rerun, err := svc.GroupListing(ctx, l)
	if err != nil {
		t.Fatalf("rerun GroupListing() error = %v", err)
	}
	if rerun.Created {
		t.Error("rerun created a duplicate canonical vehicle")
	}
	if rerun.CanonicalID != first.CanonicalID {
		t.Errorf("rerun resolved to %s, want %s", rerun.CanonicalID, first.CanonicalID)
	}
	if len(store.canonicals) != 1 {
		t.Errorf("canonical count = %d, want 1", len(store.canonicals))
	}
}

func TestGroupListingConcurrentCreationAttaches(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	// The winner exists but is invisible to the sweep, as if committed by a
	// concurrent run after this one's candidate retrieval
	winnerListing := civicListing(store, "Honda", "Civic", "2020", "LX", "", 85_000_000)
	winner, err := svc.GroupListing(ctx, winnerListing)
	if err != nil {
		t.Fatalf("setup GroupListing() error = %v", err)
	}
	store.hidden[winner.CanonicalID] = true

	loser := civicListing(store, "Honda", "Civic", "2020", "LX", "", 86_000_000)
	result, err := svc.GroupListing(ctx, loser)
	if err != nil {
		t.Fatalf("GroupListing() error = %v", err)
	}
	if result.Created {
		t.Error("loser of the creation race reported Created")
	}
	if result.CanonicalID != winner.CanonicalID {
		t.Errorf("loser attached to %s, want winner %s", result.CanonicalID, winner.CanonicalID)
	}
	if loser.CanonicalVehicleID != winner.CanonicalID {
		t.Error("loser listing not assigned to the winning canonical vehicle")
	}
	if len(store.canonicals) != 1 {
		t.Errorf("canonical count = %d, want 1", len(store.canonicals))
	}
}

func TestMergeRecomputesOverRawPrices(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	targetListings := []*model.Listing{
		civicListing(store, "Honda", "Civic", "2020", "LX", "", 100_000_000),
		civicListing(store, "Honda", "Civic", "2020", "lx", "", 120_000_000),
	}
	for _, l := range targetListings {
		if _, err := svc.GroupListing(ctx, l); err != nil {
			t.Fatalf("setup target: %v", err)
		}
	}
	sourceListings := []*model.Listing{
		civicListing(store, "Honda", "Civic", "2021", "", "", 90_000_000),
		civicListing(store, "Honda", "Civic", "2021", "", "", 110_000_000),
		civicListing(store, "Honda", "Civic", "2021", "", "", 130_000_000),
	}
	for _, l := range sourceListings {
		if _, err := svc.GroupListing(ctx, l); err != nil {
			t.Fatalf("setup source: %v", err)
		}
	}
	if len(store.canonicals) != 2 {
		t.Fatalf("setup produced %d canonicals, want 2", len(store.canonicals))
	}
	targetID := targetListings[0].CanonicalVehicleID
	sourceID := sourceListings[0].CanonicalVehicleID

	resp, err := svc.Merge(ctx, sourceID, targetID)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if resp.MovedListings != 3 {
		t.Errorf("MovedListings = %d, want 3", resp.MovedListings)
	}
	if resp.TargetListings != 5 {
		t.Errorf("TargetListings = %d, want 5", resp.TargetListings)
	}

	source, _ := store.GetByID(ctx, sourceID)
	if source.Status != model.CanonicalStatusMerged {
		t.Errorf("source status = %q, want %q", source.Status, model.CanonicalStatusMerged)
	}

	// Aggregates come from the raw member prices, not from combining the two
	// previous aggregate sets
	target, _ := store.GetByID(ctx, targetID)
	if target.MinPrice == nil || *target.MinPrice != 90_000_000 {
		t.Errorf("MinPrice = %v, want 90000000", target.MinPrice)
	}
	if target.MaxPrice == nil || *target.MaxPrice != 130_000_000 {
		t.Errorf("MaxPrice = %v, want 130000000", target.MaxPrice)
	}
	if target.AvgPrice == nil || *target.AvgPrice != 110_000_000 {
		t.Errorf("AvgPrice = %v, want 110000000", target.AvgPrice)
	}
	if target.MedianPrice == nil || *target.MedianPrice != 110_000_000 {
		t.Errorf("MedianPrice = %v, want 110000000", target.MedianPrice)
	}
}

func TestGroupListingTieBreaksByIDOnEqualCreation(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	first := civicListing(store, "Honda", "Civic", "2020", "LX", "", 85_000_000)
	second := civicListing(store, "Honda", "Civic", "2020", "EX", "", 88_000_000)
	if _, err := svc.GroupListing(ctx, first); err != nil {
		t.Fatalf("GroupListing(first) error = %v", err)
	}
	if _, err := svc.GroupListing(ctx, second); err != nil {
		t.Fatalf("GroupListing(second) error = %v", err)
	}
	if len(store.canonicals) != 2 {
		t.Fatalf("setup produced %d canonicals, want 2", len(store.canonicals))
	}

	// Both canonicals share a creation instant and the store holds them out
	// of order; the ID tiebreaker must still pick the first-founded one
	instant := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store.canonicals[0].CreatedAt = instant
	store.canonicals[1].CreatedAt = instant
	store.canonicals[0], store.canonicals[1] = store.canonicals[1], store.canonicals[0]
	firstID := first.CanonicalVehicleID

	bare := civicListing(store, "Honda", "Civic", "2020", "", "", 84_000_000)
	result, err := svc.GroupListing(ctx, bare)
	if err != nil {
		t.Fatalf("GroupListing(bare) error = %v", err)
	}
	if result.CanonicalID != firstID {
		t.Errorf("attached to %s, want first-founded %s", result.CanonicalID, firstID)
	}
}

func TestGroupListingAfterMergeFoundsNewCanonical(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	target := civicListing(store, "Honda", "Civic", "2020", "LX", "", 100_000_000)
	source := civicListing(store, "Honda", "Civic", "2021", "", "", 110_000_000)
	if _, err := svc.GroupListing(ctx, target); err != nil {
		t.Fatalf("setup target: %v", err)
	}
	if _, err := svc.GroupListing(ctx, source); err != nil {
		t.Fatalf("setup source: %v", err)
	}
	targetID := target.CanonicalVehicleID
	sourceID := source.CanonicalVehicleID
	if _, err := svc.Merge(ctx, sourceID, targetID); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	// A fresh 2021 listing no longer clears the attach threshold against the
	// surviving 2020 LX canonical, so it must found a new canonical vehicle.
	// The merged one shares its fingerprint but must neither block the
	// creation nor reacquire the listing.
	fresh := civicListing(store, "Honda", "Civic", "2021", "", "", 105_000_000)
	result, err := svc.GroupListing(ctx, fresh)
	if err != nil {
		t.Fatalf("GroupListing() error = %v", err)
	}
	if !result.Created {
		t.Error("listing matching a merged profile should found a new canonical vehicle")
	}
	if result.CanonicalID == sourceID {
		t.Errorf("listing attached to merged canonical %s", sourceID)
	}
	if result.CanonicalID == targetID {
		t.Errorf("listing attached to %s despite scoring below the attach threshold", targetID)
	}

	founded, err := store.GetByID(ctx, result.CanonicalID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if founded.Status != model.CanonicalStatusActive {
		t.Errorf("founded canonical status = %q, want %q", founded.Status, model.CanonicalStatusActive)
	}
	mergedMembers, err := store.ListByCanonical(ctx, sourceID, "")
	if err != nil {
		t.Fatalf("ListByCanonical() error = %v", err)
	}
	if len(mergedMembers) != 0 {
		t.Errorf("merged canonical holds %d listings, want 0", len(mergedMembers))
	}
}

func TestMergeRejectsSelfAndInactiveTarget(t *testing.T) {
	store := newFakeStore()
	svc := newGroupingService(store)
	ctx := context.Background()

	l := civicListing(store, "Honda", "Civic", "2020", "", "", 85_000_000)
	result, err := svc.GroupListing(ctx, l)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := svc.Merge(ctx, result.CanonicalID, result.CanonicalID); err == nil {
		t.Error("merging a vehicle into itself should fail")
	}

	l2 := civicListing(store, "Toyota", "Corolla", "2020", "", "", 80_000_000)
	r2, err := svc.GroupListing(ctx, l2)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := store.SetStatus(ctx, r2.CanonicalID, model.CanonicalStatusInactive); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := svc.Merge(ctx, result.CanonicalID, r2.CanonicalID); err == nil {
		t.Error("merging into an inactive target should fail")
	}
}
