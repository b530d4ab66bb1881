package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"meli-tracker-api/internal/matching"
	"meli-tracker-api/internal/model"
	"meli-tracker-api/internal/repository"
)

// ErrDuplicateFingerprint signals that a concurrent grouping run already
// created a canonical vehicle with the same fingerprint. In production it
// surfaces as a Postgres unique violation; fakes in tests return it directly.
var ErrDuplicateFingerprint = errors.New("canonical fingerprint already exists")

// ErrMergeConflict is returned when a merge request is invalid (same
// vehicle, or a target that is not active)
var ErrMergeConflict = errors.New("merge conflict")

// GroupResult describes the outcome of resolving one listing
type GroupResult struct {
	CanonicalID string
	Created     bool
	Score       float64
}

// GroupingService resolves each listing to exactly one canonical vehicle:
// either an existing one it matches closely enough, or a fresh one founded
// from the listing itself.
type GroupingService struct {
	canonicals CanonicalStore
	listings   ListingStore
	stats      *StatsService
	logger     *slog.Logger
}

func NewGroupingService(canonicals CanonicalStore, listings ListingStore, stats *StatsService, logger *slog.Logger) *GroupingService {
	return &GroupingService{
		canonicals: canonicals,
		listings:   listings,
		stats:      stats,
		logger:     logger,
	}
}

// GroupListing assigns the listing to a canonical vehicle and refreshes that
// vehicle's aggregates. The decision sequence:
//
//  1. If the listing already points at an active canonical vehicle and still
//     scores at or above the exact threshold against it, keep the assignment.
//  2. Sweep all active candidates sharing the normalized brand and model and
//     attach to the single best one scoring at or above the broad threshold.
//     Candidates arrive oldest first, so on equal scores the oldest wins.
//  3. Otherwise found a new canonical vehicle from the listing's profile. If
//     a concurrent run founded the same vehicle first, attach to the winner
//     instead of failing.
//
// Reruns are idempotent: the same listing against the same stored state
// resolves to the same canonical vehicle.
func (s *GroupingService) GroupListing(ctx context.Context, listing *model.Listing) (*GroupResult, error) {
	if listing == nil {
		return nil, errors.New("listing is nil")
	}
	profile := matching.ProfileFromListing(listing)

	if result, ok := s.checkCurrentAssignment(ctx, listing, profile); ok {
		return result, nil
	}

	best, bestScore, err := s.findBestCandidate(ctx, listing, profile)
	if err != nil {
		return nil, err
	}
	if best != nil {
		if err := s.attach(ctx, listing, best.ID); err != nil {
			return nil, err
		}
		s.logger.Info("listing attached to canonical vehicle",
			"listing_id", listing.ID,
			"canonical_id", best.ID,
			"score", bestScore,
		)
		return &GroupResult{CanonicalID: best.ID, Score: bestScore}, nil
	}

	return s.createCanonical(ctx, listing, profile)
}

// checkCurrentAssignment is the fast path: a listing re-ingested while
// already grouped stays put as long as it still matches its canonical
// vehicle at the exact threshold.
func (s *GroupingService) checkCurrentAssignment(ctx context.Context, listing *model.Listing, profile matching.Profile) (*GroupResult, bool) {
	if listing.CanonicalVehicleID == "" {
		return nil, false
	}

	current, err := s.canonicals.GetByID(ctx, listing.CanonicalVehicleID)
	if err != nil {
		// A dangling reference falls through to the full sweep
		s.logger.Warn("failed to load current canonical vehicle, regrouping",
			"listing_id", listing.ID,
			"canonical_id", listing.CanonicalVehicleID,
			"error", err,
		)
		return nil, false
	}
	if current.Status != model.CanonicalStatusActive {
		return nil, false
	}

	score := matching.Score(profile, matching.ProfileFromCanonical(current))
	if score < matching.ThresholdExact {
		return nil, false
	}
	return &GroupResult{CanonicalID: current.ID, Score: score}, true
}

// findBestCandidate sweeps the brand+model candidate set and returns the
// highest scorer at or above the broad threshold, or nil when none qualifies.
// A failure while scoring one candidate skips that candidate rather than
// aborting the whole resolution.
func (s *GroupingService) findBestCandidate(ctx context.Context, listing *model.Listing, profile matching.Profile) (*model.CanonicalVehicle, float64, error) {
	if listing.Brand == "" || listing.Model == "" {
		// Brand and model are hard gates; without both there is nothing to
		// sweep and the listing founds its own canonical vehicle
		return nil, 0, nil
	}

	candidates, err := s.canonicals.FindActiveByBrandModel(ctx, listing.Brand, listing.Model)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to retrieve candidates: %w", err)
	}

	var best *model.CanonicalVehicle
	bestScore := 0.0
	for i := range candidates {
		candidate := &candidates[i]
		score := scoreSafe(s.logger, profile, candidate)
		// Strict greater-than keeps the oldest candidate on ties, since the
		// store returns them ordered by creation time
		if score >= matching.ThresholdBroad && score > bestScore {
			best = candidate
			bestScore = score
		}
	}

	if best != nil && s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("candidate sweep finished",
			"listing_id", listing.ID,
			"candidates", len(candidates),
			"best_canonical_id", best.ID,
			"best_score", bestScore,
			"field_scores", matching.FieldScores(profile, matching.ProfileFromCanonical(best)),
		)
	}
	return best, bestScore, nil
}

// scoreSafe scores one candidate, treating a panic in the comparison as a
// zero score so one malformed record cannot poison the sweep
func scoreSafe(logger *slog.Logger, profile matching.Profile, candidate *model.CanonicalVehicle) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("candidate scoring panicked",
				"canonical_id", candidate.ID,
				"panic", r,
			)
			score = 0.0
		}
	}()
	return matching.Score(profile, matching.ProfileFromCanonical(candidate))
}

// createCanonical founds a new canonical vehicle from the listing. When a
// concurrent run already created one with the same fingerprint, the loser
// attaches to the winner instead.
func (s *GroupingService) createCanonical(ctx context.Context, listing *model.Listing, profile matching.Profile) (*GroupResult, error) {
	cv := &model.CanonicalVehicle{
		Brand:          listing.Brand,
		Model:          listing.Model,
		Year:           listing.Year,
		Edition:        listing.Edition,
		Engine:         listing.Engine,
		Transmission:   listing.Transmission,
		FuelType:       listing.FuelType,
		Doors:          listing.Doors,
		BodyType:       listing.BodyType,
		CanonicalTitle: profile.DisplayTitle(),
		Fingerprint:    profile.Fingerprint(),
	}
	if cv.CanonicalTitle == "" {
		cv.CanonicalTitle = listing.Title
	}

	err := s.canonicals.Insert(ctx, cv)
	if err != nil {
		if !repository.IsUniqueViolation(err) && !errors.Is(err, ErrDuplicateFingerprint) {
			return nil, fmt.Errorf("failed to create canonical vehicle: %w", err)
		}

		winner, getErr := s.canonicals.GetByFingerprint(ctx, cv.Fingerprint)
		if getErr != nil {
			return nil, fmt.Errorf("failed to resolve concurrent canonical creation: %w", getErr)
		}
		if attachErr := s.attach(ctx, listing, winner.ID); attachErr != nil {
			return nil, attachErr
		}
		s.logger.Info("concurrent creation resolved as attach",
			"listing_id", listing.ID,
			"canonical_id", winner.ID,
		)
		return &GroupResult{CanonicalID: winner.ID, Score: 1.0}, nil
	}

	if err := s.attach(ctx, listing, cv.ID); err != nil {
		return nil, err
	}
	s.logger.Info("canonical vehicle created",
		"listing_id", listing.ID,
		"canonical_id", cv.ID,
		"canonical_title", cv.CanonicalTitle,
	)
	return &GroupResult{CanonicalID: cv.ID, Created: true, Score: 1.0}, nil
}

// attach points the listing at the canonical vehicle and refreshes the
// vehicle's aggregates
func (s *GroupingService) attach(ctx context.Context, listing *model.Listing, canonicalID string) error {
	if err := s.listings.SetCanonicalID(ctx, listing.ID, canonicalID); err != nil {
		return fmt.Errorf("failed to assign listing: %w", err)
	}
	listing.CanonicalVehicleID = canonicalID

	if _, err := s.stats.Refresh(ctx, canonicalID); err != nil {
		// The assignment stands; stale aggregates are corrected on the next
		// refresh
		s.logger.Error("stats refresh after grouping failed",
			"canonical_id", canonicalID,
			"error", err,
		)
	}
	return nil
}

// Merge folds the source canonical vehicle into the target: every listing
// moves to the target, the source is marked merged, and the target's
// aggregates are recomputed over the raw member prices.
func (s *GroupingService) Merge(ctx context.Context, sourceID, targetID string) (*model.MergeResponse, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: source and target are the same vehicle", ErrMergeConflict)
	}

	if _, err := s.canonicals.GetByID(ctx, sourceID); err != nil {
		return nil, fmt.Errorf("failed to load merge source: %w", err)
	}
	target, err := s.canonicals.GetByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merge target: %w", err)
	}
	if target.Status != model.CanonicalStatusActive {
		return nil, fmt.Errorf("%w: target %s is not active", ErrMergeConflict, targetID)
	}

	moved, err := s.listings.ReassignCanonical(ctx, sourceID, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to move listings: %w", err)
	}

	if err := s.canonicals.SetStatus(ctx, sourceID, model.CanonicalStatusMerged); err != nil {
		return nil, fmt.Errorf("failed to retire merge source: %w", err)
	}

	stats, err := s.stats.Refresh(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh merge target stats: %w", err)
	}

	s.logger.Info("canonical vehicles merged",
		"source_id", sourceID,
		"target_id", targetID,
		"moved_listings", moved,
	)

	return &model.MergeResponse{
		SourceID:       sourceID,
		TargetID:       targetID,
		MovedListings:  moved,
		TargetListings: stats.TotalListings,
	}, nil
}
