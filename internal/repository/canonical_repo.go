package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"meli-tracker-api/internal/matching"
	"meli-tracker-api/internal/model"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, used to detect concurrent canonical vehicle creation
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type CanonicalRepo struct {
	db *pgxpool.Pool
}

func NewCanonicalRepo(db *pgxpool.Pool) *CanonicalRepo {
	return &CanonicalRepo{db: db}
}

const canonicalColumns = `
	id, brand, model, year, edition, engine, transmission, fuel_type,
	doors, body_type, canonical_title, fingerprint,
	min_price, max_price, avg_price, median_price, price_trend,
	total_listings, active_listings, total_views, average_kilometers,
	status, created_at, updated_at, last_market_update
`

// Insert persists a new canonical vehicle, assigning its ID. A unique
// violation on the fingerprint means a concurrent creation won the race;
// callers detect it with IsUniqueViolation and re-resolve as an attach.
func (r *CanonicalRepo) Insert(ctx context.Context, cv *model.CanonicalVehicle) error {
	cv.ID = uuid.New().String()

	query := `
		INSERT INTO canonical_vehicles (
			id, brand, model, brand_normalized, model_normalized,
			year, edition, engine, transmission, fuel_type, doors, body_type,
			canonical_title, fingerprint, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		cv.ID,
		cv.Brand,
		cv.Model,
		matching.Normalize(cv.Brand),
		matching.Normalize(cv.Model),
		nullable(cv.Year),
		nullable(cv.Edition),
		nullable(cv.Engine),
		nullable(cv.Transmission),
		nullable(cv.FuelType),
		cv.Doors,
		nullable(cv.BodyType),
		cv.CanonicalTitle,
		cv.Fingerprint,
		model.CanonicalStatusActive,
	).Scan(&cv.CreatedAt, &cv.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert canonical vehicle: %w", err)
	}
	cv.Status = model.CanonicalStatusActive

	return nil
}

// FindActiveByBrandModel returns all active canonical vehicles whose
// normalized brand and model exactly match the given values, oldest first.
// The ID tiebreaker keeps the order deterministic for rows created in the
// same instant, which the sweep's tie-to-oldest rule depends on.
// An empty result is a normal path to creation, not an error.
func (r *CanonicalRepo) FindActiveByBrandModel(ctx context.Context, brand, modelName string) ([]model.CanonicalVehicle, error) {
	query := `
		SELECT ` + canonicalColumns + `
		FROM canonical_vehicles
		WHERE brand_normalized = $1 AND model_normalized = $2 AND status = $3
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query,
		matching.Normalize(brand), matching.Normalize(modelName), model.CanonicalStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query canonical candidates: %w", err)
	}
	defer rows.Close()

	return scanCanonicals(rows)
}

// GetByID returns a canonical vehicle by its ID
func (r *CanonicalRepo) GetByID(ctx context.Context, id string) (*model.CanonicalVehicle, error) {
	query := `SELECT ` + canonicalColumns + ` FROM canonical_vehicles WHERE id = $1`

	cv, err := scanCanonical(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get canonical vehicle: %w", err)
	}
	return cv, nil
}

// GetByFingerprint returns the active canonical vehicle with the given
// profile fingerprint, used to find the winner after a concurrent-creation
// conflict. Only active rows qualify: fingerprint uniqueness is scoped to
// them, and a merged canonical must never reacquire members.
func (r *CanonicalRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*model.CanonicalVehicle, error) {
	query := `SELECT ` + canonicalColumns + ` FROM canonical_vehicles WHERE fingerprint = $1 AND status = $2`

	cv, err := scanCanonical(r.db.QueryRow(ctx, query, fingerprint, model.CanonicalStatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get canonical vehicle by fingerprint: %w", err)
	}
	return cv, nil
}

// UpdateStats writes a freshly recomputed aggregate set. The aggregates are
// derived data; this is a full overwrite, never an increment.
func (r *CanonicalRepo) UpdateStats(ctx context.Context, id string, stats model.CanonicalStats) error {
	query := `
		UPDATE canonical_vehicles SET
			total_listings = $2,
			active_listings = $3,
			total_views = $4,
			min_price = $5,
			max_price = $6,
			avg_price = $7,
			median_price = $8,
			price_trend = $9,
			average_kilometers = $10,
			updated_at = NOW(),
			last_market_update = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		id,
		stats.TotalListings,
		stats.ActiveListings,
		stats.TotalViews,
		stats.MinPrice,
		stats.MaxPrice,
		stats.AvgPrice,
		stats.MedianPrice,
		nullable(stats.PriceTrend),
		stats.AverageKilometers,
	)
	if err != nil {
		return fmt.Errorf("failed to update canonical stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates the lifecycle status (active, inactive, merged)
func (r *CanonicalRepo) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE canonical_vehicles SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to set canonical status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFilter narrows the paginated canonical vehicle listing
type ListFilter struct {
	Brand string
	Model string
	Year  string
}

// List returns active canonical vehicles ordered by listing count, paginated
func (r *CanonicalRepo) List(ctx context.Context, page, pageSize int, filter ListFilter) ([]model.CanonicalVehicle, int, error) {
	where := []string{"status = $1"}
	args := []interface{}{model.CanonicalStatusActive}

	if filter.Brand != "" {
		args = append(args, matching.Normalize(filter.Brand))
		where = append(where, fmt.Sprintf("brand_normalized = $%d", len(args)))
	}
	if filter.Model != "" {
		args = append(args, matching.Normalize(filter.Model))
		where = append(where, fmt.Sprintf("model_normalized = $%d", len(args)))
	}
	if filter.Year != "" {
		args = append(args, filter.Year)
		where = append(where, fmt.Sprintf("year = $%d", len(args)))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM canonical_vehicles WHERE ` + whereClause
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count canonical vehicles: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`
		SELECT %s FROM canonical_vehicles
		WHERE %s
		ORDER BY total_listings DESC, created_at
		LIMIT $%d OFFSET $%d
	`, canonicalColumns, whereClause, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list canonical vehicles: %w", err)
	}
	defer rows.Close()

	vehicles, err := scanCanonicals(rows)
	if err != nil {
		return nil, 0, err
	}
	return vehicles, total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCanonical(row rowScanner) (*model.CanonicalVehicle, error) {
	var cv model.CanonicalVehicle
	var year, edition, engine, transmission, fuelType, bodyType, priceTrend *string

	err := row.Scan(
		&cv.ID, &cv.Brand, &cv.Model, &year, &edition, &engine,
		&transmission, &fuelType, &cv.Doors, &bodyType,
		&cv.CanonicalTitle, &cv.Fingerprint,
		&cv.MinPrice, &cv.MaxPrice, &cv.AvgPrice, &cv.MedianPrice, &priceTrend,
		&cv.TotalListings, &cv.ActiveListings, &cv.TotalViews, &cv.AverageKilometers,
		&cv.Status, &cv.CreatedAt, &cv.UpdatedAt, &cv.LastMarketUpdate,
	)
	if err != nil {
		return nil, err
	}

	cv.Year = deref(year)
	cv.Edition = deref(edition)
	cv.Engine = deref(engine)
	cv.Transmission = deref(transmission)
	cv.FuelType = deref(fuelType)
	cv.BodyType = deref(bodyType)
	cv.PriceTrend = deref(priceTrend)

	return &cv, nil
}

func scanCanonicals(rows pgx.Rows) ([]model.CanonicalVehicle, error) {
	var vehicles []model.CanonicalVehicle
	for rows.Next() {
		cv, err := scanCanonical(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan canonical vehicle: %w", err)
		}
		vehicles = append(vehicles, *cv)
	}
	return vehicles, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
