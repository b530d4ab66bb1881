package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meli-tracker-api/internal/model"
)

type ListingRepo struct {
	db *pgxpool.Pool
}

func NewListingRepo(db *pgxpool.Pool) *ListingRepo {
	return &ListingRepo{db: db}
}

const listingColumns = `
	id, mercadolibre_id, url, title, price, price_numeric,
	kilometers, km_numeric, location, image_url,
	brand, model, year, edition, engine, transmission, fuel_type, color,
	doors, body_type, canonical_vehicle_id, status, views_count,
	created_at, updated_at
`

// Insert persists a new listing, assigning its ID
func (r *ListingRepo) Insert(ctx context.Context, l *model.Listing) error {
	l.ID = uuid.New().String()
	if l.Status == "" {
		l.Status = model.ListingStatusActive
	}

	query := `
		INSERT INTO listings (
			id, mercadolibre_id, url, title, price, price_numeric,
			kilometers, km_numeric, location, image_url,
			brand, model, year, edition, engine, transmission, fuel_type,
			color, doors, body_type, canonical_vehicle_id, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		l.ID,
		l.MercadoLibreID,
		l.URL,
		l.Title,
		nullable(l.Price),
		l.PriceNumeric,
		nullable(l.Kilometers),
		l.KmNumeric,
		nullable(l.Location),
		nullable(l.ImageURL),
		nullable(l.Brand),
		nullable(l.Model),
		nullable(l.Year),
		nullable(l.Edition),
		nullable(l.Engine),
		nullable(l.Transmission),
		nullable(l.FuelType),
		nullable(l.Color),
		l.Doors,
		nullable(l.BodyType),
		nullable(l.CanonicalVehicleID),
		l.Status,
	).Scan(&l.CreatedAt, &l.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}

	return nil
}

// GetByID returns a listing by its ID
func (r *ListingRepo) GetByID(ctx context.Context, id string) (*model.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// GetByMercadoLibreID returns a listing by its marketplace identifier
func (r *ListingRepo) GetByMercadoLibreID(ctx context.Context, meliID string) (*model.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE mercadolibre_id = $1`

	l, err := scanListing(r.db.QueryRow(ctx, query, meliID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing by marketplace id: %w", err)
	}
	return l, nil
}

// ListByCanonical returns all member listings of a canonical vehicle,
// cheapest first. statusFilter narrows to a single status when non-empty.
func (r *ListingRepo) ListByCanonical(ctx context.Context, canonicalID, statusFilter string) ([]model.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE canonical_vehicle_id = $1`
	args := []interface{}{canonicalID}

	if statusFilter != "" {
		query += ` AND status = $2`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY price_numeric NULLS LAST`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list member listings: %w", err)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// ListUngrouped returns listings that have no canonical vehicle yet,
// used by the regroup backfill
func (r *ListingRepo) ListUngrouped(ctx context.Context, limit int) ([]model.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE canonical_vehicle_id IS NULL
		ORDER BY created_at
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ungrouped listings: %w", err)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// SetCanonicalID assigns a listing to a canonical vehicle
func (r *ListingRepo) SetCanonicalID(ctx context.Context, listingID, canonicalID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE listings SET canonical_vehicle_id = $2, updated_at = NOW() WHERE id = $1`,
		listingID, canonicalID)
	if err != nil {
		return fmt.Errorf("failed to set canonical id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePrice records a new price on a listing
func (r *ListingRepo) UpdatePrice(ctx context.Context, id, price string, priceNumeric float64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE listings SET price = $2, price_numeric = $3, updated_at = NOW() WHERE id = $1`,
		id, nullable(price), priceNumeric)
	if err != nil {
		return fmt.Errorf("failed to update listing price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates a listing's lifecycle status
func (r *ListingRepo) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE listings SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to set listing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReassignCanonical moves every listing from one canonical vehicle to
// another and returns how many were moved. Used by merge.
func (r *ListingRepo) ReassignCanonical(ctx context.Context, sourceID, targetID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE listings SET canonical_vehicle_id = $2, updated_at = NOW() WHERE canonical_vehicle_id = $1`,
		sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign listings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanListing(row rowScanner) (*model.Listing, error) {
	var l model.Listing
	var price, kilometers, location, imageURL *string
	var brand, modelName, year, edition, engine, transmission, fuelType, color, bodyType *string
	var canonicalID *string

	err := row.Scan(
		&l.ID, &l.MercadoLibreID, &l.URL, &l.Title, &price, &l.PriceNumeric,
		&kilometers, &l.KmNumeric, &location, &imageURL,
		&brand, &modelName, &year, &edition, &engine, &transmission,
		&fuelType, &color, &l.Doors, &bodyType, &canonicalID,
		&l.Status, &l.ViewsCount, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Price = deref(price)
	l.Kilometers = deref(kilometers)
	l.Location = deref(location)
	l.ImageURL = deref(imageURL)
	l.Brand = deref(brand)
	l.Model = deref(modelName)
	l.Year = deref(year)
	l.Edition = deref(edition)
	l.Engine = deref(engine)
	l.Transmission = deref(transmission)
	l.FuelType = deref(fuelType)
	l.Color = deref(color)
	l.BodyType = deref(bodyType)
	l.CanonicalVehicleID = deref(canonicalID)

	return &l, nil
}
