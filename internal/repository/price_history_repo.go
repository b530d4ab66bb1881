package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"meli-tracker-api/internal/model"
)

type PriceHistoryRepo struct {
	db *pgxpool.Pool
}

func NewPriceHistoryRepo(db *pgxpool.Pool) *PriceHistoryRepo {
	return &PriceHistoryRepo{db: db}
}

// Record stores one observed price change for a listing
func (r *PriceHistoryRepo) Record(ctx context.Context, listingID string, oldPrice *float64, newPrice float64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO price_history (id, listing_id, old_price, new_price) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), listingID, oldPrice, newPrice)
	if err != nil {
		return fmt.Errorf("failed to record price change: %w", err)
	}
	return nil
}

// ListByListing returns a listing's price history, newest first
func (r *PriceHistoryRepo) ListByListing(ctx context.Context, listingID string, limit int) ([]model.PriceChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, listing_id, old_price, new_price, recorded_at
		FROM price_history
		WHERE listing_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, listingID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var changes []model.PriceChange
	for rows.Next() {
		var pc model.PriceChange
		if err := rows.Scan(&pc.ID, &pc.ListingID, &pc.OldPrice, &pc.NewPrice, &pc.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price change: %w", err)
		}
		changes = append(changes, pc)
	}
	return changes, rows.Err()
}
