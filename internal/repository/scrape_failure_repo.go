package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"meli-tracker-api/internal/model"
)

// ScrapeFailureRepo handles database operations for failed ingestion attempts
type ScrapeFailureRepo struct {
	pool *pgxpool.Pool
}

func NewScrapeFailureRepo(pool *pgxpool.Pool) *ScrapeFailureRepo {
	return &ScrapeFailureRepo{pool: pool}
}

// Upsert inserts or updates a failure record. An existing record for the
// same marketplace listing gets its attempt counter incremented.
func (r *ScrapeFailureRepo) Upsert(ctx context.Context, meliID, errorType, errorMessage string) error {
	// Retry schedule depends on the failure class
	var nextAttempt *time.Time
	switch errorType {
	case model.ErrorTypeRateLimit:
		t := time.Now().Add(1 * time.Minute)
		nextAttempt = &t
	case model.ErrorTypeNetwork:
		t := time.Now().Add(5 * time.Minute)
		nextAttempt = &t
	case model.ErrorTypeExtraction:
		// Likely permanent: the title has no recognizable brand/model
		nextAttempt = nil
	default:
		t := time.Now().Add(30 * time.Minute)
		nextAttempt = &t
	}

	query := `
		INSERT INTO scrape_failures (
			mercadolibre_id, error_type, error_message, attempts,
			last_attempt, next_attempt
		) VALUES ($1, $2, $3, 1, NOW(), $4)
		ON CONFLICT (mercadolibre_id) DO UPDATE SET
			error_type = EXCLUDED.error_type,
			error_message = EXCLUDED.error_message,
			attempts = scrape_failures.attempts + 1,
			last_attempt = NOW(),
			next_attempt = EXCLUDED.next_attempt,
			resolved = FALSE,
			resolved_at = NULL
	`

	if _, err := r.pool.Exec(ctx, query, meliID, errorType, errorMessage, nextAttempt); err != nil {
		return fmt.Errorf("failed to upsert scrape failure: %w", err)
	}
	return nil
}

// MarkResolved flags a failure as recovered after a successful ingestion
func (r *ScrapeFailureRepo) MarkResolved(ctx context.Context, meliID string) error {
	query := `
		UPDATE scrape_failures
		SET resolved = TRUE, resolved_at = NOW()
		WHERE mercadolibre_id = $1 AND resolved = FALSE
	`
	if _, err := r.pool.Exec(ctx, query, meliID); err != nil {
		return fmt.Errorf("failed to mark scrape failure resolved: %w", err)
	}
	return nil
}

// GetPendingRetries returns unresolved failures whose retry time has passed
func (r *ScrapeFailureRepo) GetPendingRetries(ctx context.Context, limit int) ([]model.ScrapeFailure, error) {
	query := `
		SELECT id, mercadolibre_id, error_type, error_message, attempts,
			last_attempt, next_attempt, resolved, resolved_at, created_at
		FROM scrape_failures
		WHERE resolved = FALSE
			AND next_attempt IS NOT NULL
			AND next_attempt <= NOW()
		ORDER BY next_attempt
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending retries: %w", err)
	}
	defer rows.Close()

	var failures []model.ScrapeFailure
	for rows.Next() {
		var f model.ScrapeFailure
		if err := rows.Scan(
			&f.ID, &f.MercadoLibreID, &f.ErrorType, &f.ErrorMessage,
			&f.Attempts, &f.LastAttempt, &f.NextAttempt,
			&f.Resolved, &f.ResolvedAt, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scrape failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// CountPending returns how many unresolved failures exist
func (r *ScrapeFailureRepo) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scrape_failures WHERE resolved = FALSE`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending failures: %w", err)
	}
	return count, nil
}
