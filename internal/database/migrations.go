package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations executes all database migrations
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []struct {
		name string
		sql  string
	}{
		{
			name: "create canonical_vehicles",
			sql: `
				CREATE TABLE IF NOT EXISTS canonical_vehicles (
					id UUID PRIMARY KEY,
					brand VARCHAR(100) NOT NULL,
					model VARCHAR(100) NOT NULL,
					brand_normalized VARCHAR(100) NOT NULL,
					model_normalized VARCHAR(100) NOT NULL,
					year VARCHAR(10),
					edition VARCHAR(100),
					engine VARCHAR(100),
					transmission VARCHAR(50),
					fuel_type VARCHAR(50),
					doors INTEGER,
					body_type VARCHAR(50),
					canonical_title VARCHAR(255) NOT NULL,
					fingerprint VARCHAR(512) NOT NULL,
					min_price DOUBLE PRECISION,
					max_price DOUBLE PRECISION,
					avg_price DOUBLE PRECISION,
					median_price DOUBLE PRECISION,
					price_trend VARCHAR(10),
					total_listings INTEGER NOT NULL DEFAULT 0,
					active_listings INTEGER NOT NULL DEFAULT 0,
					total_views INTEGER NOT NULL DEFAULT 0,
					average_kilometers DOUBLE PRECISION,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_market_update TIMESTAMPTZ
				)
			`,
		},
		{
			// The uniqueness guard for concurrent canonical creation: two
			// listings racing to create the same profile collide here and the
			// loser re-resolves as an attach. Scoped to active rows so a merged
			// or retired canonical never blocks re-founding its profile, and
			// never receives the colliding listing.
			name: "drop unscoped canonical fingerprint index",
			sql: `
				DROP INDEX IF EXISTS idx_canonical_fingerprint
			`,
		},
		{
			name: "create canonical active fingerprint index",
			sql: `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_canonical_fingerprint_active
				ON canonical_vehicles(fingerprint)
				WHERE status = 'active'
			`,
		},
		{
			name: "create canonical brand/model index",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_canonical_brand_model
				ON canonical_vehicles(brand_normalized, model_normalized, status)
			`,
		},
		{
			name: "create listings",
			sql: `
				CREATE TABLE IF NOT EXISTS listings (
					id UUID PRIMARY KEY,
					mercadolibre_id VARCHAR(50) NOT NULL UNIQUE,
					url TEXT NOT NULL,
					title TEXT NOT NULL,
					price VARCHAR(50),
					price_numeric DOUBLE PRECISION,
					kilometers VARCHAR(50),
					km_numeric DOUBLE PRECISION,
					location VARCHAR(255),
					image_url TEXT,
					brand VARCHAR(100),
					model VARCHAR(100),
					year VARCHAR(10),
					edition VARCHAR(100),
					engine VARCHAR(100),
					transmission VARCHAR(50),
					fuel_type VARCHAR(50),
					color VARCHAR(50),
					doors INTEGER,
					body_type VARCHAR(50),
					canonical_vehicle_id UUID REFERENCES canonical_vehicles(id),
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					views_count INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)
			`,
		},
		{
			name: "create listings canonical index",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_listings_canonical
				ON listings(canonical_vehicle_id)
			`,
		},
		{
			name: "create price_history",
			sql: `
				CREATE TABLE IF NOT EXISTS price_history (
					id UUID PRIMARY KEY,
					listing_id UUID NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
					old_price DOUBLE PRECISION,
					new_price DOUBLE PRECISION NOT NULL,
					recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)
			`,
		},
		{
			name: "create price_history listing index",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_price_history_listing
				ON price_history(listing_id, recorded_at)
			`,
		},
		{
			name: "create scrape_failures",
			sql: `
				CREATE TABLE IF NOT EXISTS scrape_failures (
					id SERIAL PRIMARY KEY,
					mercadolibre_id VARCHAR(50) NOT NULL UNIQUE,
					error_type VARCHAR(50) NOT NULL,
					error_message TEXT NOT NULL,
					attempts INTEGER NOT NULL DEFAULT 1,
					last_attempt TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					next_attempt TIMESTAMPTZ,
					resolved BOOLEAN NOT NULL DEFAULT FALSE,
					resolved_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)
			`,
		},
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("migration %q failed: %w", stmt.name, err)
		}
	}

	return nil
}
