package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heigenstudio/bookingpipe/internal/addons"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the master and staging tables if needed. Keeping the
// migration in code keeps the pipeline self-contained: one binary can
// bootstrap a fresh database before the first run.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS customers (
	customer_id BIGSERIAL PRIMARY KEY,
	full_name TEXT,
	email TEXT,
	contact_number TEXT,
	instagram_handle TEXT,
	acquisition_source TEXT,
	is_first_time BOOLEAN,
	previous_session_counts INTEGER,
	registration_date TIMESTAMPTZ,
	consent TEXT,
	package_id BIGINT,
	created_at TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_email_lower
	ON customers (LOWER(email)) WHERE email <> '';

CREATE TABLE IF NOT EXISTS packages (
	package_id BIGSERIAL PRIMARY KEY,
	category TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_packages_name_lower ON packages (LOWER(name));

CREATE TABLE IF NOT EXISTS addons (
	addon_id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL DEFAULT 0,
	applies_to TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_addons_name_lower ON addons (LOWER(name));

CREATE TABLE IF NOT EXISTS bookings (
	booking_id BIGSERIAL PRIMARY KEY,
	customer_id BIGINT NOT NULL REFERENCES customers(customer_id) ON DELETE CASCADE,
	package_id BIGINT REFERENCES packages(package_id) ON DELETE SET NULL,
	session_date TIMESTAMPTZ,
	total_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	gcash_payment DOUBLE PRECISION NOT NULL DEFAULT 0,
	cash_payment DOUBLE PRECISION NOT NULL DEFAULT 0,
	discounts TEXT NOT NULL DEFAULT '',
	session_status TEXT NOT NULL DEFAULT 'BOOKED',
	created_at TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bookings_customer ON bookings(customer_id);

CREATE TABLE IF NOT EXISTS booking_addons (
	booking_id BIGINT NOT NULL REFERENCES bookings(booking_id) ON DELETE CASCADE,
	addon_id BIGINT NOT NULL REFERENCES addons(addon_id) ON DELETE CASCADE,
	addon_quantity INTEGER NOT NULL,
	addon_price DOUBLE PRECISION NOT NULL,
	total_addon_cost DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (booking_id, addon_id)
);

CREATE TABLE IF NOT EXISTS staging_bookings_raw (
	id BIGSERIAL PRIMARY KEY,
	file_name TEXT NOT NULL,
	file_checksum TEXT NOT NULL,
	raw_row_number INTEGER NOT NULL,
	raw_data JSONB NOT NULL,
	canonical_data JSONB NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'PENDING',
	error_messages JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	UNIQUE (file_checksum, raw_row_number)
);
CREATE INDEX IF NOT EXISTS idx_staging_status ON staging_bookings_raw(processing_status);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SeedAddonCatalog inserts the fixed add-on catalog when the addons table is
// empty. The pipeline only ever reads this table.
func SeedAddonCatalog(ctx context.Context, pool *pgxpool.Pool) error {
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM addons`).Scan(&count); err != nil {
		return fmt.Errorf("count addons: %w", err)
	}
	if count > 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, a := range addons.Catalog() {
		_, err := pool.Exec(ctx, `
			INSERT INTO addons (name, price, applies_to, created_at, last_updated)
			VALUES ($1,$2,$3,$4,$4)
		`, a.Name, a.Price, a.AppliesTo, now)
		if err != nil {
			return fmt.Errorf("seed addon %s: %w", a.Name, err)
		}
	}
	return nil
}
