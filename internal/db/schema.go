package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the two core relations and their supporting
// indexes. Readings cascade-delete with their device; nothing in the
// ingestion path ever deletes, so the cascade only matters for manual
// device removal.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS readings (
		id                   BIGSERIAL PRIMARY KEY,
		device_id            TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		voltage              DOUBLE PRECISION NOT NULL,
		current              DOUBLE PRECISION NOT NULL,
		battery_soh          DOUBLE PRECISION NOT NULL,
		soh_measurement_time TEXT,
		ingested_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_device_id ON readings(device_id)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_ingested_at ON readings(ingested_at DESC)`,
}

// EnsureSchema creates tables and indexes if they do not exist yet.
// Statements are idempotent, so repeated starts are safe.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("[DATABASE] failed to apply schema: %w", err)
		}
	}
	return nil
}
