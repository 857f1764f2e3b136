package postgres

import (
	"fmt"

	"gorm.io/gorm"
)

// Timestamps are stored as text in storage.TimeLayout so every backend
// persists the same local wall-clock strings.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS parking_sessions (
		seq              BIGSERIAL PRIMARY KEY,
		id               TEXT NOT NULL UNIQUE,
		plate_key        TEXT NOT NULL,
		entry_time       TEXT NOT NULL,
		exit_time        TEXT,
		duration_minutes DOUBLE PRECISION,
		amount_due       NUMERIC(10,2),
		paid             BOOLEAN NOT NULL DEFAULT false,
		entry_method     TEXT NOT NULL DEFAULT 'camera',
		confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
		exit_confidence  DOUBLE PRECISION,
		image            TEXT NOT NULL DEFAULT '',
		exit_image       TEXT NOT NULL DEFAULT '',
		version          BIGINT NOT NULL DEFAULT 1,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_sessions_plate ON parking_sessions(plate_key, seq);`,
	// At most one active session per plate
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_sessions_active ON parking_sessions(plate_key) WHERE NOT paid AND exit_time IS NULL;`,
	`CREATE TABLE IF NOT EXISTS plate_owners (
		plate_key   TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_owners_account ON plate_owners(account_id);`,
	`CREATE TABLE IF NOT EXISTS unregistered_entries (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		plate_key   TEXT NOT NULL,
		seen_at     TEXT NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_unregistered_entries_plate ON unregistered_entries(plate_key, seq);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
