// Package repository is the Postgres persistence layer: trigger configuration,
// fire history and the audit log.
package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS proximity_zones (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		geometry   JSONB NOT NULL,
		enabled    BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS proximity_devices (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		mac_address    TEXT NOT NULL,
		rssi_threshold INTEGER NOT NULL DEFAULT -70,
		enabled        BOOLEAN NOT NULL DEFAULT TRUE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, mac_address)
	)`,
	`CREATE TABLE IF NOT EXISTS proximity_triggers (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		name               TEXT NOT NULL DEFAULT '',
		entity_kind        TEXT NOT NULL,
		entity_id          TEXT NOT NULL,
		trigger_on         TEXT NOT NULL,
		cooldown_minutes   INTEGER NOT NULL DEFAULT 0,
		dwell_minutes      INTEGER,
		active_days        INTEGER[],
		active_hours_start TEXT,
		active_hours_end   TEXT,
		action             JSONB NOT NULL,
		enabled            BOOLEAN NOT NULL DEFAULT TRUE,
		last_fired_at      TIMESTAMPTZ,
		fire_count         INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		action      TEXT NOT NULL,
		resource    TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		details     JSONB,
		success     BOOLEAN NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_user_created ON audit_log (user_id, created_at DESC)`,
}

// EnsureSchema creates the tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
