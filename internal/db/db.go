// Package db opens the Postgres pool and bootstraps the schema.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"care-dispatch/internal/config"

	_ "github.com/lib/pq"
)

// Connect opens and pings a lib/pq pool sized from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS workers (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	role             TEXT NOT NULL,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	verified         BOOLEAN NOT NULL DEFAULT FALSE,
	daily_capacity   INTEGER NOT NULL DEFAULT 0,
	last_assigned_at TIMESTAMPTZ,
	skill_tags       TEXT[] NOT NULL DEFAULT '{}',
	area_tags        TEXT[] NOT NULL DEFAULT '{}',
	senior           BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS work_items (
	id                   TEXT PRIMARY KEY,
	kind                 TEXT NOT NULL,
	status               TEXT NOT NULL,
	risk_tier            TEXT NOT NULL,
	required_skill       TEXT NOT NULL DEFAULT '',
	area                 TEXT NOT NULL DEFAULT '',
	requested_by         TEXT NOT NULL DEFAULT '',
	lab_id               TEXT NOT NULL DEFAULT '',
	fasting_required     BOOLEAN NOT NULL DEFAULT FALSE,
	assigned_worker_id   TEXT REFERENCES workers(id),
	previous_worker_ids  TEXT[] NOT NULL DEFAULT '{}',
	deadline             TIMESTAMPTZ,
	collection_attempts  INTEGER NOT NULL DEFAULT 0,
	collected_tube_count INTEGER NOT NULL DEFAULT 0,
	received_tube_count  INTEGER NOT NULL DEFAULT 0,
	fasting_violation    BOOLEAN NOT NULL DEFAULT FALSE,
	tube_count_mismatch  BOOLEAN NOT NULL DEFAULT FALSE,
	failure_reason       TEXT NOT NULL DEFAULT '',
	issue_reason         TEXT NOT NULL DEFAULT '',
	cancel_reason        TEXT NOT NULL DEFAULT '',
	critical_value       BOOLEAN NOT NULL DEFAULT FALSE,
	critical_ack_at      TIMESTAMPTZ,
	results_due_at       TIMESTAMPTZ,
	turnaround_alerted   BOOLEAN NOT NULL DEFAULT FALSE,
	critical_alerted     BOOLEAN NOT NULL DEFAULT FALSE,
	max_bounces_alerted  BOOLEAN NOT NULL DEFAULT FALSE,
	milestones           JSONB NOT NULL DEFAULT '{}',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS work_items_status_deadline_idx ON work_items (status, deadline);
CREATE INDEX IF NOT EXISTS work_items_assigned_worker_idx ON work_items (assigned_worker_id, status);

CREATE TABLE IF NOT EXISTS daily_roster (
	worker_id      TEXT NOT NULL REFERENCES workers(id),
	roster_date    DATE NOT NULL,
	total_bookings INTEGER NOT NULL DEFAULT 0 CHECK (total_bookings >= 0),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (worker_id, roster_date)
);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
