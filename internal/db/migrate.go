package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// migrations are applied in order, each in its own transaction. Never edit
// an applied entry; append a new one.
var migrations = []string{
	// 1: devices and scheduled entities
	`CREATE TABLE IF NOT EXISTS push_devices (
		address      TEXT PRIMARY KEY,
		owner_id     TEXT,
		is_logged_in BOOLEAN NOT NULL DEFAULT false,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS push_devices_owner_idx ON push_devices (owner_id);
	CREATE INDEX IF NOT EXISTS push_devices_logged_in_idx ON push_devices (is_logged_in) WHERE is_logged_in;

	CREATE TABLE IF NOT EXISTS scheduled_entities (
		id             TEXT PRIMARY KEY,
		kind           TEXT NOT NULL DEFAULT 'event',
		type_label     TEXT,
		location_label TEXT,
		event_date     TEXT NOT NULL,
		event_time     TEXT NOT NULL,
		notified_at    TIMESTAMPTZ
	);`,

	// 2: leaderboards and activity
	`CREATE TABLE IF NOT EXISTS leaderboard_entries (
		scope_key    TEXT NOT NULL,
		member_id    TEXT NOT NULL,
		member_label TEXT,
		metric       DOUBLE PRECISION NOT NULL,
		position     BIGSERIAL,
		PRIMARY KEY (scope_key, member_id)
	);
	CREATE TABLE IF NOT EXISTS leaderboard_snapshots (
		scope_key    TEXT PRIMARY KEY,
		leader_id    TEXT NOT NULL,
		leader_label TEXT,
		metric_value DOUBLE PRECISION NOT NULL,
		version      BIGINT NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS activity_cursors (
		scope_key             TEXT PRIMARY KEY,
		last_seen_activity_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS group_messages (
		id         TEXT PRIMARY KEY,
		group_id   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS group_messages_latest_idx ON group_messages (group_id, created_at DESC);
	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id  TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS publications (
		id         TEXT PRIMARY KEY,
		channel    TEXT NOT NULL,
		title      TEXT,
		published  BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS publications_latest_idx ON publications (channel, created_at DESC) WHERE published;`,

	// 3: claims, daily messages and run log
	`CREATE TABLE IF NOT EXISTS notification_claims (
		scope_key     TEXT NOT NULL,
		occurrence_id TEXT NOT NULL,
		claimed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (scope_key, occurrence_id)
	);
	CREATE INDEX IF NOT EXISTS notification_claims_age_idx ON notification_claims (claimed_at);
	CREATE TABLE IF NOT EXISTS daily_messages (
		id       BIGSERIAL PRIMARY KEY,
		channel  TEXT NOT NULL,
		position INT NOT NULL DEFAULT 0,
		title    TEXT NOT NULL,
		body     TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS notification_runs (
		run_id     TEXT PRIMARY KEY,
		evaluator  TEXT NOT NULL,
		summary    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS notification_runs_evaluator_idx ON notification_runs (evaluator, created_at DESC);`,

	// 4: LISTEN/NOTIFY ingress; publishing something runs the publications evaluator
	`CREATE OR REPLACE FUNCTION notify_request(payload JSONB) RETURNS void AS $$
	BEGIN
		PERFORM pg_notify('notify_request', payload::text);
	END;
	$$ LANGUAGE plpgsql;

	CREATE OR REPLACE FUNCTION publications_run_evaluator() RETURNS trigger AS $$
	BEGIN
		IF NEW.published THEN
			PERFORM pg_notify('run_evaluator', 'publications');
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS publications_published ON publications;
	CREATE TRIGGER publications_published
		AFTER INSERT OR UPDATE OF published ON publications
		FOR EACH ROW EXECUTE FUNCTION publications_run_evaluator();`,

	// 5: member profiles for birthday greetings; birth_date is free text as typed
	`CREATE TABLE IF NOT EXISTS app_users (
		user_id      TEXT PRIMARY KEY,
		display_name TEXT,
		birth_date   TEXT
	);`,
}

// Conn is satisfied by both *pgx.Conn and *pgxpool.Pool.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// MigrateURL opens a plain connection, applies pending migrations and
// closes it. The pool cannot be used for this because its connections
// prepare statements against tables that may not exist yet.
func MigrateURL(ctx context.Context, url string, logger *slog.Logger) (int, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return Migrate(ctx, conn, logger)
}

// Migrate applies pending migrations and returns how many ran.
func Migrate(ctx context.Context, conn Conn, logger *slog.Logger) (int, error) {
	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := conn.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	applied := 0
	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, migrations[i]); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d: %w", version, err)
		}
		logger.Info("Applied migration", "version", version)
		applied++
	}
	return applied, nil
}
