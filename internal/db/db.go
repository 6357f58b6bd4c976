// Package db provides a pgxpool-based connection pool with prepared statement
// registration, health checking and schema migrations.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mndd/notifier/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// statements maps prepared statement names to SQL. They reference the
// migrated schema, so Migrate must run before New.
var statements = map[string]string{
	// Health
	"health_check": "SELECT 1",

	// Registry
	"devices_logged_in": `SELECT address, COALESCE(owner_id, ''), is_logged_in
		FROM push_devices WHERE is_logged_in ORDER BY created_at, address`,
	"devices_by_owners": `SELECT address, COALESCE(owner_id, ''), is_logged_in
		FROM push_devices WHERE owner_id = ANY($1) ORDER BY created_at, address`,

	// Reminders
	"pending_entities": `SELECT id, kind, event_date, event_time,
		COALESCE(type_label, ''), COALESCE(location_label, ''), notified_at
		FROM scheduled_entities WHERE notified_at IS NULL ORDER BY id`,
	"mark_entity_notified": "UPDATE scheduled_entities SET notified_at = $2 WHERE id = $1",

	// Leaderboards
	"leaderboard_desc": `SELECT member_id, COALESCE(member_label, ''), metric
		FROM leaderboard_entries WHERE scope_key = $1 ORDER BY metric DESC, position`,
	"leaderboard_asc": `SELECT member_id, COALESCE(member_label, ''), metric
		FROM leaderboard_entries WHERE scope_key = $1 ORDER BY metric ASC, position`,
	"leaderboard_upsert": `INSERT INTO leaderboard_entries (scope_key, member_id, member_label, metric)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (scope_key, member_id) DO UPDATE SET
			member_label = COALESCE(EXCLUDED.member_label, leaderboard_entries.member_label),
			metric = EXCLUDED.metric`,
	"snapshot_get": `SELECT scope_key, leader_id, COALESCE(leader_label, ''), metric_value, version, updated_at
		FROM leaderboard_snapshots WHERE scope_key = $1`,
	"snapshot_upsert": `INSERT INTO leaderboard_snapshots (scope_key, leader_id, leader_label, metric_value, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope_key) DO UPDATE SET
			leader_id = EXCLUDED.leader_id,
			leader_label = EXCLUDED.leader_label,
			metric_value = EXCLUDED.metric_value,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE leaderboard_snapshots.version < EXCLUDED.version`,

	// Activity
	"cursor_get": "SELECT last_seen_activity_at FROM activity_cursors WHERE scope_key = $1",
	"cursor_advance": `INSERT INTO activity_cursors (scope_key, last_seen_activity_at) VALUES ($1, $2)
		ON CONFLICT (scope_key) DO UPDATE SET
			last_seen_activity_at = GREATEST(activity_cursors.last_seen_activity_at, EXCLUDED.last_seen_activity_at)`,
	"group_latest_message": `SELECT id, created_at FROM group_messages
		WHERE group_id = $1 ORDER BY created_at DESC LIMIT 1`,
	"group_members": "SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id",
	"groups_list": `SELECT group_id FROM group_members
		UNION SELECT group_id FROM group_messages ORDER BY 1`,
	"publication_latest": `SELECT id, COALESCE(title, ''), created_at FROM publications
		WHERE channel = $1 AND published ORDER BY created_at DESC LIMIT 1`,

	// Daily
	"daily_messages": `SELECT title, body FROM daily_messages WHERE channel = $1 ORDER BY position, id`,
	"members_birthdays": `SELECT user_id, COALESCE(display_name, ''), birth_date FROM app_users
		WHERE COALESCE(birth_date, '') <> '' ORDER BY user_id`,

	// Claims
	"claim_insert": `INSERT INTO notification_claims (scope_key, occurrence_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
	"claims_purge": "DELETE FROM notification_claims WHERE claimed_at < $1",

	// Run log
	"run_insert": `INSERT INTO notification_runs (run_id, evaluator, summary, created_at)
		VALUES ($1, $2, $3, $4)`,
	"runs_purge":  "DELETE FROM notification_runs WHERE created_at < $1",
	"runs_recent": `SELECT summary FROM notification_runs WHERE evaluator = $1 ORDER BY created_at DESC LIMIT $2`,
}

// registerPreparedStatements registers all statements the evaluators and API
// use. Prepared statements eliminate parse overhead on every tick.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range statements {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
