// Package store implements the evaluator, registry and claim interfaces on
// Postgres using the prepared statements registered in package db.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mndd/notifier/internal/civil"
	"github.com/mndd/notifier/internal/notifications"
	"github.com/mndd/notifier/internal/push"
	"github.com/mndd/notifier/internal/registry"
)

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the Postgres document store.
type Store struct {
	q Querier
}

func New(q Querier) *Store {
	return &Store{q: q}
}

// --------------------------------------------------------------------------
// Registry source
// --------------------------------------------------------------------------

func (s *Store) LoggedInDevices(ctx context.Context) ([]registry.Device, error) {
	return s.devices(ctx, "devices_logged_in")
}

func (s *Store) DevicesByOwners(ctx context.Context, ownerIDs []string) ([]registry.Device, error) {
	return s.devices(ctx, "devices_by_owners", ownerIDs)
}

func (s *Store) devices(ctx context.Context, stmt string, args ...any) ([]registry.Device, error) {
	rows, err := s.q.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	defer rows.Close()

	var out []registry.Device
	for rows.Next() {
		var d registry.Device
		if err := rows.Scan(&d.Address, &d.OwnerID, &d.LoggedIn); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// Scheduled entities
// --------------------------------------------------------------------------

func (s *Store) PendingEntities(ctx context.Context) ([]notifications.Entity, error) {
	rows, err := s.q.Query(ctx, "pending_entities")
	if err != nil {
		return nil, fmt.Errorf("pending entities: %w", err)
	}
	defer rows.Close()

	var out []notifications.Entity
	for rows.Next() {
		var e notifications.Entity
		if err := rows.Scan(&e.ID, &e.Kind, &e.RawDate, &e.RawTime, &e.TypeLabel, &e.LocationLabel, &e.NotifiedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotified(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.Exec(ctx, "mark_entity_notified", id, at)
	return err
}

// --------------------------------------------------------------------------
// Leaderboards
// --------------------------------------------------------------------------

// Ranked returns the scope's entries best first; ties keep insertion order.
func (s *Store) Ranked(ctx context.Context, scope string, order notifications.Order) ([]notifications.RankEntry, error) {
	stmt := "leaderboard_desc"
	if order == notifications.OrderAsc {
		stmt = "leaderboard_asc"
	}
	rows, err := s.q.Query(ctx, stmt, scope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	defer rows.Close()

	var out []notifications.RankEntry
	for rows.Next() {
		var e notifications.RankEntry
		if err := rows.Scan(&e.MemberID, &e.Label, &e.Metric); err != nil {
			return nil, fmt.Errorf("scan rank entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetScore records a member's metric. An empty label keeps the stored one.
func (s *Store) SetScore(ctx context.Context, scope, memberID, label string, metric float64) error {
	if _, err := s.q.Exec(ctx, "leaderboard_upsert", scope, memberID, label, metric); err != nil {
		return fmt.Errorf("leaderboard_upsert: %w", err)
	}
	return nil
}

func (s *Store) Snapshot(ctx context.Context, scope string) (notifications.Snapshot, error) {
	var snap notifications.Snapshot
	err := s.q.QueryRow(ctx, "snapshot_get", scope).Scan(
		&snap.ScopeKey, &snap.LeaderID, &snap.LeaderLabel, &snap.MetricValue, &snap.Version, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return notifications.Snapshot{}, notifications.ErrNoSnapshot
	}
	if err != nil {
		return notifications.Snapshot{}, fmt.Errorf("snapshot %s: %w", scope, err)
	}
	return snap, nil
}

// SaveSnapshot upserts a snapshot. An older version never overwrites a newer one.
func (s *Store) SaveSnapshot(ctx context.Context, snap notifications.Snapshot) error {
	_, err := s.q.Exec(ctx, "snapshot_upsert",
		snap.ScopeKey, snap.LeaderID, snap.LeaderLabel, snap.MetricValue, snap.Version, snap.UpdatedAt)
	return err
}

// --------------------------------------------------------------------------
// Activity
// --------------------------------------------------------------------------

func (s *Store) Cursor(ctx context.Context, scope string) (notifications.Cursor, bool, error) {
	cur := notifications.Cursor{ScopeKey: scope}
	err := s.q.QueryRow(ctx, "cursor_get", scope).Scan(&cur.LastSeenActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return cur, false, nil
	}
	if err != nil {
		return cur, false, fmt.Errorf("cursor %s: %w", scope, err)
	}
	return cur, true, nil
}

// AdvanceCursor moves the cursor forward; GREATEST keeps it monotonic.
func (s *Store) AdvanceCursor(ctx context.Context, scope string, at time.Time) error {
	_, err := s.q.Exec(ctx, "cursor_advance", scope, at)
	return err
}

func (s *Store) LatestGroupMessage(ctx context.Context, groupID string) (notifications.Activity, bool, error) {
	var a notifications.Activity
	err := s.q.QueryRow(ctx, "group_latest_message", groupID).Scan(&a.ID, &a.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, fmt.Errorf("latest message in %s: %w", groupID, err)
	}
	return a, true, nil
}

func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.q.Query(ctx, "group_members", groupID)
	if err != nil {
		return nil, fmt.Errorf("group members %s: %w", groupID, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Groups lists every group with members or messages.
func (s *Store) Groups(ctx context.Context) ([]string, error) {
	rows, err := s.q.Query(ctx, "groups_list")
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) LatestPublication(ctx context.Context, channel string) (notifications.Activity, bool, error) {
	var a notifications.Activity
	err := s.q.QueryRow(ctx, "publication_latest", channel).Scan(&a.ID, &a.Label, &a.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, fmt.Errorf("latest publication on %s: %w", channel, err)
	}
	return a, true, nil
}

// --------------------------------------------------------------------------
// Daily messages
// --------------------------------------------------------------------------

// DailyMessage rotates through the channel's messages by day of month.
func (s *Store) DailyMessage(ctx context.Context, channel string, day civil.Date) (push.Template, bool, error) {
	rows, err := s.q.Query(ctx, "daily_messages", channel)
	if err != nil {
		return push.Template{}, false, fmt.Errorf("daily messages %s: %w", channel, err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (push.Template, error) {
		var t push.Template
		err := row.Scan(&t.Title, &t.Body)
		return t, err
	})
	if err != nil {
		return push.Template{}, false, fmt.Errorf("scan daily message: %w", err)
	}
	t, ok := Rotate(msgs, day)
	if ok {
		t.Data = map[string]any{"type": "daily", "channel": channel, "day": day.String()}
	}
	return t, ok, nil
}

// MembersWithBirthDates lists members whose profile has a birth date.
func (s *Store) MembersWithBirthDates(ctx context.Context) ([]notifications.Member, error) {
	rows, err := s.q.Query(ctx, "members_birthdays")
	if err != nil {
		return nil, fmt.Errorf("members with birth dates: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.Member, error) {
		var m notifications.Member
		err := row.Scan(&m.ID, &m.Name, &m.RawBirthDate)
		return m, err
	})
}

// Rotate picks the message for day: the first message on the 1st, wrapping
// when the month has more days than messages.
func Rotate[T any](items []T, day civil.Date) (T, bool) {
	var zero T
	if len(items) == 0 || day.Day < 1 {
		return zero, false
	}
	return items[(day.Day-1)%len(items)], true
}

// --------------------------------------------------------------------------
// Claims
// --------------------------------------------------------------------------

// TryClaim inserts the claim row. Exactly one concurrent caller sees a
// row inserted.
func (s *Store) TryClaim(ctx context.Context, key, occurrence string) (bool, error) {
	tag, err := s.q.Exec(ctx, "claim_insert", key, occurrence)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeClaims deletes claims older than maxAge.
func (s *Store) PurgeClaims(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.q.Exec(ctx, "claims_purge", time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --------------------------------------------------------------------------
// Run log
// --------------------------------------------------------------------------

func (s *Store) RecordRun(ctx context.Context, sum notifications.RunSummary) error {
	_, err := s.q.Exec(ctx, "run_insert", sum.RunID, sum.Evaluator, sum, sum.StartedAt)
	return err
}

// RecentRuns returns the latest summaries for an evaluator, newest first.
func (s *Store) RecentRuns(ctx context.Context, evaluator string, limit int) ([]notifications.RunSummary, error) {
	rows, err := s.q.Query(ctx, "runs_recent", evaluator, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[notifications.RunSummary])
}

// PurgeRuns deletes run rows older than maxAge.
func (s *Store) PurgeRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.q.Exec(ctx, "runs_purge", time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
