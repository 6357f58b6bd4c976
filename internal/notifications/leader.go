package notifications

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/mndd/notifier/internal/push"
	"github.com/mndd/notifier/internal/registry"
)

// ErrNoSnapshot is returned by a SnapshotStore when a scope has never had a
// leader recorded.
var ErrNoSnapshot = errors.New("no leaderboard snapshot")

// Order says which end of a ranking wins.
type Order string

const (
	OrderDesc Order = "desc" // highest metric leads (points)
	OrderAsc  Order = "asc"  // lowest metric leads (elapsed time)
)

// RankEntry is one member of a ranked set, in source order.
type RankEntry struct {
	MemberID string  `json:"member_id"`
	Label    string  `json:"label"`
	Metric   float64 `json:"metric"`
}

// Snapshot is the last leader that was announced for a scope.
type Snapshot struct {
	ScopeKey    string
	LeaderID    string
	LeaderLabel string
	MetricValue float64
	Version     int64
	UpdatedAt   time.Time
}

// RankingSource returns the ranked set for a scope.
type RankingSource interface {
	Ranked(ctx context.Context, scope string, order Order) ([]RankEntry, error)
}

// SnapshotStore persists one snapshot per scope.
type SnapshotStore interface {
	Snapshot(ctx context.Context, scope string) (Snapshot, error)
	SaveSnapshot(ctx context.Context, s Snapshot) error
}

// MessageFunc builds a leader announcement for a resolved scope.
type MessageFunc func(scope string, leader RankEntry) push.Template

// ScopeFunc resolves the board's scope at run time. ok=false means there is
// nothing to rank right now.
type ScopeFunc func(ctx context.Context) (scope string, ok bool, err error)

// Board describes one leaderboard to watch.
type Board struct {
	Name         string
	Scope        string
	ScopeFunc    ScopeFunc // overrides Scope when set
	Order        Order
	Personalized bool
	Source       RankingSource

	// Message builds the broadcast. Personal, when set, builds the message
	// for the leader's own devices on personalized boards.
	Message  MessageFunc
	Personal MessageFunc
}

// Top returns the winning entry. Ties keep the first entry in source order.
func Top(entries []RankEntry, order Order) (RankEntry, bool) {
	if len(entries) == 0 {
		return RankEntry{}, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		switch order {
		case OrderAsc:
			if e.Metric < best.Metric {
				best = e
			}
		default:
			if e.Metric > best.Metric {
				best = e
			}
		}
	}
	return best, true
}

// sameMetric treats values that print identically as unchanged.
func sameMetric(a, b float64) bool {
	return a == b || math.Abs(a-b) < 1e-9
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Leaders is the leader-change evaluator over a set of boards.
type Leaders struct {
	deps   Deps
	snaps  SnapshotStore
	boards []Board
}

// NewLeaders creates the leader-change evaluator.
func NewLeaders(deps Deps, snaps SnapshotStore, boards ...Board) *Leaders {
	return &Leaders{deps: deps.withDefaults(), snaps: snaps, boards: boards}
}

func (l *Leaders) Name() string { return "leaders" }

// Run checks every board once. A failing board does not stop the others.
func (l *Leaders) Run(ctx context.Context) (sum RunSummary) {
	sum = newRun(l.Name(), l.deps.Now())
	defer func() { sum.finish(l.deps.Now()) }()

	for _, b := range l.boards {
		if ctx.Err() != nil {
			sum.addError("run cancelled: %v", ctx.Err())
			break
		}
		sum.Evaluated++
		if err := l.checkBoard(ctx, b, &sum); err != nil {
			l.deps.Logger.Warn("Leader check failed", "board", b.Name, "error", err)
			sum.addError("board %s: %v", b.Name, err)
		}
	}
	return sum
}

func (l *Leaders) checkBoard(ctx context.Context, b Board, sum *RunSummary) error {
	scope := b.Scope
	if b.ScopeFunc != nil {
		s, ok, err := b.ScopeFunc(ctx)
		if err != nil {
			return fmt.Errorf("resolve scope: %w", err)
		}
		if !ok {
			return nil
		}
		scope = s
	}

	entries, err := b.Source.Ranked(ctx, scope, b.Order)
	if err != nil {
		return fmt.Errorf("load ranking %s: %w", scope, err)
	}
	leader, ok := Top(entries, b.Order)
	if !ok {
		return nil
	}

	prev, err := l.snaps.Snapshot(ctx, scope)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		prev = Snapshot{ScopeKey: scope}
	case err != nil:
		return fmt.Errorf("load snapshot %s: %w", scope, err)
	case prev.LeaderID == leader.MemberID && sameMetric(prev.MetricValue, leader.Metric):
		return nil
	}
	sum.Due++

	devs, err := l.deps.Registry.Resolve(ctx, registry.AllLoggedIn())
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	next := Snapshot{
		ScopeKey:    scope,
		LeaderID:    leader.MemberID,
		LeaderLabel: leader.Label,
		MetricValue: leader.Metric,
		Version:     prev.Version + 1,
		UpdatedAt:   l.deps.Now(),
	}
	occurrence := fmt.Sprintf("v%d:%s:%s", next.Version, leader.MemberID, formatMetric(leader.Metric))

	won, err := l.deps.Claims.TryClaim(ctx, keyLeader+scope, occurrence)
	if err != nil {
		return fmt.Errorf("claim %s: %w", occurrence, err)
	}
	if !won {
		sum.ClaimsLost++
		l.deps.Logger.Info("Leader change already claimed", "scope", scope, "occurrence", occurrence)
		// The winner may have failed to save; the version guard makes this
		// write a no-op when it did not.
		if err := l.snaps.SaveSnapshot(ctx, next); err != nil {
			return fmt.Errorf("repair snapshot %s: %w", scope, err)
		}
		return nil
	}

	l.deps.Logger.Info("Leader changed", "board", b.Name, "scope", scope,
		"leader", leader.MemberID, "metric", leader.Metric, "previous", prev.LeaderID)

	if b.Personalized && b.Personal != nil {
		owned, others := registry.Partition(devs, leader.MemberID)
		l.send(ctx, sum, owned, b.Personal(scope, leader))
		l.send(ctx, sum, others, b.Message(scope, leader))
	} else {
		l.send(ctx, sum, devs, b.Message(scope, leader))
	}
	sum.Notified++

	if err := l.snaps.SaveSnapshot(ctx, next); err != nil {
		return fmt.Errorf("save snapshot %s: %w", scope, err)
	}
	return nil
}

func (l *Leaders) send(ctx context.Context, sum *RunSummary, devs []registry.Device, tmpl push.Template) {
	if len(devs) == 0 {
		return
	}
	sum.recordDispatch(l.deps.Sender.Dispatch(ctx, registry.Addresses(devs), tmpl))
}
