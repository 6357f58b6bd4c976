package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/mndd/notifier/internal/civil"
	"github.com/mndd/notifier/internal/registry"
)

// Entity kinds with their own reminder templates.
const (
	KindService = "service"
	KindEvent   = "event"
)

// Entity is a scheduled thing that gets one reminder before it starts.
// RawDate and RawTime are kept exactly as stored.
type Entity struct {
	ID            string
	Kind          string
	RawDate       string
	RawTime       string
	TypeLabel     string
	LocationLabel string
	NotifiedAt    *time.Time
}

// EntityStore lists entities and records that one was notified.
type EntityStore interface {
	PendingEntities(ctx context.Context) ([]Entity, error)
	MarkNotified(ctx context.Context, id string, at time.Time) error
}

// ReminderConfig positions the reminder window relative to the start time.
type ReminderConfig struct {
	Lead      time.Duration
	Tolerance time.Duration
	Location  *time.Location
}

// Reminders is the time-window evaluator.
type Reminders struct {
	deps  Deps
	store EntityStore
	cfg   ReminderConfig
}

// NewReminders creates the reminder evaluator. Zero config values fall back
// to a 120 minute lead with 5 minutes of tolerance in the default timezone.
func NewReminders(deps Deps, store EntityStore, cfg ReminderConfig) *Reminders {
	if cfg.Lead <= 0 {
		cfg.Lead = defaultReminderLead
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	} else if cfg.Tolerance == 0 {
		cfg.Tolerance = defaultReminderTolerance
	}
	if cfg.Location == nil {
		loc, err := civil.LoadLocation("")
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	return &Reminders{deps: deps.withDefaults(), store: store, cfg: cfg}
}

func (r *Reminders) Name() string { return "reminders" }

// InWindow reports whether an entity starting minutesUntil from now is due.
// Both bounds are inclusive.
func (r *Reminders) InWindow(minutesUntil float64) bool {
	lo := (r.cfg.Lead - r.cfg.Tolerance).Minutes()
	hi := (r.cfg.Lead + r.cfg.Tolerance).Minutes()
	return minutesUntil >= lo && minutesUntil <= hi
}

// Run evaluates every pending entity once.
func (r *Reminders) Run(ctx context.Context) (sum RunSummary) {
	now := r.deps.Now()
	sum = newRun(r.Name(), now)
	defer func() { sum.finish(r.deps.Now()) }()

	entities, err := r.store.PendingEntities(ctx)
	if err != nil {
		r.deps.Logger.Error("Failed to list entities", "error", err)
		sum.addError("list entities: %v", err)
		return sum
	}

	for _, e := range entities {
		if ctx.Err() != nil {
			sum.addError("run cancelled: %v", ctx.Err())
			break
		}
		sum.Evaluated++

		at, err := civil.Combine(e.RawDate, e.RawTime, r.cfg.Location)
		if err != nil {
			sum.Invalid++
			r.deps.Logger.Warn("Skipping entity with unparseable schedule",
				"entity_id", e.ID, "date", e.RawDate, "time", e.RawTime, "error", err)
			continue
		}

		diff := civil.MinutesUntil(at, now)
		if diff < 0 || !r.InWindow(diff) || e.NotifiedAt != nil {
			continue
		}
		sum.Due++

		if err := r.notify(ctx, e, at, &sum); err != nil {
			r.deps.Logger.Warn("Reminder failed", "entity_id", e.ID, "error", err)
			sum.addError("entity %s: %v", e.ID, err)
		}
	}
	return sum
}

func (r *Reminders) notify(ctx context.Context, e Entity, at time.Time, sum *RunSummary) error {
	devs, err := r.deps.Registry.Resolve(ctx, registry.AllLoggedIn())
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}
	if len(devs) == 0 {
		sum.NoAudience++
		return nil
	}

	won, err := claimAndSend(ctx, r.deps, sum, keyReminder+e.ID, at.Format(time.RFC3339), devs, reminderTemplate(e, at.In(r.cfg.Location)))
	if err != nil || !won {
		return err
	}
	sum.Notified++

	if err := r.store.MarkNotified(ctx, e.ID, r.deps.Now()); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}
