package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/mndd/notifier/internal/civil"
	"github.com/mndd/notifier/internal/push"
	"github.com/mndd/notifier/internal/registry"
)

// DailySource returns the message for a channel on a given civil day.
type DailySource interface {
	DailyMessage(ctx context.Context, channel string, day civil.Date) (push.Template, bool, error)
}

// DailyJob fires once per civil day when local time enters [At, At+Window).
// Windows that cross midnight only fire before midnight.
type DailyJob struct {
	Name     string
	Channel  string
	At       civil.Clock
	Window   time.Duration
	Location *time.Location
}

// Daily is the once-per-day evaluator.
type Daily struct {
	deps   Deps
	source DailySource
	job    DailyJob
}

// NewDaily creates a daily evaluator. It registers as "daily:<job name>".
func NewDaily(deps Deps, source DailySource, job DailyJob) *Daily {
	if job.Window <= 0 {
		job.Window = defaultDailyWindow
	}
	if job.Location == nil {
		job.Location = time.UTC
	}
	return &Daily{deps: deps.withDefaults(), source: source, job: job}
}

func (d *Daily) Name() string { return "daily:" + d.job.Name }

// Due reports whether now falls inside the job's window.
func (d *Daily) Due(now time.Time) bool {
	return inDailyWindow(now, d.job.At, d.job.Window, d.job.Location)
}

// inDailyWindow reports whether the wall clock of now in loc is within
// [at, at+window).
func inDailyWindow(now time.Time, at civil.Clock, window time.Duration, loc *time.Location) bool {
	m := civil.ClockOf(now, loc).Minutes()
	start := at.Minutes()
	return m >= start && float64(m) < float64(start)+window.Minutes()
}

func (d *Daily) Run(ctx context.Context) (sum RunSummary) {
	now := d.deps.Now()
	sum = newRun(d.Name(), now)
	defer func() { sum.finish(d.deps.Now()) }()

	sum.Evaluated++
	if !d.Due(now) {
		return sum
	}
	if err := d.fire(ctx, now, &sum); err != nil {
		d.deps.Logger.Warn("Daily notification failed", "job", d.job.Name, "error", err)
		sum.addError("%v", err)
	}
	return sum
}

func (d *Daily) fire(ctx context.Context, now time.Time, sum *RunSummary) error {
	day := civil.Today(now, d.job.Location)
	tmpl, ok, err := d.source.DailyMessage(ctx, d.job.Channel, day)
	if err != nil {
		return fmt.Errorf("load message for %s: %w", day, err)
	}
	if !ok {
		d.deps.Logger.Warn("No daily message configured", "job", d.job.Name, "day", day.String())
		return nil
	}
	sum.Due++

	devs, err := d.deps.Registry.Resolve(ctx, registry.AllLoggedIn())
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}
	if len(devs) == 0 {
		sum.NoAudience++
		return nil
	}

	won, err := claimAndSend(ctx, d.deps, sum, keyDaily+d.job.Name, day.String(), devs, tmpl)
	if err != nil || !won {
		return err
	}
	sum.Notified++
	d.deps.Logger.Info("Daily notification sent", "job", d.job.Name, "day", day.String(), "recipients", sum.Recipients)
	return nil
}
