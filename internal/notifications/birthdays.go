package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/mndd/notifier/internal/civil"
	"github.com/mndd/notifier/internal/push"
	"github.com/mndd/notifier/internal/registry"
)

const keyBirthday = keyDaily + "birthday"

// Member is an app user and the birth date typed into their profile.
type Member struct {
	ID           string
	Name         string
	RawBirthDate string
}

// MemberStore lists members that filled in a birth date.
type MemberStore interface {
	MembersWithBirthDates(ctx context.Context) ([]Member, error)
}

// BirthdayConfig places the daily birthday window.
type BirthdayConfig struct {
	At       civil.Clock
	Window   time.Duration
	Location *time.Location
}

// Birthdays greets every member on their birthday, on their own devices.
type Birthdays struct {
	deps    Deps
	members MemberStore
	cfg     BirthdayConfig
}

func NewBirthdays(deps Deps, members MemberStore, cfg BirthdayConfig) *Birthdays {
	if cfg.Window <= 0 {
		cfg.Window = defaultDailyWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Birthdays{deps: deps.withDefaults(), members: members, cfg: cfg}
}

func (b *Birthdays) Name() string { return "birthdays" }

// Due reports whether now falls inside the greeting window.
func (b *Birthdays) Due(now time.Time) bool {
	return inDailyWindow(now, b.cfg.At, b.cfg.Window, b.cfg.Location)
}

func (b *Birthdays) Run(ctx context.Context) (sum RunSummary) {
	now := b.deps.Now()
	sum = newRun(b.Name(), now)
	defer func() { sum.finish(b.deps.Now()) }()

	if !b.Due(now) {
		return sum
	}
	members, err := b.members.MembersWithBirthDates(ctx)
	if err != nil {
		sum.addError("list members: %v", err)
		return sum
	}

	day := civil.Today(now, b.cfg.Location)
	for _, m := range members {
		if ctx.Err() != nil {
			sum.addError("run cancelled: %v", ctx.Err())
			break
		}
		sum.Evaluated++
		birthday, err := civil.ParseAnniversary(m.RawBirthDate)
		if err != nil {
			sum.Invalid++
			b.deps.Logger.Debug("Skipping unparseable birth date", "member", m.ID, "raw", m.RawBirthDate)
			continue
		}
		if !birthday.On(day) {
			continue
		}
		sum.Due++
		if err := b.greet(ctx, m, day, &sum); err != nil {
			b.deps.Logger.Warn("Birthday greeting failed", "member", m.ID, "error", err)
			sum.addError("member %s: %v", m.ID, err)
		}
	}
	return sum
}

func (b *Birthdays) greet(ctx context.Context, m Member, day civil.Date, sum *RunSummary) error {
	devs, err := b.deps.Registry.Resolve(ctx, registry.OwnedBy(m.ID))
	if err != nil {
		return fmt.Errorf("resolve devices: %w", err)
	}
	if len(devs) == 0 {
		sum.NoAudience++
		return nil
	}

	won, err := claimAndSend(ctx, b.deps, sum, keyBirthday, m.ID+":"+day.String(), devs, birthdayTemplate(m.Name))
	if err != nil || !won {
		return err
	}
	sum.Notified++
	return nil
}

func birthdayTemplate(name string) push.Template {
	return push.Template{
		Title: "🎉 Feliz Aniversário!",
		Body:  fmt.Sprintf("Deus te abençoe, %s! 🙌🎂", orDefault(name, "Irmão(a)")),
		Data:  map[string]any{"type": "birthday"},
	}
}
