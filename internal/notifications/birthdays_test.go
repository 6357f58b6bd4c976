package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mndd/notifier/internal/civil"
	"github.com/mndd/notifier/internal/registry"
)

// 09:02 on 25 June in São Paulo.
var birthdayNow = time.Date(2026, 6, 25, 12, 2, 0, 0, time.UTC)

func newTestBirthdays(h *harness, members ...Member) *Birthdays {
	return NewBirthdays(h.deps(), &fakeMembers{members: members}, BirthdayConfig{
		At:       civil.Clock{Hour: 9},
		Window:   10 * time.Minute,
		Location: h.loc,
	})
}

func TestBirthdays_GreetsOnlyTodaysMembersOnTheirDevices(t *testing.T) {
	h := newHarness(birthdayNow)
	b := newTestBirthdays(h,
		Member{ID: "u1", Name: "Ana", RawBirthDate: "25/06/1990"},
		Member{ID: "u2", Name: "Bia", RawBirthDate: "26/06"},
		Member{ID: "u3", RawBirthDate: "1988-06-25"},
		Member{ID: "u4", Name: "Caio", RawBirthDate: "junho"},
	)

	sum := b.Run(context.Background())

	assert.Equal(t, 4, sum.Evaluated)
	assert.Equal(t, 1, sum.Invalid)
	assert.Equal(t, 2, sum.Due)
	assert.Equal(t, 2, sum.Notified)
	assert.Empty(t, sum.Errors)

	require.Equal(t, 2, h.sender.count())
	assert.Equal(t, []string{token(0)}, h.sender.calls[0].addresses)
	assert.Equal(t, "🎉 Feliz Aniversário!", h.sender.calls[0].tmpl.Title)
	assert.Equal(t, "Deus te abençoe, Ana! 🙌🎂", h.sender.calls[0].tmpl.Body)
	assert.Equal(t, []string{token(2)}, h.sender.calls[1].addresses)
	assert.Equal(t, "Deus te abençoe, Irmão(a)! 🙌🎂", h.sender.calls[1].tmpl.Body)
	assert.Equal(t, registry.OwnedBy("u1"), h.reg.calls[0])
}

func TestBirthdays_OncePerMemberPerDay(t *testing.T) {
	h := newHarness(birthdayNow)
	b := newTestBirthdays(h, Member{ID: "u1", Name: "Ana", RawBirthDate: "25/06"})

	b.Run(context.Background())
	h.clock.Set(birthdayNow.Add(5 * time.Minute))
	second := b.Run(context.Background())

	assert.Equal(t, 1, second.ClaimsLost)
	assert.Equal(t, 1, h.sender.count())

	won, err := h.claims.TryClaim(context.Background(), "daily:birthday", "u1:2026-06-25")
	require.NoError(t, err)
	assert.False(t, won, "occurrence is the member and the civil day")
}

func TestBirthdays_OutsideWindowDoesNothing(t *testing.T) {
	h := newHarness(birthdayNow.Add(-time.Hour))
	sum := newTestBirthdays(h, Member{ID: "u1", RawBirthDate: "25/06"}).Run(context.Background())

	assert.Zero(t, sum.Evaluated)
	assert.Zero(t, h.sender.count())
}

func TestBirthdays_MemberWithoutDevicesIsNotClaimed(t *testing.T) {
	h := newHarness(birthdayNow)
	b := newTestBirthdays(h, Member{ID: "u9", Name: "Davi", RawBirthDate: "25/06"})

	sum := b.Run(context.Background())
	assert.Equal(t, 1, sum.NoAudience)
	assert.Zero(t, sum.Notified)

	// Registering later the same day still gets the greeting.
	h.reg.devices = append(h.reg.devices, registry.Device{Address: token(9), OwnerID: "u9", LoggedIn: true})
	sum = b.Run(context.Background())
	assert.Equal(t, 1, sum.Notified)
	assert.Equal(t, []string{token(9)}, h.sender.calls[0].addresses)
}

func TestBirthdays_LeapDayOnlyOnLeapYears(t *testing.T) {
	h := newHarness(time.Date(2027, 2, 28, 12, 2, 0, 0, time.UTC))
	b := newTestBirthdays(h, Member{ID: "u1", RawBirthDate: "29/02/2000"})

	assert.Zero(t, b.Run(context.Background()).Due)
	h.clock.Set(time.Date(2028, 2, 29, 12, 2, 0, 0, time.UTC))
	assert.Equal(t, 1, b.Run(context.Background()).Notified)
}

func TestBirthdays_ListFailureIsRecorded(t *testing.T) {
	h := newHarness(birthdayNow)
	b := NewBirthdays(h.deps(), &fakeMembers{err: errors.New("db down")}, BirthdayConfig{At: civil.Clock{Hour: 9}, Location: h.loc})

	sum := b.Run(context.Background())
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "db down")
}
