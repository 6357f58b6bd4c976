package civil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate_BothForms(t *testing.T) {
	tests := []struct {
		raw  string
		want Date
	}{
		{"25/06/2025", Date{2025, time.June, 25}},
		{"2025-06-25", Date{2025, time.June, 25}},
		{" 01/01/2026 ", Date{2026, time.January, 1}},
		{"2024-02-29", Date{2024, time.February, 29}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDate(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, raw := range []string{"", "25.06.2025", "31/02/2025", "2025-13-01", "aa/bb/cccc", "2025-06", "2023-02-29"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseDate(raw)
			assert.ErrorIs(t, err, ErrInvalidDate)
		})
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("20:00")
	require.NoError(t, err)
	assert.Equal(t, Clock{20, 0}, c)
	assert.Equal(t, 1200, c.Minutes())

	c, err = ParseClock("07:05:30")
	require.NoError(t, err)
	assert.Equal(t, "07:05", c.String())

	for _, raw := range []string{"", "24:00", "12:60", "noon", "12"} {
		_, err := ParseClock(raw)
		assert.ErrorIs(t, err, ErrInvalidTime, raw)
	}
}

func TestCombine_UsesCivilZone(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)

	got, err := Combine("25/06/2025", "20:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 25, 23, 0, 0, 0, time.UTC), got.UTC())

	iso, err := Combine("2025-06-25", "20:00", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(iso))
}

func TestCombine_PropagatesParseErrors(t *testing.T) {
	_, err := Combine("2025-06-25", "", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidTime)

	_, err = Combine("", "10:00", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestToday_CrossesMidnightInZone(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	now := time.Date(2025, 6, 26, 1, 30, 0, 0, time.UTC)

	assert.Equal(t, "2025-06-25", Today(now, loc).String())
	assert.Equal(t, "22:30", ClockOf(now, loc).String())
}

func TestMinutesUntil(t *testing.T) {
	now := time.Date(2025, 6, 25, 18, 0, 0, 0, time.UTC)
	assert.InDelta(t, 120.0, MinutesUntil(now.Add(2*time.Hour), now), 1e-9)
	assert.Less(t, MinutesUntil(now.Add(-time.Minute), now), 0.0)
}

func TestParseAnniversary(t *testing.T) {
	tests := []struct {
		raw  string
		want Anniversary
	}{
		{"25/06", Anniversary{time.June, 25}},
		{"5/3", Anniversary{time.March, 5}},
		{"25/06/1990", Anniversary{time.June, 25}},
		{"1990-06-25", Anniversary{time.June, 25}},
		{"29/02", Anniversary{time.February, 29}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAnniversary(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, raw := range []string{"", "31/02", "00/01", "aa/bb", "29/02/2023", "junho"} {
		_, err := ParseAnniversary(raw)
		assert.ErrorIs(t, err, ErrInvalidDate, raw)
	}
}

func TestAnniversary_On(t *testing.T) {
	a := Anniversary{Month: time.June, Day: 25}
	assert.True(t, a.On(Date{2026, time.June, 25}))
	assert.False(t, a.On(Date{2026, time.June, 26}))

	leap := Anniversary{Month: time.February, Day: 29}
	assert.True(t, leap.On(Date{2028, time.February, 29}))
	assert.False(t, leap.On(Date{2027, time.February, 28}))
	assert.False(t, leap.On(Date{2027, time.March, 1}))
}
