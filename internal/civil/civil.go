// Package civil normalizes the raw date and time strings entered by admins
// into timezone-aware instants.
//
// Contract: a raw date is either DD/MM/YYYY or YYYY-MM-DD, a raw time is
// HH:MM (24h). Both are interpreted as wall-clock values in the configured
// civil timezone, never in the server's local zone.
package civil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // civil zones must resolve on hosts without zoneinfo
)

// DefaultTimezone is the civil zone the app's events are entered in.
const DefaultTimezone = "America/Sao_Paulo"

var (
	ErrInvalidDate = errors.New("invalid date")
	ErrInvalidTime = errors.New("invalid time")
)

// Date is a calendar day without a zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// String formats the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// ParseDate accepts DD/MM/YYYY and YYYY-MM-DD. Calendar overflow such as
// 31/02/2025 is rejected rather than normalized into March.
func ParseDate(raw string) (Date, error) {
	s := strings.TrimSpace(raw)
	var parts []string
	var y, m, d int
	var err error

	switch {
	case strings.Contains(s, "/"):
		parts = strings.Split(s, "/")
		if len(parts) != 3 {
			return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		d, m, y, err = atoi3(parts[0], parts[1], parts[2])
	case strings.Contains(s, "-"):
		parts = strings.Split(s, "-")
		if len(parts) != 3 {
			return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		y, m, d, err = atoi3(parts[0], parts[1], parts[2])
	default:
		return Date{}, fmt.Errorf("%w: unknown format %q", ErrInvalidDate, raw)
	}
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}

	if y < 1 || !validDay(y, m, d) {
		return Date{}, fmt.Errorf("%w: %q out of range", ErrInvalidDate, raw)
	}
	return Date{Year: y, Month: time.Month(m), Day: d}, nil
}

// validDay rejects days that time.Date would normalize into the next month.
func validDay(y, m, d int) bool {
	if m < 1 || m > 12 || d < 1 {
		return false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return t.Day() == d && t.Month() == time.Month(m)
}

// Anniversary is a day that recurs every year, such as a birthday.
type Anniversary struct {
	Month time.Month
	Day   int
}

// ParseAnniversary accepts DD/MM and both ParseDate forms. A year, when
// present, is validated and then dropped.
func ParseAnniversary(raw string) (Anniversary, error) {
	s := strings.TrimSpace(raw)
	if parts := strings.Split(s, "/"); len(parts) == 2 {
		d, errD := strconv.Atoi(strings.TrimSpace(parts[0]))
		m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
		// 2000 is a leap year, so 29/02 is accepted.
		if errD != nil || errM != nil || !validDay(2000, m, d) {
			return Anniversary{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		return Anniversary{Month: time.Month(m), Day: d}, nil
	}
	d, err := ParseDate(s)
	if err != nil {
		return Anniversary{}, err
	}
	return Anniversary{Month: d.Month, Day: d.Day}, nil
}

// On reports whether the anniversary falls on day. 29 February only
// falls on leap days.
func (a Anniversary) On(day Date) bool {
	return a.Month == day.Month && a.Day == day.Day
}

// ParseClock accepts HH:MM. A trailing :SS is tolerated and ignored.
func ParseClock(raw string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("%w: %q out of range", ErrInvalidTime, raw)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// Combine parses a raw date and time and returns the instant they name in loc.
func Combine(rawDate, rawTime string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := ParseDate(rawDate)
	if err != nil {
		return time.Time{}, err
	}
	c, err := ParseClock(rawTime)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc), nil
}

// MinutesUntil returns the signed number of minutes from now to t.
func MinutesUntil(t, now time.Time) float64 {
	return t.Sub(now).Minutes()
}

// Today returns the civil date of now in loc.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return Date{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// ClockOf returns the wall-clock time of now in loc.
func ClockOf(now time.Time, loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return Clock{Hour: local.Hour(), Minute: local.Minute()}
}

// LoadLocation resolves a zone name, falling back to DefaultTimezone when
// name is empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func atoi3(a, b, c string) (int, int, int, error) {
	x, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, 0, err
	}
	y, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, 0, err
	}
	z, err := strconv.Atoi(strings.TrimSpace(c))
	if err != nil {
		return 0, 0, 0, err
	}
	return x, y, z, nil
}
