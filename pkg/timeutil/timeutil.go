// Package timeutil provides calendar-day utilities in the institution's timezone.
// Late events are stored as UTC instants; every "same day" question (date-level
// removal, the same-day guard, reports) is answered in local time.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// InstituteTZ is the default institution timezone (IST, UTC+5:30, no DST).
var InstituteTZ = time.FixedZone("Asia/Kolkata", 5*60*60+30*60)

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatTimestamp keeps microseconds, the precision the store persists.
	FormatTimestamp = "2006-01-02T15:04:05.000000Z07:00"
)

// Calendar answers day-level questions in a fixed location.
// The zero value uses InstituteTZ.
type Calendar struct {
	loc *time.Location
}

// NewCalendar creates a calendar for loc. A nil loc means InstituteTZ.
func NewCalendar(loc *time.Location) Calendar {
	return Calendar{loc: loc}
}

// LoadCalendar resolves an IANA zone name ("Asia/Kolkata", "UTC").
func LoadCalendar(name string) (Calendar, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Calendar{}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	return Calendar{loc: loc}, nil
}

// Location returns the calendar's location.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return InstituteTZ
	}
	return c.loc
}

// In converts t to the calendar's location.
func (c Calendar) In(t time.Time) time.Time {
	return t.In(c.Location())
}

// Date creates local midnight for the given date.
func (c Calendar) Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, c.Location())
}

// StartOfDay returns local midnight of t's day.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	l := c.In(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.Location())
}

// EndOfDay returns the last nanosecond of t's local day.
func (c Calendar) EndOfDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// SameDay reports whether t1 and t2 fall on the same local calendar day.
func (c Calendar) SameDay(t1, t2 time.Time) bool {
	a1, a2 := c.In(t1), c.In(t2)
	return a1.Year() == a2.Year() && a1.YearDay() == a2.YearDay()
}

// OnAnyDay reports whether t falls on the local day of any of days.
func (c Calendar) OnAnyDay(t time.Time, days []time.Time) bool {
	for _, d := range days {
		if c.SameDay(t, d) {
			return true
		}
	}
	return false
}

// DaysBetween calculates the number of local days between two times.
func (c Calendar) DaysBetween(t1, t2 time.Time) int {
	a1 := c.StartOfDay(t1)
	a2 := c.StartOfDay(t2)
	days := int(a2.Sub(a1).Round(time.Hour).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// FormatDate formats t as YYYY-MM-DD in local time.
func (c Calendar) FormatDate(t time.Time) string {
	return c.In(t).Format(FormatDate)
}

// FormatDateTime formats t as "YYYY-MM-DD HH:MM" in local time.
func (c Calendar) FormatDateTime(t time.Time) string {
	return c.In(t).Format(FormatDateTime)
}

// ParseDate parses YYYY-MM-DD as local midnight.
func (c Calendar) ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(FormatDate, strings.TrimSpace(value), c.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: parse date %q: %w", value, err)
	}
	return t, nil
}

// ParseDates parses a list of YYYY-MM-DD values, dropping duplicates.
func (c Calendar) ParseDates(values []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		t, err := c.ParseDate(v)
		if err != nil {
			return nil, err
		}
		key := t.Format(FormatDate)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Canonical normalizes an instant to UTC with microsecond precision so that
// values survive a round trip through timestamptz unchanged.
func Canonical(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
