package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
//
// Examples:
//   - "*/15 * * * *"  every 15 minutes
//   - "30 2 * * *"    every day at 02:30
//   - "0 6 1 6,12 *"  06:00 on the first of June and December
//
// When both day fields are restricted a time matches if either one does,
// as in classic cron.
type CronSchedule struct {
	raw      string
	minutes  fieldSet
	hours    fieldSet
	days     fieldSet
	months   fieldSet
	weekdays fieldSet
	location *time.Location

	dayStar     bool
	weekdayStar bool
}

// fieldSet is a bitmask of allowed values; every cron field fits in 64 bits.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

type fieldBounds struct {
	name     string
	min, max int
}

var (
	minuteBounds  = fieldBounds{"minute", 0, 59}
	hourBounds    = fieldBounds{"hour", 0, 23}
	dayBounds     = fieldBounds{"day-of-month", 1, 31}
	monthBounds   = fieldBounds{"month", 1, 12}
	weekdayBounds = fieldBounds{"day-of-week", 0, 6}
)

// ParseCron parses a cron expression evaluated in loc (UTC when nil).
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(fields))
	}
	if loc == nil {
		loc = time.UTC
	}

	cs := &CronSchedule{
		raw:         expr,
		location:    loc,
		dayStar:     fields[2] == "*",
		weekdayStar: fields[4] == "*",
	}

	targets := []struct {
		dst    *fieldSet
		bounds fieldBounds
	}{
		{&cs.minutes, minuteBounds},
		{&cs.hours, hourBounds},
		{&cs.days, dayBounds},
		{&cs.months, monthBounds},
		{&cs.weekdays, weekdayBounds},
	}
	for i, t := range targets {
		set, err := parseCronField(fields[i], t.bounds)
		if err != nil {
			return nil, fmt.Errorf("cron %q: %w", expr, err)
		}
		*t.dst = set
	}
	return cs, nil
}

// MustParseCron is ParseCron that panics on error. For constant expressions.
func MustParseCron(expr string, loc *time.Location) *CronSchedule {
	cs, err := ParseCron(expr, loc)
	if err != nil {
		panic(err)
	}
	return cs
}

// parseCronField accepts comma-separated terms of the form *, n, n-m,
// each optionally followed by /step.
func parseCronField(field string, b fieldBounds) (fieldSet, error) {
	var set fieldSet
	for _, term := range strings.Split(field, ",") {
		if term == "" {
			return 0, fmt.Errorf("%s: empty term", b.name)
		}

		rangePart, step := term, 1
		if i := strings.IndexByte(term, '/'); i >= 0 {
			s, err := strconv.Atoi(term[i+1:])
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("%s: invalid step in %q", b.name, term)
			}
			rangePart, step = term[:i], s
		}

		lo, hi := b.min, b.max
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			parts := strings.SplitN(rangePart, "-", 2)
			var err error
			if lo, err = b.value(parts[0]); err != nil {
				return 0, err
			}
			if hi, err = b.value(parts[1]); err != nil {
				return 0, err
			}
			if lo > hi {
				return 0, fmt.Errorf("%s: range %q is inverted", b.name, rangePart)
			}
		default:
			v, err := b.value(rangePart)
			if err != nil {
				return 0, err
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}

		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func (b fieldBounds) value(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid value %q", b.name, s)
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("%s: %d out of range [%d-%d]", b.name, v, b.min, b.max)
	}
	return v, nil
}

// String returns the original expression.
func (cs *CronSchedule) String() string {
	return cs.raw
}

// Next returns the first matching minute strictly after t, or the zero time
// if nothing matches within five years (e.g. "0 0 31 2 *").
func (cs *CronSchedule) Next(t time.Time) time.Time {
	local := t.In(cs.location).Truncate(time.Minute).Add(time.Minute)
	limit := local.AddDate(5, 0, 0)

	for local.Before(limit) {
		if !cs.months.has(int(local.Month())) {
			local = time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, cs.location)
			continue
		}
		if !cs.dayMatches(local) {
			local = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, cs.location)
			continue
		}
		if !cs.hours.has(local.Hour()) {
			local = time.Date(local.Year(), local.Month(), local.Day(), local.Hour()+1, 0, 0, 0, cs.location)
			continue
		}
		if !cs.minutes.has(local.Minute()) {
			local = local.Add(time.Minute)
			continue
		}
		return local
	}
	return time.Time{}
}

func (cs *CronSchedule) dayMatches(t time.Time) bool {
	dom := cs.days.has(t.Day())
	dow := cs.weekdays.has(int(t.Weekday()))
	switch {
	case cs.dayStar && cs.weekdayStar:
		return true
	case cs.dayStar:
		return dow
	case cs.weekdayStar:
		return dom
	default:
		return dom || dow
	}
}

// ParseSchedule accepts either a cron expression or "@every <duration>".
func ParseSchedule(expr string, loc *time.Location) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if rest, ok := strings.CutPrefix(expr, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("schedule %q: invalid interval", expr)
		}
		return NewIntervalSchedule(d), nil
	}
	return ParseCron(expr, loc)
}
