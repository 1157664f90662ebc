package model

import (
	"fmt"
	"time"
)

// DateLayout is the canonical calendar date format used for keys and storage.
const DateLayout = "2006-01-02"

// Date is a calendar day in DateLayout form. The zero value is the empty
// string and never a valid day. ISO ordering makes plain string comparison
// chronological.
type Date string

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("parsing date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns midnight of d in loc. An invalid date yields the zero time.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns the date n calendar days after d.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time(time.UTC).AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d < other }

// Weekday returns the day of the week for d.
func (d Date) Weekday() time.Weekday { return d.Time(time.UTC).Weekday() }

// IsWeekend reports whether d falls on Saturday or Sunday.
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Date) String() string { return string(d) }

// WeekdayWindow returns the next n weekdays starting at today (inclusive),
// skipping Saturdays and Sundays. The cafeteria never publishes weekend menus.
func WeekdayWindow(today Date, n int) []Date {
	dates := make([]Date, 0, n)
	for d := today; len(dates) < n; d = d.AddDays(1) {
		if d.IsWeekend() {
			continue
		}
		dates = append(dates, d)
	}
	return dates
}

// TimeOfDay is a wall-clock time used for the daily schedule points.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parsing time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// After reports whether t is strictly later in the day than u.
func (t TimeOfDay) After(u TimeOfDay) bool {
	return t.Hour*60+t.Minute > u.Hour*60+u.Minute
}

// NextWeekdayAt returns the first instant strictly after now that falls on
// a weekday at the given time of day in loc.
func NextWeekdayAt(now time.Time, at TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), at.Hour, at.Minute, 0, 0, loc)
	for !candidate.After(local) || isWeekend(candidate.Weekday()) {
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, at.Hour, at.Minute, 0, 0, loc)
	}
	return candidate
}

func isWeekend(wd time.Weekday) bool {
	return wd == time.Saturday || wd == time.Sunday
}
