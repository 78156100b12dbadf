// Package due holds the calendar arithmetic shared by the dialogue engine
// and the reminder service. All times are naive local time; a scheduled
// moment is always a calendar date combined with an original time-of-day,
// never recomputed from the wall clock.
package due

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Combine returns the calendar date of d at the time-of-day of clock.
func Combine(d, clock time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, clock.Hour(), clock.Minute(), clock.Second(), 0, d.Location())
}

// StartOfDay truncates t to 00:00 of its calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Next returns the date `days` days after now, at clockFrom's time-of-day.
// This is the rescheduling formula for both floor-mode and exact-mode tasks:
// the original time-of-day is preserved across every future occurrence.
func Next(now time.Time, days int, clockFrom time.Time) time.Time {
	return Combine(now.AddDate(0, 0, days), clockFrom)
}

// WithClock returns t's date at hour:minute.
func WithClock(t time.Time, hour, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, t.Location())
}

// ParseHHMM parses a user-entered "HH:MM" time of day.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
