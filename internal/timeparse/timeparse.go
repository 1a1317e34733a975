// Package timeparse turns the time expressions users and models write
// ("in 5 minutes", "tomorrow at 9am", "2025-01-01 10:00") into instants.
package timeparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var ErrEmpty = errors.New("empty time string provided")

type relative struct {
	re   *regexp.Regexp
	calc func(m []string, now time.Time) time.Time
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func offset(unit time.Duration) func(m []string, now time.Time) time.Time {
	return func(m []string, now time.Time) time.Time {
		return now.Add(time.Duration(atoi(m[1])) * unit)
	}
}

func days(n int) func(m []string, now time.Time) time.Time {
	return func(m []string, now time.Time) time.Time {
		return now.AddDate(0, 0, atoi(m[1])*n)
	}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// first match wins, so the order matters
var relatives = []relative{
	{regexp.MustCompile(`now\s*\+\s*(\d+)\s*minutes?`), offset(time.Minute)},
	{regexp.MustCompile(`now\s*\+\s*(\d+)\s*hours?`), offset(time.Hour)},
	{regexp.MustCompile(`now\s*\+\s*(\d+)\s*days?`), days(1)},
	{regexp.MustCompile(`(?:in\s+)?(\d+)\s+minutes?(?:\s+from\s+now)?`), offset(time.Minute)},
	{regexp.MustCompile(`(?:in\s+)?(\d+)\s+hours?(?:\s+from\s+now)?`), offset(time.Hour)},
	{regexp.MustCompile(`(?:in\s+)?(\d+)\s+days?(?:\s+from\s+now)?`), days(1)},
	{regexp.MustCompile(`(?:in\s+)?(\d+)\s+weeks?(?:\s+from\s+now)?`), days(7)},
	{regexp.MustCompile(`tomorrow(?:\s+(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)?`), func(m []string, now time.Time) time.Time {
		hour, min := 9, 0
		if m[1] != "" {
			hour, min = clock(m[1], m[2], m[3])
		}
		d := now.AddDate(0, 0, 1)
		return time.Date(d.Year(), d.Month(), d.Day(), hour, min, 0, 0, now.Location())
	}},
	{regexp.MustCompile(`today(?:\s+(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)?`), func(m []string, now time.Time) time.Time {
		hour, min := now.Hour()+1, 0
		if m[1] != "" {
			hour, min = clock(m[1], m[2], m[3])
		}
		return time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	}},
	{regexp.MustCompile(`next\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)`), func(m []string, now time.Time) time.Time {
		ahead := (int(weekdays[m[1]]) - int(now.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return now.AddDate(0, 0, ahead)
	}},
}

var clockOnly = regexp.MustCompile(`^(?:at\s+)?(\d{1,2})(?::(\d{2}))?(?::(\d{2}))?\s*(am|pm)?$`)

func clock(h, m, meridiem string) (int, int) {
	hour, min := atoi(h), atoi(m)
	switch meridiem {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour, min
}

// Parse resolves expr relative to now. Relative expressions are tried
// first, then bare clock times (rolled to tomorrow when already past),
// then absolute dates in now's location.
func Parse(expr string, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	if s == "" {
		return time.Time{}, ErrEmpty
	}

	if t, err := time.Parse(time.RFC3339, strings.ToUpper(s)); err == nil {
		return t, nil
	}

	for _, r := range relatives {
		if m := r.re.FindStringSubmatch(s); m != nil {
			return r.calc(m, now), nil
		}
	}

	if m := clockOnly.FindStringSubmatch(s); m != nil && (m[2] != "" || m[4] != "") {
		hour, min := clock(m[1], m[2], m[4])
		if hour < 24 && min < 60 {
			t := time.Date(now.Year(), now.Month(), now.Day(), hour, min, atoi(m[3]), 0, now.Location())
			if !t.After(now) {
				t = t.AddDate(0, 0, 1)
			}
			return t, nil
		}
	}

	if t, err := dateparse.ParseIn(strings.TrimSpace(expr), now.Location()); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("could not parse time expression: '%s'. Please use formats like '5 minutes from now', 'tomorrow at 9am', or ISO format '2025-01-01T10:00:00'", expr)
}

// ParseAbsolute accepts only absolute timestamps, as used when moving an
// existing reminder.
func ParseAbsolute(expr string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return time.Time{}, ErrEmpty
	}
	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid new time format: %s", expr)
	}
	return t, nil
}
