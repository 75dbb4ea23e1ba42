// Package timeutil provides the calendar-day arithmetic used by streaks, goals
// and daily summaries. All day boundaries are UTC midnights, so the number of
// days between two activities never depends on the host locale or timezone.
package timeutil

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the canonical wire format of a Date.
const DateLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// Clock returns the current instant. Components take a Clock so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time {
	return time.Now()
}

// ══════════════════════════════════════════════════════════════════════════════
// DATE
// ══════════════════════════════════════════════════════════════════════════════

// Date is a calendar day in UTC. The zero value is the "no date" marker.
type Date struct {
	t time.Time // always 00:00:00 UTC
}

// NewDate builds a Date from its components. Out-of-range values are normalized
// the same way time.Date normalizes them.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the UTC calendar day containing t.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// Today returns the UTC calendar day of clock().
func Today(clock Clock) Date {
	if clock == nil {
		clock = SystemClock
	}
	return DateOf(clock())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate that panics on error. Intended for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time returns the UTC midnight starting d.
func (d Date) Time() time.Time {
	return d.t
}

// End returns the first instant of the following day (exclusive upper bound).
func (d Date) End() time.Time {
	return d.t.AddDate(0, 0, 1)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.t.Before(other.t)
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool {
	return d.t.After(other.t)
}

// Equal reports whether d and other denote the same day.
func (d Date) Equal(other Date) bool {
	return d.t.Equal(other.t)
}

// String formats d as YYYY-MM-DD. The zero Date formats as "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// MarshalJSON encodes d as a YYYY-MM-DD string, or null for the zero Date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string or null.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DAY ARITHMETIC
// ══════════════════════════════════════════════════════════════════════════════

// DaysBetween returns the signed number of calendar days from `from` to `to`.
// DaysBetween(D, D+1) == 1 and DaysBetween(D+1, D) == -1.
func DaysBetween(from, to Date) int {
	return int((to.t.Unix() - from.t.Unix()) / secondsPerDay)
}

// IsConsecutiveDay reports whether next is exactly one day after prev.
func IsConsecutiveDay(prev, next Date) bool {
	return DaysBetween(prev, next) == 1
}

// LastNDays returns the n days ending at (and including) end, oldest first.
func LastNDays(end Date, n int) []Date {
	if n <= 0 {
		return nil
	}
	days := make([]Date, n)
	for i := 0; i < n; i++ {
		days[i] = end.AddDays(i - n + 1)
	}
	return days
}
