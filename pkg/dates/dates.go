// Package dates normalizes the loosely formatted dates found in old registers
// and keeps every date at or after the society's minimum system date.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical storage and display format.
const Layout = "2006-01-02"

var dmyPattern = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{2}|\d{4})$`)

// Clamp returns t, or min when t falls before it. A zero min disables clamping.
func Clamp(t, min time.Time) time.Time {
	if !min.IsZero() && t.Before(min) {
		return min
	}
	return t
}

// Parse reads DD-MM-YYYY, DD/MM/YYYY or DD.MM.YYYY (two-digit years pivot at 50:
// above 50 is 19xx, otherwise 20xx) and the canonical YYYY-MM-DD form.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(Layout, s); err == nil {
		return t, nil
	}
	m := dmyPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognised date %q", s)
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		if year > 50 {
			year += 1900
		} else {
			year += 2000
		}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalises 31-02 into March; treat that as a bad date instead.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", s)
	}
	return t, nil
}

// Normalize converts s to YYYY-MM-DD clamped to min. Strings that cannot be
// parsed come back unchanged with ok=false so callers can flag them softly.
func Normalize(s string, min time.Time) (string, bool) {
	t, err := Parse(s)
	if err != nil {
		return s, false
	}
	return Clamp(t, min).Format(Layout), true
}

// Truncate drops the time of day, keeping the date in UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextMonth returns the smallest k >= 1 for which AddMonths(anchor, k) falls
// after t.
func NextMonth(anchor, t time.Time) int {
	k := (t.Year()-anchor.Year())*12 + int(t.Month()-anchor.Month())
	if k < 1 {
		k = 1
	}
	for !AddMonths(anchor, k).After(t) {
		k++
	}
	return k
}

// AddMonths moves t forward n calendar months, pinning to the last day of the
// target month instead of overflowing (31 Jan + 1 month is 28/29 Feb).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
