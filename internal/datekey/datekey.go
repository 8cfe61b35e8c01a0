// Package datekey converts between calendar days and YYYY-MM-DD day keys.
package datekey

import (
	"fmt"
	"time"

	"weeklet/internal/service"
)

// Layout is the day key format.
const Layout = "2006-01-02"

// Format returns the day key for t in t's location.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Parse parses a day key into midnight UTC of that day.
func Parse(day string) (time.Time, error) {
	t, err := time.Parse(Layout, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: want YYYY-MM-DD", day)
	}
	return t, nil
}

// Valid reports whether day is a canonical day key.
func Valid(day string) bool {
	t, err := Parse(day)
	return err == nil && Format(t) == day
}

// TodayKey returns the local day key of now.
func TodayKey(now time.Time) string {
	return Format(now.Local())
}

// IsToday reports whether day is the local day key of now.
func IsToday(day string, now time.Time) bool {
	return day == TodayKey(now)
}

// Shift returns the day key n days after day (n may be negative).
func Shift(day string, n int) (string, error) {
	t, err := Parse(day)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, n)), nil
}

// WeekKeys returns the 7 consecutive day keys of the week containing base,
// starting on Monday or Sunday.
func WeekKeys(base string, start service.StartOfWeek) ([]string, error) {
	t, err := Parse(base)
	if err != nil {
		return nil, err
	}

	wd := int(t.Weekday()) // Sunday = 0
	var offset int
	if start == service.Sunday {
		offset = -wd
	} else {
		offset = 1 - wd
		if wd == 0 {
			offset = -6
		}
	}

	first := t.AddDate(0, 0, offset)
	keys := make([]string, 7)
	for i := range keys {
		keys[i] = Format(first.AddDate(0, 0, i))
	}
	return keys, nil
}

// Weekday returns the day of the week of day.
func Weekday(day string) (time.Weekday, error) {
	t, err := Parse(day)
	if err != nil {
		return 0, err
	}
	return t.Weekday(), nil
}

// DayName returns the short weekday name for day, e.g. "Wed".
func DayName(day string) string {
	t, err := Parse(day)
	if err != nil {
		return ""
	}
	return t.Weekday().String()[:3]
}

// DayNum returns the day of month for day.
func DayNum(day string) int {
	t, err := Parse(day)
	if err != nil {
		return 0
	}
	return t.Day()
}

// WeekLabel describes the week spanned by keys, e.g. "Week of Jan 1-7, 2024"
// or "Week of Jan 29 - Feb 4, 2024".
func WeekLabel(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	first, err := Parse(keys[0])
	if err != nil {
		return ""
	}
	last, err := Parse(keys[len(keys)-1])
	if err != nil {
		return ""
	}
	if first.Month() == last.Month() {
		return fmt.Sprintf("Week of %s %d-%d, %d", first.Format("Jan"), first.Day(), last.Day(), last.Year())
	}
	return fmt.Sprintf("Week of %s %d - %s %d, %d", first.Format("Jan"), first.Day(), last.Format("Jan"), last.Day(), last.Year())
}
