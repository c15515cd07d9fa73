// Package period holds every day and week boundary calculation used by the
// ledger, the evaluator and the notification tracker.
//
// Weekdays follow the 1=Sunday .. 7=Saturday numbering used by stored rules
// and import documents.
package period

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DayLayout is the storage format for calendar dates.
	DayLayout = "2006-01-02"

	// DateTimeLayout is used in human-readable summaries.
	DateTimeLayout = "2006-01-02 15:04"

	// Sunday through Saturday in stored-rule numbering.
	Sunday    = 1
	Monday    = 2
	Tuesday   = 3
	Wednesday = 4
	Thursday  = 5
	Friday    = 6
	Saturday  = 7
)

var dayNames = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// DayKey returns the calendar date of t in its own location.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// Weekday returns t's weekday as 1=Sunday .. 7=Saturday.
func Weekday(t time.Time) int {
	return int(t.Weekday()) + 1
}

// DayName returns the short English name for a 1..7 weekday, or "?".
func DayName(day int) string {
	if day < Sunday || day > Saturday {
		return "?"
	}
	return dayNames[day-1]
}

// StartOfDay returns local midnight of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WeekStart returns the most recent weekly reset boundary at or before now.
// resetDay uses 1=Sunday numbering; hour and minute give the time of day the
// week rolls over.
func WeekStart(now time.Time, resetDay, resetHour, resetMinute int) time.Time {
	diff := Weekday(now) - resetDay
	if diff < 0 {
		diff += 7
	}

	start := time.Date(now.Year(), now.Month(), now.Day()-diff, resetHour, resetMinute, 0, 0, now.Location())
	if now.Before(start) {
		start = start.AddDate(0, 0, -7)
	}
	return start
}

// WeekStartKey is DayKey(WeekStart(...)).
func WeekStartKey(now time.Time, resetDay, resetHour, resetMinute int) string {
	return DayKey(WeekStart(now, resetDay, resetHour, resetMinute))
}

// NextWeekStart returns the first reset boundary strictly after now.
func NextWeekStart(now time.Time, resetDay, resetHour, resetMinute int) time.Time {
	return WeekStart(now, resetDay, resetHour, resetMinute).AddDate(0, 0, 7)
}

// ParseDateTime combines a stored calendar date with an hour and minute in loc.
func ParseDateTime(date string, hour, minute int, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DayLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time %02d:%02d", hour, minute)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc), nil
}

// FormatDateTime renders t as "2006-01-02 15:04".
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// FormatClock renders an hour and minute as "HH:MM".
func FormatClock(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// FormatMinutes renders a minute count as "2h 5m" or "45m".
func FormatMinutes(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	h, m := minutes/60, minutes%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// FormatDuration renders d as "1d 2h 3m 4s", omitting zero components.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}

	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}
