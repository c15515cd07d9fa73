package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every Validate error.
var ErrInvalid = errors.New("invalid value")

// ParseLimitType normalizes s to a known limit type.
func ParseLimitType(s string) (LimitType, error) {
	normalized := LimitType(strings.ToLower(strings.TrimSpace(s)))
	switch normalized {
	case LimitDaily, LimitWeekly:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: limit type %q (must be daily or weekly)", ErrInvalid, s)
	}
}

// ParseDailyMode normalizes s to a known daily mode.
func ParseDailyMode(s string) (DailyMode, error) {
	normalized := DailyMode(strings.ToLower(strings.TrimSpace(s)))
	switch normalized {
	case DailySame, DailyPerDay:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: daily mode %q (must be same or per_day)", ErrInvalid, s)
	}
}

func checkClock(field string, hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: %s hour %d (must be 0-23)", ErrInvalid, field, hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("%w: %s minute %d (must be 0-59)", ErrInvalid, field, minute)
	}
	return nil
}

// Validate checks the enumerations and ranges of a restriction.
func (r *Restriction) Validate() error {
	if r.PackageName == "" {
		return fmt.Errorf("%w: empty package name", ErrInvalid)
	}
	if _, err := ParseLimitType(string(r.LimitType)); err != nil {
		return err
	}
	if _, err := ParseDailyMode(string(r.DailyMode)); err != nil {
		return err
	}
	if r.DailyQuotaMinutes < 0 {
		return fmt.Errorf("%w: daily quota %d", ErrInvalid, r.DailyQuotaMinutes)
	}
	if r.WeeklyQuotaMinutes < 0 {
		return fmt.Errorf("%w: weekly quota %d", ErrInvalid, r.WeeklyQuotaMinutes)
	}
	if r.WeeklyResetDay < 1 || r.WeeklyResetDay > 7 {
		return fmt.Errorf("%w: weekly reset day %d (must be 1-7)", ErrInvalid, r.WeeklyResetDay)
	}
	if err := checkClock("weekly reset", r.WeeklyResetHour, r.WeeklyResetMinute); err != nil {
		return err
	}

	if strings.TrimSpace(r.DailyQuotas) == "" {
		return nil
	}
	for _, pair := range strings.Split(r.DailyQuotas, ",") {
		day, minutes, ok := strings.Cut(strings.TrimSpace(pair), ":")
		d, derr := strconv.Atoi(day)
		m, merr := strconv.Atoi(minutes)
		if !ok || derr != nil || merr != nil || d < 1 || d > 7 || m < 0 {
			return fmt.Errorf("%w: daily quota entry %q", ErrInvalid, pair)
		}
	}
	return nil
}

// Validate checks the window and weekday mask of a schedule.
func (s *Schedule) Validate() error {
	if s.PackageName == "" {
		return fmt.Errorf("%w: empty package name", ErrInvalid)
	}
	if err := checkClock("start", s.StartHour, s.StartMinute); err != nil {
		return err
	}
	if err := checkClock("end", s.EndHour, s.EndMinute); err != nil {
		return err
	}
	if s.DaysOfWeek < 0 || s.DaysOfWeek > 0x7f {
		return fmt.Errorf("%w: days of week mask %d (must be 0-127)", ErrInvalid, s.DaysOfWeek)
	}
	return nil
}

// Validate checks that the block's dates parse and that it does not end
// before it starts.
func (b *DateBlock) Validate() error {
	if b.PackageName == "" {
		return fmt.Errorf("%w: empty package name", ErrInvalid)
	}
	if err := checkClock("start", b.StartHour, b.StartMinute); err != nil {
		return err
	}
	if err := checkClock("end", b.EndHour, b.EndMinute); err != nil {
		return err
	}
	start, end, err := b.Window(time.UTC)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: ends %s before it starts %s", ErrInvalid, b.EndDate, b.StartDate)
	}
	return nil
}
