package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/johnivansn/timelock/internal/period"
)

// LimitType selects the accounting period for a restriction's quota.
type LimitType string

const (
	LimitDaily  LimitType = "daily"
	LimitWeekly LimitType = "weekly"
)

// UnmarshalJSON implements json.Unmarshaler, normalizing to lowercase.
func (l *LimitType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized, err := ParseLimitType(s)
	if err != nil {
		return err
	}
	*l = normalized
	return nil
}

// DailyMode selects how a daily quota is looked up.
type DailyMode string

const (
	// DailySame applies DailyQuotaMinutes every day.
	DailySame DailyMode = "same"
	// DailyPerDay looks the quota up in DailyQuotas by weekday.
	DailyPerDay DailyMode = "per_day"
)

// Restriction is the quota configuration for one monitored package.
type Restriction struct {
	ID                 string     `json:"id"`
	PackageName        string     `json:"package_name"`
	AppName            string     `json:"app_name"`
	DailyQuotaMinutes  int        `json:"daily_quota_minutes"`
	Enabled            bool       `json:"enabled"`
	LimitType          LimitType  `json:"limit_type"`
	DailyMode          DailyMode  `json:"daily_mode"`
	DailyQuotas        string     `json:"daily_quotas"` // "1:30,2:0,..." with 1=Sunday
	WeeklyQuotaMinutes int        `json:"weekly_quota_minutes"`
	WeeklyResetDay     int        `json:"weekly_reset_day"`
	WeeklyResetHour    int        `json:"weekly_reset_hour"`
	WeeklyResetMinute  int        `json:"weekly_reset_minute"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// IsWeekly reports whether the quota is accounted per week.
func (r *Restriction) IsWeekly() bool {
	return r.LimitType == LimitWeekly
}

// IsExpired reports whether an expiry is set and now is past it.
func (r *Restriction) IsExpired(now time.Time) bool {
	if r.ExpiresAt == nil || r.ExpiresAt.IsZero() || r.ExpiresAt.UnixMilli() <= 0 {
		return false
	}
	return now.After(*r.ExpiresAt)
}

// Active reports whether the restriction is enabled and not expired.
func (r *Restriction) Active(now time.Time) bool {
	return r.Enabled && !r.IsExpired(now)
}

// DailyQuotasMap parses DailyQuotas, skipping malformed pairs.
func (r *Restriction) DailyQuotasMap() map[int]int {
	out := make(map[int]int)
	if strings.TrimSpace(r.DailyQuotas) == "" {
		return out
	}

	for _, pair := range strings.Split(r.DailyQuotas, ",") {
		parts := strings.Split(strings.TrimSpace(pair), ":")
		if len(parts) != 2 {
			continue
		}
		day, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		minutes, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		out[day] = minutes
	}
	return out
}

// DailyQuotaFor returns the daily quota for a 1..7 weekday. Weekly
// restrictions have no daily quota and return 0.
func (r *Restriction) DailyQuotaFor(day int) int {
	if r.LimitType != LimitDaily && r.LimitType != "" {
		return 0
	}
	if r.DailyMode == DailyPerDay {
		return r.DailyQuotasMap()[day]
	}
	return r.DailyQuotaMinutes
}

// QuotaFor returns the quota of the accounting period containing the given
// weekday: the weekly quota for weekly restrictions, else the daily quota.
func (r *Restriction) QuotaFor(day int) int {
	if r.IsWeekly() {
		return r.WeeklyQuotaMinutes
	}
	return r.DailyQuotaFor(day)
}

// FormatDailyQuotas renders a weekday->minutes map in DailyQuotas form.
func FormatDailyQuotas(quotas map[int]int) string {
	parts := make([]string, 0, len(quotas))
	for day := 1; day <= 7; day++ {
		if minutes, ok := quotas[day]; ok {
			parts = append(parts, fmt.Sprintf("%d:%d", day, minutes))
		}
	}
	return strings.Join(parts, ",")
}

// DailyUsage is the per-package, per-day usage counter.
type DailyUsage struct {
	PackageName string    `json:"package_name"`
	Date        string    `json:"date"`
	UsedMinutes int       `json:"used_minutes"`
	UsedMillis  int64     `json:"used_millis"`
	Blocked     bool      `json:"blocked"`
	LastUpdated time.Time `json:"last_updated"`
}

// Schedule blocks a package inside a time-of-day window on selected weekdays.
type Schedule struct {
	ID          string    `json:"id"`
	PackageName string    `json:"package_name"`
	StartHour   int       `json:"start_hour"`
	StartMinute int       `json:"start_minute"`
	EndHour     int       `json:"end_hour"`
	EndMinute   int       `json:"end_minute"`
	DaysOfWeek  int       `json:"days_of_week"` // bit i = weekday i+1
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasDay reports whether the 1..7 weekday bit is set.
func (s *Schedule) HasDay(day int) bool {
	if day < 1 || day > 7 {
		return false
	}
	return s.DaysOfWeek&(1<<(day-1)) != 0
}

// StartMinutes is the window start as minutes past midnight.
func (s *Schedule) StartMinutes() int {
	return s.StartHour*60 + s.StartMinute
}

// EndMinutes is the window end as minutes past midnight.
func (s *Schedule) EndMinutes() int {
	return s.EndHour*60 + s.EndMinute
}

// Overnight reports whether the window wraps past midnight.
func (s *Schedule) Overnight() bool {
	return s.EndMinutes() < s.StartMinutes()
}

// ActiveAt reports whether t falls inside the window on one of the selected
// weekdays. Both halves of an overnight window are checked against t's own
// weekday. A zero-length window is never active.
func (s *Schedule) ActiveAt(t time.Time) bool {
	if !s.HasDay(period.Weekday(t)) {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	start, end := s.StartMinutes(), s.EndMinutes()
	switch {
	case start == end:
		return false
	case start < end:
		return now >= start && now < end
	default:
		return now >= start || now < end
	}
}

// DateBlock blocks a package for an inclusive calendar range.
type DateBlock struct {
	ID          string    `json:"id"`
	PackageName string    `json:"package_name"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	StartHour   int       `json:"start_hour"`
	StartMinute int       `json:"start_minute"`
	EndHour     int       `json:"end_hour"`
	EndMinute   int       `json:"end_minute"`
	Enabled     bool      `json:"enabled"`
	Label       string    `json:"label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlockTemplate is a named payload for bulk-creating rules.
type BlockTemplate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload_json"`
	CreatedAt   time.Time `json:"created_at"`
}

// Window returns the inclusive start and end instants of the block in loc.
func (b *DateBlock) Window(loc *time.Location) (time.Time, time.Time, error) {
	start, err := period.ParseDateTime(b.StartDate, b.StartHour, b.StartMinute, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := period.ParseDateTime(b.EndDate, b.EndHour, b.EndMinute, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// ActiveAt reports whether t falls inside the block's window. Malformed
// dates never match.
func (b *DateBlock) ActiveAt(t time.Time) bool {
	start, end, err := b.Window(t.Location())
	if err != nil {
		return false
	}
	return !t.Before(start) && !t.After(end)
}
