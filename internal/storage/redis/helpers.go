package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/johnivansn/timelock/internal/storage"
)

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseInt(data map[string]string, field string) (int, error) {
	v, ok := data[field]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return n, nil
}

// dateScore turns "2006-01-02" into 20060102 for sorted-set range queries
func dateScore(date string) (float64, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(date, "-", ""))
	if err != nil || len(date) != len("2006-01-02") {
		return 0, fmt.Errorf("invalid date %q", date)
	}
	return float64(n), nil
}

// restrictionFields flattens a restriction into HSET field/value pairs
func restrictionFields(r storage.Restriction) []interface{} {
	expiresAt := ""
	if r.ExpiresAt != nil {
		expiresAt = formatTime(*r.ExpiresAt)
	}

	return []interface{}{
		"id", r.ID,
		"package_name", r.PackageName,
		"app_name", r.AppName,
		"daily_quota_minutes", r.DailyQuotaMinutes,
		"enabled", formatBool(r.Enabled),
		"limit_type", string(r.LimitType),
		"daily_mode", string(r.DailyMode),
		"daily_quotas", r.DailyQuotas,
		"weekly_quota_minutes", r.WeeklyQuotaMinutes,
		"weekly_reset_day", r.WeeklyResetDay,
		"weekly_reset_hour", r.WeeklyResetHour,
		"weekly_reset_minute", r.WeeklyResetMinute,
		"expires_at", expiresAt,
		"created_at", formatTime(r.CreatedAt),
	}
}

// parseRestriction converts a Redis hash to Restriction
func parseRestriction(data map[string]string) (*storage.Restriction, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	r := &storage.Restriction{
		ID:          data["id"],
		PackageName: data["package_name"],
		AppName:     data["app_name"],
		Enabled:     data["enabled"] == "1",
		LimitType:   storage.LimitType(data["limit_type"]),
		DailyMode:   storage.DailyMode(data["daily_mode"]),
		DailyQuotas: data["daily_quotas"],
	}

	var err error
	if r.DailyQuotaMinutes, err = parseInt(data, "daily_quota_minutes"); err != nil {
		return nil, err
	}
	if r.WeeklyQuotaMinutes, err = parseInt(data, "weekly_quota_minutes"); err != nil {
		return nil, err
	}
	if r.WeeklyResetDay, err = parseInt(data, "weekly_reset_day"); err != nil {
		return nil, err
	}
	if r.WeeklyResetHour, err = parseInt(data, "weekly_reset_hour"); err != nil {
		return nil, err
	}
	if r.WeeklyResetMinute, err = parseInt(data, "weekly_reset_minute"); err != nil {
		return nil, err
	}

	if v := data["expires_at"]; v != "" {
		expiresAt, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		r.ExpiresAt = &expiresAt
	}

	if r.CreatedAt, err = parseTime(data["created_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return r, nil
}

func scheduleFields(s storage.Schedule) []interface{} {
	return []interface{}{
		"id", s.ID,
		"package_name", s.PackageName,
		"start_hour", s.StartHour,
		"start_minute", s.StartMinute,
		"end_hour", s.EndHour,
		"end_minute", s.EndMinute,
		"days_of_week", s.DaysOfWeek,
		"enabled", formatBool(s.Enabled),
		"created_at", formatTime(s.CreatedAt),
	}
}

// parseSchedule converts a Redis hash to Schedule
func parseSchedule(data map[string]string) (*storage.Schedule, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	s := &storage.Schedule{
		ID:          data["id"],
		PackageName: data["package_name"],
		Enabled:     data["enabled"] == "1",
	}

	var err error
	for field, dst := range map[string]*int{
		"start_hour":   &s.StartHour,
		"start_minute": &s.StartMinute,
		"end_hour":     &s.EndHour,
		"end_minute":   &s.EndMinute,
		"days_of_week": &s.DaysOfWeek,
	} {
		if *dst, err = parseInt(data, field); err != nil {
			return nil, err
		}
	}

	if s.CreatedAt, err = parseTime(data["created_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return s, nil
}

func dateBlockFields(b storage.DateBlock) []interface{} {
	return []interface{}{
		"id", b.ID,
		"package_name", b.PackageName,
		"start_date", b.StartDate,
		"end_date", b.EndDate,
		"start_hour", b.StartHour,
		"start_minute", b.StartMinute,
		"end_hour", b.EndHour,
		"end_minute", b.EndMinute,
		"enabled", formatBool(b.Enabled),
		"label", b.Label,
		"created_at", formatTime(b.CreatedAt),
	}
}

// parseDateBlock converts a Redis hash to DateBlock
func parseDateBlock(data map[string]string) (*storage.DateBlock, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	b := &storage.DateBlock{
		ID:          data["id"],
		PackageName: data["package_name"],
		StartDate:   data["start_date"],
		EndDate:     data["end_date"],
		Enabled:     data["enabled"] == "1",
		Label:       data["label"],
	}

	var err error
	for field, dst := range map[string]*int{
		"start_hour":   &b.StartHour,
		"start_minute": &b.StartMinute,
		"end_hour":     &b.EndHour,
		"end_minute":   &b.EndMinute,
	} {
		if *dst, err = parseInt(data, field); err != nil {
			return nil, err
		}
	}

	if b.CreatedAt, err = parseTime(data["created_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return b, nil
}

// parseDailyUsage converts a Redis hash to DailyUsage
func parseDailyUsage(data map[string]string) (*storage.DailyUsage, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	usedMinutes, err := parseInt(data, "used_minutes")
	if err != nil {
		return nil, err
	}

	usedMillis, err := strconv.ParseInt(data["used_millis"], 10, 64)
	if err != nil && data["used_millis"] != "" {
		return nil, fmt.Errorf("failed to parse used_millis: %w", err)
	}

	lastUpdated, err := parseTime(data["last_updated"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_updated: %w", err)
	}

	return &storage.DailyUsage{
		PackageName: data["package_name"],
		Date:        data["date"],
		UsedMinutes: usedMinutes,
		UsedMillis:  usedMillis,
		Blocked:     data["blocked"] == "1",
		LastUpdated: lastUpdated,
	}, nil
}

// parseBlockTemplate converts a Redis hash to BlockTemplate
func parseBlockTemplate(data map[string]string) (*storage.BlockTemplate, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := parseTime(data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &storage.BlockTemplate{
		ID:          data["id"],
		Name:        data["name"],
		Type:        data["type"],
		PayloadJSON: data["payload_json"],
		CreatedAt:   createdAt,
	}, nil
}
