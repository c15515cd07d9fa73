package storage

import (
	"testing"
	"time"
)

func TestRestriction_DailyQuotaFor(t *testing.T) {
	tests := []struct {
		name string
		r    Restriction
		day  int
		want int
	}{
		{
			name: "same mode uses flat quota",
			r:    Restriction{LimitType: LimitDaily, DailyMode: DailySame, DailyQuotaMinutes: 45},
			day:  3,
			want: 45,
		},
		{
			name: "per day override",
			r:    Restriction{LimitType: LimitDaily, DailyMode: DailyPerDay, DailyQuotaMinutes: 45, DailyQuotas: "3:0,4:30"},
			day:  4,
			want: 30,
		},
		{
			name: "per day zero means no limit",
			r:    Restriction{LimitType: LimitDaily, DailyMode: DailyPerDay, DailyQuotas: "3:0,4:30"},
			day:  3,
			want: 0,
		},
		{
			name: "per day missing entry",
			r:    Restriction{LimitType: LimitDaily, DailyMode: DailyPerDay, DailyQuotaMinutes: 45, DailyQuotas: "4:30"},
			day:  6,
			want: 0,
		},
		{
			name: "weekly has no daily quota",
			r:    Restriction{LimitType: LimitWeekly, DailyQuotaMinutes: 45, WeeklyQuotaMinutes: 300},
			day:  2,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.DailyQuotaFor(tt.day); got != tt.want {
				t.Errorf("DailyQuotaFor(%d) = %d, want %d", tt.day, got, tt.want)
			}
		})
	}
}

func TestRestriction_QuotaForWeekly(t *testing.T) {
	r := Restriction{LimitType: LimitWeekly, DailyQuotaMinutes: 45, WeeklyQuotaMinutes: 300}
	if got := r.QuotaFor(2); got != 300 {
		t.Errorf("Expected weekly quota 300, got %d", got)
	}
}

func TestRestriction_DailyQuotasMapSkipsMalformed(t *testing.T) {
	r := Restriction{DailyQuotas: "1:30, 2:x,bad,3:15,4:5:6"}
	got := r.DailyQuotasMap()
	if len(got) != 2 || got[1] != 30 || got[3] != 15 {
		t.Errorf("unexpected map: %v", got)
	}
	if s := FormatDailyQuotas(got); s != "1:30,3:15" {
		t.Errorf("FormatDailyQuotas() = %q", s)
	}
}

func TestRestriction_IsExpired(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	epoch := time.UnixMilli(0)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"unset", nil, false},
		{"past", &past, true},
		{"future", &future, false},
		{"epoch treated as unset", &epoch, false},
		{"exact instant not expired", &now, false},
	}

	for _, tt := range tests {
		r := Restriction{Enabled: true, ExpiresAt: tt.expiresAt}
		if got := r.IsExpired(now); got != tt.want {
			t.Errorf("%s: IsExpired() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSchedule_HasDay(t *testing.T) {
	// Monday (2) and Wednesday (4)
	s := Schedule{DaysOfWeek: 1<<1 | 1<<3}
	if !s.HasDay(2) || !s.HasDay(4) {
		t.Error("Expected Monday and Wednesday set")
	}
	if s.HasDay(1) || s.HasDay(3) || s.HasDay(0) || s.HasDay(8) {
		t.Error("Unexpected day set")
	}
}

func TestSchedule_ActiveAt(t *testing.T) {
	every := 0x7F
	// 2026-10-14 is a Wednesday (4)
	at := func(h, m int) time.Time {
		return time.Date(2026, 10, 14, h, m, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		s    Schedule
		at   time.Time
		want bool
	}{
		{"inside normal window", Schedule{StartHour: 9, EndHour: 17, DaysOfWeek: every}, at(12, 0), true},
		{"start is inclusive", Schedule{StartHour: 9, EndHour: 17, DaysOfWeek: every}, at(9, 0), true},
		{"end is exclusive", Schedule{StartHour: 9, EndHour: 17, DaysOfWeek: every}, at(17, 0), false},
		{"overnight late", Schedule{StartHour: 22, EndHour: 6, DaysOfWeek: every}, at(23, 0), true},
		{"overnight early", Schedule{StartHour: 22, EndHour: 6, DaysOfWeek: every}, at(5, 59), true},
		{"overnight midday", Schedule{StartHour: 22, EndHour: 6, DaysOfWeek: every}, at(12, 0), false},
		{"zero length never active", Schedule{StartHour: 8, EndHour: 8, DaysOfWeek: every}, at(8, 0), false},
		{"weekday not selected", Schedule{StartHour: 9, EndHour: 17, DaysOfWeek: 1 << 1}, at(12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.ActiveAt(tt.at); got != tt.want {
				t.Errorf("ActiveAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDateBlock_ActiveAt(t *testing.T) {
	b := DateBlock{StartDate: "2026-10-10", EndDate: "2026-10-12", StartHour: 8, EndHour: 20}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before start", time.Date(2026, 10, 10, 7, 59, 0, 0, time.UTC), false},
		{"at start", time.Date(2026, 10, 10, 8, 0, 0, 0, time.UTC), true},
		{"middle day night", time.Date(2026, 10, 11, 2, 0, 0, 0, time.UTC), true},
		{"at end", time.Date(2026, 10, 12, 20, 0, 0, 0, time.UTC), true},
		{"after end", time.Date(2026, 10, 12, 20, 1, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		if got := b.ActiveAt(tt.at); got != tt.want {
			t.Errorf("%s: ActiveAt() = %v, want %v", tt.name, got, tt.want)
		}
	}

	bad := DateBlock{StartDate: "10/10/2026", EndDate: "2026-10-12"}
	if bad.ActiveAt(time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC)) {
		t.Error("Malformed date block should never match")
	}
}
