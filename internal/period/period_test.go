package period

import (
	"testing"
	"time"
)

func at(date string, hour, minute int) time.Time {
	t, err := ParseDateTime(date, hour, minute, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestWeekday(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"2026-10-18", Sunday},
		{"2026-10-12", Monday},
		{"2026-10-13", Tuesday},
		{"2026-10-14", Wednesday},
		{"2026-10-15", Thursday},
	}

	for _, tt := range tests {
		if got := Weekday(at(tt.date, 12, 0)); got != tt.want {
			t.Errorf("Weekday(%s) = %d, want %d", tt.date, got, tt.want)
		}
	}
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		resetDay  int
		resetHour int
		want      string
	}{
		{"monday reset seen on thursday", at("2026-10-15", 10, 0), Monday, 0, "2026-10-12"},
		{"monday reset seen on monday midnight", at("2026-10-12", 0, 0), Monday, 0, "2026-10-12"},
		{"monday reset seen sunday night", at("2026-10-18", 23, 59), Monday, 0, "2026-10-12"},
		{"next monday opens new week", at("2026-10-19", 0, 0), Monday, 0, "2026-10-19"},
		{"reset hour not reached yet", at("2026-10-12", 7, 0), Monday, 8, "2026-10-05"},
		{"sunday reset seen on thursday", at("2026-10-15", 10, 0), Sunday, 0, "2026-10-11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeekStartKey(tt.now, tt.resetDay, tt.resetHour, 0)
			if got != tt.want {
				t.Errorf("WeekStartKey() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextWeekStart(t *testing.T) {
	got := NextWeekStart(at("2026-10-15", 10, 0), Monday, 0, 0)
	if want := at("2026-10-19", 0, 0); !got.Equal(want) {
		t.Errorf("NextWeekStart() = %v, want %v", got, want)
	}
}

func TestParseDateTime_Invalid(t *testing.T) {
	for _, date := range []string{"", "2026/10/15", "2026-13-01", "tomorrow"} {
		if _, err := ParseDateTime(date, 0, 0, time.UTC); err == nil {
			t.Errorf("ParseDateTime(%q) expected error", date)
		}
	}
	if _, err := ParseDateTime("2026-10-15", 24, 0, time.UTC); err == nil {
		t.Error("expected error for hour 24")
	}
}

func TestFormatMinutes(t *testing.T) {
	tests := map[int]string{
		0:   "0m",
		45:  "45m",
		60:  "1h 0m",
		125: "2h 5m",
		-3:  "0m",
	}
	for in, want := range tests {
		if got := FormatMinutes(in); got != want {
			t.Errorf("FormatMinutes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	d := 24*time.Hour + 2*time.Hour + 3*time.Minute + 4*time.Second
	if got := FormatDuration(d); got != "1d 2h 3m 4s" {
		t.Errorf("FormatDuration() = %q", got)
	}
	if got := FormatDuration(90 * time.Second); got != "1m 30s" {
		t.Errorf("FormatDuration() = %q", got)
	}
	if got := FormatDuration(0); got != "0s" {
		t.Errorf("FormatDuration(0) = %q", got)
	}
}

func TestDayName(t *testing.T) {
	if DayName(Monday) != "Mon" || DayName(Saturday) != "Sat" || DayName(9) != "?" {
		t.Error("unexpected day names")
	}
}
