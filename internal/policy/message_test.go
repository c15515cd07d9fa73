package policy

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		info   DateInfo
		want   OverlayMessage
	}{
		{
			name:   "quota",
			result: Result{Reason: ReasonQuota, Quota: true},
			want: OverlayMessage{
				Title:  "Blocked",
				Reason: "Time limit reached",
				Body:   "The app will close automatically",
				Footer: "Try again tomorrow or adjust your time limit",
			},
		},
		{
			name:   "schedule",
			result: Result{Reason: ReasonSchedule, Schedule: true},
			want: OverlayMessage{
				Title:  "Outside allowed hours",
				Reason: "Schedule block active",
				Body:   "This app is not allowed right now",
				Footer: "Try again during your allowed hours",
			},
		},
		{
			name:   "date ending today",
			result: Result{Reason: ReasonDate, Date: true},
			info:   DateInfo{RemainingDays: 0, HasRemainingDays: true, Range: "From 2026-10-10 00:00 to 2026-10-14 23:59"},
			want: OverlayMessage{
				Title:  "Blocked",
				Reason: "Date block active",
				Body:   "This app is not allowed in this date range",
				Footer: "Ends today",
				Range:  "From 2026-10-10 00:00 to 2026-10-14 23:59",
			},
		},
		{
			name:   "date several days",
			result: Result{Reason: ReasonDate, Date: true},
			info:   DateInfo{RemainingDays: 4, HasRemainingDays: true},
			want: OverlayMessage{
				Title:  "Blocked",
				Reason: "Date block active",
				Body:   "This app is not allowed in this date range",
				Footer: "Ends in 4 days",
			},
		},
		{
			name:   "combined with date",
			result: Result{Reason: ReasonCombined, Quota: true, Date: true},
			info:   DateInfo{RemainingDays: 1, HasRemainingDays: true},
			want: OverlayMessage{
				Title:  "Blocked",
				Reason: "Multiple restrictions active",
				Body:   "Time limit reached; Date block active",
				Footer: "Date restriction ends in 1 day",
			},
		},
		{
			name:   "combined without date",
			result: Result{Reason: ReasonCombined, Quota: true, Schedule: true},
			want: OverlayMessage{
				Title:  "Blocked",
				Reason: "Multiple restrictions active",
				Body:   "Time limit reached; Schedule block active",
				Footer: "Try again later or adjust your restrictions",
			},
		},
		{
			name:   "not blocked",
			result: Result{Reason: ReasonNone},
			want:   OverlayMessage{Reason: "Not blocked"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Message(tt.result, tt.info)); diff != "" {
				t.Errorf("Message() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReason_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    Reason
		wantErr bool
	}{
		{`"QUOTA"`, ReasonQuota, false},
		{`"Combined"`, ReasonCombined, false},
		{`""`, ReasonNone, false},
		{`"sometimes"`, "", true},
		{`42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var got Reason
			err := json.Unmarshal([]byte(tt.input), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("UnmarshalJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResult_Reasons(t *testing.T) {
	r := Result{Reason: ReasonCombined, Schedule: true, Date: true}
	if diff := cmp.Diff([]Reason{ReasonSchedule, ReasonDate}, r.Reasons()); diff != "" {
		t.Errorf("Reasons() mismatch (-want +got):\n%s", diff)
	}
	if !r.Blocked() {
		t.Error("Blocked() = false, want true")
	}
	if (Result{}).Blocked() {
		t.Error("zero Result should not be blocked")
	}
}
