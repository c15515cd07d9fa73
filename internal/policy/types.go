package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reason explains why a package is blocked
type Reason string

const (
	ReasonNone     Reason = "none"
	ReasonQuota    Reason = "quota"
	ReasonSchedule Reason = "schedule"
	ReasonDate     Reason = "date"
	ReasonCombined Reason = "combined"
)

// UnmarshalJSON implements json.Unmarshaler to normalize reasons to lowercase.
func (r *Reason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	reason, err := ParseReason(s)
	if err != nil {
		return err
	}
	*r = reason
	return nil
}

// ParseReason normalizes s to a known reason. The empty string is none.
func ParseReason(s string) (Reason, error) {
	normalized := Reason(strings.ToLower(s))
	switch normalized {
	case ReasonNone, ReasonQuota, ReasonSchedule, ReasonDate, ReasonCombined:
		return normalized, nil
	case "":
		return ReasonNone, nil
	default:
		return "", fmt.Errorf("invalid reason: %s (must be none, quota, schedule, date or combined)", s)
	}
}

// Label is the short human-readable form of a single reason.
func (r Reason) Label() string {
	switch r {
	case ReasonQuota:
		return "Time limit reached"
	case ReasonSchedule:
		return "Schedule block active"
	case ReasonDate:
		return "Date block active"
	case ReasonCombined:
		return "Multiple restrictions active"
	default:
		return "Not blocked"
	}
}

// Result is the outcome of evaluating one package. The sub-reason flags are
// kept so callers can list every active restriction of a combined block.
type Result struct {
	Package  string `json:"package"`
	AppName  string `json:"app_name,omitempty"` // empty without a restriction
	Reason   Reason `json:"reason"`
	Quota    bool   `json:"quota"`
	Schedule bool   `json:"schedule"`
	Date     bool   `json:"date"`
}

// DisplayName is the app name, or the package when no name is known.
func (r Result) DisplayName() string {
	if r.AppName != "" {
		return r.AppName
	}
	return r.Package
}

// Blocked reports whether any restriction is active.
func (r Result) Blocked() bool {
	return r.Reason != ReasonNone && r.Reason != ""
}

// Reasons lists the active sub-reasons in quota, schedule, date order.
func (r Result) Reasons() []Reason {
	var out []Reason
	if r.Quota {
		out = append(out, ReasonQuota)
	}
	if r.Schedule {
		out = append(out, ReasonSchedule)
	}
	if r.Date {
		out = append(out, ReasonDate)
	}
	return out
}

// combine derives the overall reason from the sub-reason flags.
func combine(quota, schedule, date bool) Reason {
	count := 0
	reason := ReasonNone
	for _, c := range []struct {
		active bool
		reason Reason
	}{
		{quota, ReasonQuota},
		{schedule, ReasonSchedule},
		{date, ReasonDate},
	} {
		if c.active {
			count++
			reason = c.reason
		}
	}

	if count > 1 {
		return ReasonCombined
	}
	return reason
}

// DateInfo carries date block details shown alongside a block.
type DateInfo struct {
	RemainingDays    int    `json:"remaining_days"`
	HasRemainingDays bool   `json:"has_remaining_days"`
	Range            string `json:"range,omitempty"`
}

// OverlayMessage is the copy shown on the blocking overlay.
type OverlayMessage struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
	Body   string `json:"body"`
	Footer string `json:"footer"`
	Range  string `json:"range,omitempty"`
}
