package api

import (
	"github.com/johnivansn/timelock/internal/enforcement"
	"github.com/johnivansn/timelock/internal/policy"
	"github.com/johnivansn/timelock/internal/storage"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// ForegroundRequest reports the app now in the foreground. Timestamp is
// epoch milliseconds; zero means now. An empty package means the screen
// went off or nothing is in the foreground.
type ForegroundRequest struct {
	Package   string `json:"package"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// EvaluationResponse is the decision for one package.
type EvaluationResponse struct {
	policy.Result
	Blocked         bool                   `json:"blocked"`
	Message         *policy.OverlayMessage `json:"message,omitempty"`
	DateInfo        *policy.DateInfo       `json:"date_info,omitempty"`
	ScheduleSummary string                 `json:"schedule_summary,omitempty"`
	ExpirySummary   string                 `json:"expiry_summary,omitempty"`
}

// UsageResponse lists today's usage.
type UsageResponse struct {
	Usage     []storage.DailyUsage `json:"usage"`
	Count     int                  `json:"count"`
	PowerSave bool                 `json:"power_save"`
}

// RestrictionsResponse lists restrictions.
type RestrictionsResponse struct {
	Restrictions []storage.Restriction `json:"restrictions"`
	Count        int                   `json:"count"`
}

// OverlayResponse describes the enforcement state and last overlay.
type OverlayResponse struct {
	State   enforcement.Snapshot `json:"state"`
	Overlay *enforcement.Overlay `json:"overlay,omitempty"`
}

// PowerRequest toggles power-save mode.
type PowerRequest struct {
	Save bool `json:"save"`
}

// SuccessResponse represents a generic success response.
type SuccessResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
