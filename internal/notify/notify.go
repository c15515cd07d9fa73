// Package notify raises user-facing notifications about quotas, schedules
// and date blocks, and de-duplicates them.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/johnivansn/timelock/internal/metrics"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/rs/zerolog"
)

// Kind identifies a notification.
type Kind string

const (
	KindThreshold50       Kind = "threshold_50"
	KindThreshold75       Kind = "threshold_75"
	KindLastMinute        Kind = "last_minute"
	KindBlocked           Kind = "blocked"
	KindScheduleSoon      Kind = "schedule_soon"
	KindDateBlockSoon     Kind = "date_block_soon"
	KindDateBlockTomorrow Kind = "date_block_tomorrow"
	KindDateBlockEnds     Kind = "date_block_ends"
	KindBlockFallback     Kind = "block_fallback"
)

// Payload keys
const (
	KeyRemaining = "remaining_minutes"
	KeyMinutes   = "minutes_until"
	KeyStart     = "start"
	KeyEnd       = "end"
	KeyDays      = "days_remaining"
	KeyReason    = "reason"
)

// Notification is a single user-facing message.
type Notification struct {
	Kind    Kind              `json:"kind"`
	Package string            `json:"package"`
	AppName string            `json:"app_name"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Text renders the short message shown to the user.
func (n Notification) Text() string {
	p := n.Payload
	switch n.Kind {
	case KindThreshold50, KindThreshold75:
		return fmt.Sprintf("%s min remaining", p[KeyRemaining])
	case KindLastMinute:
		return "Last minute"
	case KindBlocked:
		switch p[KeyReason] {
		case "quota":
			return "Limit reached"
		case "schedule":
			return "Outside allowed hours"
		case "date":
			return "Date block active"
		default:
			return "Blocked"
		}
	case KindScheduleSoon, KindDateBlockSoon:
		return fmt.Sprintf("Restriction starts in %s min (%s to %s)", p[KeyMinutes], p[KeyStart], p[KeyEnd])
	case KindDateBlockTomorrow:
		return fmt.Sprintf("Restriction starts tomorrow (%s to %s)", p[KeyStart], p[KeyEnd])
	case KindDateBlockEnds:
		switch p[KeyDays] {
		case "0":
			return "Block ends today"
		case "1":
			return "Block ends in 1 day"
		default:
			return fmt.Sprintf("Block ends in %s days", p[KeyDays])
		}
	case KindBlockFallback:
		return "Blocked, overlay unavailable"
	}
	return string(n.Kind)
}

// Sink delivers notifications. Implementations must not block for long.
type Sink interface {
	Raise(ctx context.Context, n Notification)
}

// LogSink writes notifications to the log and counts them.
type LogSink struct {
	logger  zerolog.Logger
	enabled atomic.Bool
}

// NewLogSink creates an enabled log sink
func NewLogSink(logger zerolog.Logger) *LogSink {
	s := &LogSink{
		logger: logger.With().Str("component", "notify").Logger(),
	}
	s.enabled.Store(true)
	return s
}

// SetEnabled toggles delivery; disabled sinks drop everything.
func (s *LogSink) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Raise logs the notification.
func (s *LogSink) Raise(ctx context.Context, n Notification) {
	if !s.enabled.Load() {
		return
	}

	metrics.NotificationsTotal.WithLabelValues(string(n.Kind)).Inc()

	ev := s.logger.Info().
		Str("kind", string(n.Kind)).
		Str("package", n.Package).
		Str("app", n.AppName)

	keys := make([]string, 0, len(n.Payload))
	for k := range n.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev = ev.Str(k, n.Payload[k])
	}
	ev.Msg(n.Text())
}

func clockPayload(hour, minute int) string {
	return period.FormatClock(hour, minute)
}
