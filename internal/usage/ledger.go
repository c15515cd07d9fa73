package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/rs/zerolog"
)

// EventKind is a foreground transition.
type EventKind int

const (
	// EventEnter means the package moved to the foreground
	EventEnter EventKind = iota + 1
	// EventExit means the package left the foreground
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventEnter:
		return "enter"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is one foreground transition of a package.
type Event struct {
	Package string
	Kind    EventKind
	Time    time.Time
}

// EventSource yields the transitions of a package between from and to,
// ordered by time.
type EventSource interface {
	Events(ctx context.Context, pkg string, from, to time.Time) ([]Event, error)
}

// Measurement is the foreground time of a package since the start of its day.
type Measurement struct {
	Package string `json:"package"`
	Millis  int64  `json:"millis"`
	Minutes int    `json:"minutes"`
}

// ComputeForeground sums the time a package spent in the foreground inside
// [windowStart, windowEnd]. Repeated enters or exits are ignored, and a
// session still open at windowEnd counts up to windowEnd.
func ComputeForeground(events []Event, windowStart, windowEnd time.Time) time.Duration {
	var total time.Duration
	var sessionStart time.Time
	foreground := false

	clamp := func(t time.Time) time.Time {
		if t.Before(windowStart) {
			return windowStart
		}
		return t
	}

	for _, ev := range events {
		if ev.Time.After(windowEnd) {
			break
		}
		switch ev.Kind {
		case EventEnter:
			if !foreground {
				foreground = true
				sessionStart = clamp(ev.Time)
			}
		case EventExit:
			if foreground {
				if d := clamp(ev.Time).Sub(sessionStart); d > 0 {
					total += d
				}
				foreground = false
			}
		}
	}

	if foreground {
		if d := windowEnd.Sub(sessionStart); d > 0 {
			total += d
		}
	}
	return total
}

// Ledger turns foreground transitions into usage figures.
type Ledger struct {
	source EventSource
	usage  storage.UsageStore
	logger zerolog.Logger
}

// NewLedger creates a new usage ledger
func NewLedger(source EventSource, usage storage.UsageStore, logger zerolog.Logger) *Ledger {
	return &Ledger{
		source: source,
		usage:  usage,
		logger: logger.With().Str("component", "usage-ledger").Logger(),
	}
}

// Measure returns the foreground time of pkg from local midnight to now.
// When the event source fails the package is reported with zero usage.
func (l *Ledger) Measure(ctx context.Context, pkg string, now time.Time) Measurement {
	m := Measurement{Package: pkg}

	start := period.StartOfDay(now)
	events, err := l.source.Events(ctx, pkg, start, now)
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("package", pkg).
			Msg("Usage events unavailable, reporting zero usage")
		return m
	}

	m.Millis = ComputeForeground(events, start, now).Milliseconds()
	m.Minutes = int(m.Millis / 60000)
	return m
}

// PeriodUsedMinutes returns the minutes counted against the restriction's
// quota: today's record for daily limits, or every record since the last
// weekly reset for weekly limits.
func (l *Ledger) PeriodUsedMinutes(ctx context.Context, r *storage.Restriction, now time.Time) (int, error) {
	if r.IsWeekly() {
		from := period.WeekStartKey(now, r.WeeklyResetDay, r.WeeklyResetHour, r.WeeklyResetMinute)
		total, err := l.usage.SumUsageSince(ctx, r.PackageName, from)
		if err != nil {
			return 0, fmt.Errorf("failed to sum weekly usage: %w", err)
		}
		return total, nil
	}

	rec, err := l.usage.Get(ctx, r.PackageName, period.DayKey(now))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get daily usage: %w", err)
	}
	return rec.UsedMinutes, nil
}
