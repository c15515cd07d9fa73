// Package policy decides whether a package is blocked right now and why.
package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/johnivansn/timelock/internal/metrics"
	"github.com/johnivansn/timelock/internal/notify"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/rs/zerolog"
)

// UsageCounter reports the minutes counted against a restriction's quota.
type UsageCounter interface {
	PeriodUsedMinutes(ctx context.Context, r *storage.Restriction, now time.Time) (int, error)
}

// Combiner derives the overall reason of a result from its sub-reason flags.
type Combiner interface {
	Combine(ctx context.Context, res Result) (Reason, error)
}

// Evaluator evaluates restrictions, schedules and date blocks of a package.
// Read failures never block: a restriction that cannot be loaded is treated
// as absent and a rule that cannot be listed as inactive.
type Evaluator struct {
	store    storage.Store
	counter  UsageCounter
	sink     notify.Sink
	combiner Combiner
	clock    period.Clock
	logger   zerolog.Logger
}

// NewEvaluator creates a new restriction evaluator. sink may be nil.
func NewEvaluator(store storage.Store, counter UsageCounter, sink notify.Sink, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:   store,
		counter: counter,
		sink:    sink,
		clock:   period.RealClock{},
		logger:  logger.With().Str("component", "policy").Logger(),
	}
}

// SetCombiner replaces the built-in reason combination. Call it before the
// evaluator is shared.
func (e *Evaluator) SetCombiner(c Combiner) {
	e.combiner = c
}

// SetClock sets the clock for time-based evaluation (for testing)
func (e *Evaluator) SetClock(clock period.Clock) {
	e.clock = clock
}

// Evaluate decides whether pkg is blocked now.
func (e *Evaluator) Evaluate(ctx context.Context, pkg string) Result {
	started := time.Now()
	now := e.clock.Now()

	r := e.loadRestriction(ctx, pkg)
	direct := r == nil || r.Active(now)

	res := Result{Package: pkg}
	if r != nil {
		res.AppName = r.AppName
	}
	res.Quota = e.quotaBlocked(ctx, r, now)
	if direct {
		res.Schedule = e.scheduleBlocked(ctx, pkg, now)
		res.Date = e.dateBlocked(ctx, pkg, now)
	}
	res.Reason = e.decide(ctx, res)

	metrics.EvaluationsTotal.WithLabelValues(string(res.Reason)).Inc()
	metrics.EvaluationDuration.Observe(time.Since(started).Seconds())

	e.logger.Debug().
		Str("package", pkg).
		Str("reason", string(res.Reason)).
		Bool("quota", res.Quota).
		Bool("schedule", res.Schedule).
		Bool("date", res.Date).
		Msg("Evaluated package")

	return res
}

// decide combines the sub-reasons, through the combiner when one is set. A
// combiner answer that clears an active restriction or names an inactive
// one is rejected.
func (e *Evaluator) decide(ctx context.Context, res Result) Reason {
	builtin := combine(res.Quota, res.Schedule, res.Date)
	if e.combiner == nil || builtin == ReasonNone {
		return builtin
	}

	reason, err := e.combiner.Combine(ctx, res)
	if err == nil {
		err = checkDecision(res, reason)
	}
	if err != nil {
		metrics.PolicyFallbacks.Inc()
		e.logger.Warn().Err(err).Str("package", res.Package).Msg("Policy decision rejected, using built-in combination")
		return builtin
	}
	return reason
}

func checkDecision(res Result, reason Reason) error {
	active := res.Reasons()
	switch reason {
	case ReasonNone:
		return fmt.Errorf("policy cleared %d active restriction(s)", len(active))
	case ReasonCombined:
		if len(active) < 2 {
			return fmt.Errorf("policy combined %d active restriction(s)", len(active))
		}
		return nil
	default:
		if !slices.Contains(active, reason) {
			return fmt.Errorf("policy reason %s is not active", reason)
		}
		return nil
	}
}

func (e *Evaluator) loadRestriction(ctx context.Context, pkg string) *storage.Restriction {
	r, err := e.store.Restrictions().GetByPackage(ctx, pkg)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn().Err(err).Str("package", pkg).Msg("Failed to load restriction, treating as absent")
		}
		return nil
	}
	return r
}

func (e *Evaluator) quotaBlocked(ctx context.Context, r *storage.Restriction, now time.Time) bool {
	if r == nil || !r.Active(now) {
		return false
	}

	quota := r.QuotaFor(period.Weekday(now))
	if quota <= 0 {
		return false
	}

	used, err := e.counter.PeriodUsedMinutes(ctx, r, now)
	if err != nil {
		e.logger.Warn().Err(err).Str("package", r.PackageName).Msg("Failed to read usage, not blocking")
		return false
	}
	return used >= quota
}

func (e *Evaluator) scheduleBlocked(ctx context.Context, pkg string, now time.Time) bool {
	return len(e.activeSchedules(ctx, pkg, now)) > 0
}

func (e *Evaluator) dateBlocked(ctx context.Context, pkg string, now time.Time) bool {
	return len(e.activeDateBlocks(ctx, pkg, now)) > 0
}

func (e *Evaluator) activeSchedules(ctx context.Context, pkg string, now time.Time) []storage.Schedule {
	schedules, err := e.store.Schedules().ListEnabledByPackage(ctx, pkg)
	if err != nil {
		e.logger.Warn().Err(err).Str("package", pkg).Msg("Failed to list schedules")
		return nil
	}

	var active []storage.Schedule
	for _, sc := range schedules {
		if sc.ActiveAt(now) {
			active = append(active, sc)
		}
	}
	return active
}

func (e *Evaluator) activeDateBlocks(ctx context.Context, pkg string, now time.Time) []storage.DateBlock {
	blocks, err := e.store.DateBlocks().ListEnabledByPackage(ctx, pkg)
	if err != nil {
		e.logger.Warn().Err(err).Str("package", pkg).Msg("Failed to list date blocks")
		return nil
	}

	var active []storage.DateBlock
	for _, b := range blocks {
		if b.ActiveAt(now) {
			active = append(active, b)
		}
	}
	return active
}

// DateBlockRemainingDays returns the fewest whole days left among the active
// date blocks of pkg.
func (e *Evaluator) DateBlockRemainingDays(ctx context.Context, pkg string) (int, bool) {
	now := e.clock.Now()
	found := false
	minDays := 0

	for _, b := range e.activeDateBlocks(ctx, pkg, now) {
		_, end, err := b.Window(now.Location())
		if err != nil {
			continue
		}
		days := int(end.Sub(now) / (24 * time.Hour))
		if days < 0 {
			days = 0
		}
		if !found || days < minDays {
			found, minDays = true, days
		}
	}
	return minDays, found
}

// DateBlockRangeSummary spans the active date blocks of pkg from the earliest
// start to the latest end.
func (e *Evaluator) DateBlockRangeSummary(ctx context.Context, pkg string) (string, bool) {
	now := e.clock.Now()
	var earliest, latest time.Time

	for _, b := range e.activeDateBlocks(ctx, pkg, now) {
		start, end, err := b.Window(now.Location())
		if err != nil {
			continue
		}
		if earliest.IsZero() || start.Before(earliest) {
			earliest = start
		}
		if latest.IsZero() || end.After(latest) {
			latest = end
		}
	}
	if earliest.IsZero() {
		return "", false
	}
	return fmt.Sprintf("From %s to %s", period.FormatDateTime(earliest), period.FormatDateTime(latest)), true
}

// DateInfo collects the date block details shown with a block of pkg.
func (e *Evaluator) DateInfo(ctx context.Context, pkg string) DateInfo {
	var info DateInfo
	info.RemainingDays, info.HasRemainingDays = e.DateBlockRemainingDays(ctx, pkg)
	info.Range, _ = e.DateBlockRangeSummary(ctx, pkg)
	return info
}

// ScheduleSummary describes the schedule windows of pkg active now, e.g.
// "22:00-06:00 (Fri, Sat)".
func (e *Evaluator) ScheduleSummary(ctx context.Context, pkg string) (string, bool) {
	active := e.activeSchedules(ctx, pkg, e.clock.Now())
	if len(active) == 0 {
		return "", false
	}

	parts := make([]string, 0, len(active))
	for _, sc := range active {
		var days []string
		for day := period.Sunday; day <= period.Saturday; day++ {
			if sc.HasDay(day) {
				days = append(days, period.DayName(day))
			}
		}
		parts = append(parts, fmt.Sprintf("%s-%s (%s)",
			period.FormatClock(sc.StartHour, sc.StartMinute),
			period.FormatClock(sc.EndHour, sc.EndMinute),
			strings.Join(days, ", ")))
	}
	return strings.Join(parts, "; "), true
}

// ExpirySummary describes when the quota of pkg resets and when its
// restriction expires.
func (e *Evaluator) ExpirySummary(ctx context.Context, pkg string) (string, bool) {
	r := e.loadRestriction(ctx, pkg)
	if r == nil {
		return "", false
	}
	now := e.clock.Now()

	parts := []string{"Quota resets tomorrow"}
	if r.IsWeekly() {
		next := period.NextWeekStart(now, r.WeeklyResetDay, r.WeeklyResetHour, r.WeeklyResetMinute)
		parts[0] = fmt.Sprintf("Quota resets %s %s",
			period.DayName(period.Weekday(next)),
			period.FormatClock(next.Hour(), next.Minute()))
	}
	if r.ExpiresAt != nil && r.ExpiresAt.UnixMilli() > 0 {
		parts = append(parts, "expires "+period.FormatDateTime(r.ExpiresAt.In(now.Location())))
	}
	return strings.Join(parts, ", "), true
}

// MarkBlocked flags today's usage record of pkg as blocked and raises a
// blocked notification. It reports false when pkg has no restriction or no
// usage today.
func (e *Evaluator) MarkBlocked(ctx context.Context, pkg string, reason Reason) (bool, error) {
	today := period.DayKey(e.clock.Now())

	rec, err := e.store.Usage().Get(ctx, pkg, today)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get usage: %w", err)
	}
	r := e.loadRestriction(ctx, pkg)
	if r == nil {
		return false, nil
	}
	if rec.Blocked {
		return true, nil
	}

	if err := e.store.Usage().SetBlocked(ctx, pkg, today, true); err != nil {
		return false, fmt.Errorf("failed to mark blocked: %w", err)
	}

	e.logger.Info().Str("package", pkg).Str("reason", string(reason)).Msg("Package blocked")

	if e.sink != nil {
		e.sink.Raise(ctx, notify.Notification{
			Kind:    notify.KindBlocked,
			Package: pkg,
			AppName: r.AppName,
			Payload: map[string]string{notify.KeyReason: notificationReason(reason)},
		})
	}
	return true, nil
}

// Unblock clears the blocked flag of today's usage record of pkg.
func (e *Evaluator) Unblock(ctx context.Context, pkg string) error {
	today := period.DayKey(e.clock.Now())

	rec, err := e.store.Usage().Get(ctx, pkg, today)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get usage: %w", err)
	}
	if !rec.Blocked {
		return nil
	}

	if err := e.store.Usage().SetBlocked(ctx, pkg, today, false); err != nil {
		return fmt.Errorf("failed to unblock: %w", err)
	}
	e.logger.Info().Str("package", pkg).Msg("Package unblocked")
	return nil
}

// BlockedPackages lists packages with an active restriction whose usage
// record today is flagged blocked.
func (e *Evaluator) BlockedPackages(ctx context.Context) ([]string, error) {
	now := e.clock.Now()

	restrictions, err := e.store.Restrictions().ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions: %w", err)
	}
	usages, err := e.store.Usage().ListByDate(ctx, period.DayKey(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}

	blocked := make(map[string]bool, len(usages))
	for _, u := range usages {
		blocked[u.PackageName] = u.Blocked
	}

	var out []string
	for _, r := range restrictions {
		if !r.IsExpired(now) && blocked[r.PackageName] {
			out = append(out, r.PackageName)
		}
	}
	sort.Strings(out)
	return out, nil
}

func notificationReason(reason Reason) string {
	switch reason {
	case ReasonQuota, ReasonSchedule, ReasonDate:
		return string(reason)
	default:
		return "manual"
	}
}
