package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnivansn/timelock/internal/metrics"
	"github.com/johnivansn/timelock/internal/notify"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the tick interval in normal mode
	DefaultInterval = 30 * time.Second

	// DefaultPowerSaveInterval is the tick interval in power-save mode
	DefaultPowerSaveInterval = 120 * time.Second
)

// Blocker receives force-block signals when a quota is breached.
type Blocker interface {
	ForceBlockNow(pkg string)
}

// Config holds updater configuration
type Config struct {
	Interval          time.Duration
	PowerSaveInterval time.Duration
}

// Updater periodically measures usage of every active restriction, persists
// it, drives threshold notifications and signals quota breaches.
type Updater struct {
	store   storage.Store
	ledger  *Ledger
	tracker *notify.Tracker
	sink    notify.Sink
	blocker Blocker
	clock   period.Clock
	logger  zerolog.Logger

	mu                sync.Mutex
	interval          time.Duration
	powerSaveInterval time.Duration
	powerSave         atomic.Bool
	wake              chan struct{}
}

// NewUpdater creates a new usage updater. blocker may be nil.
func NewUpdater(store storage.Store, ledger *Ledger, tracker *notify.Tracker, sink notify.Sink, blocker Blocker, clock period.Clock, config Config, logger zerolog.Logger) *Updater {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.PowerSaveInterval <= 0 {
		config.PowerSaveInterval = DefaultPowerSaveInterval
	}

	return &Updater{
		store:             store,
		ledger:            ledger,
		tracker:           tracker,
		sink:              sink,
		blocker:           blocker,
		clock:             clock,
		logger:            logger.With().Str("component", "usage-updater").Logger(),
		interval:          config.Interval,
		powerSaveInterval: config.PowerSaveInterval,
		wake:              make(chan struct{}, 1),
	}
}

// SetPowerSave switches between the normal and power-save tick intervals.
func (u *Updater) SetPowerSave(enabled bool) {
	if u.powerSave.Swap(enabled) != enabled {
		u.logger.Info().Bool("power_save", enabled).Msg("Tick interval mode changed")
		u.poke()
	}
}

// PowerSave reports whether power-save mode is on.
func (u *Updater) PowerSave() bool {
	return u.powerSave.Load()
}

// SetIntervals replaces both tick intervals; zero values are ignored.
func (u *Updater) SetIntervals(interval, powerSaveInterval time.Duration) {
	u.mu.Lock()
	if interval > 0 {
		u.interval = interval
	}
	if powerSaveInterval > 0 {
		u.powerSaveInterval = powerSaveInterval
	}
	u.mu.Unlock()
	u.poke()
}

// CurrentInterval returns the interval for the current mode.
func (u *Updater) CurrentInterval() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.powerSave.Load() {
		return u.powerSaveInterval
	}
	return u.interval
}

func (u *Updater) poke() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// Run ticks immediately and then on every interval until ctx is done.
func (u *Updater) Run(ctx context.Context) error {
	u.logger.Info().
		Dur("interval", u.CurrentInterval()).
		Msg("Usage updater started")

	u.tickLogged(ctx)

	for {
		timer := time.NewTimer(u.CurrentInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			u.logger.Info().Msg("Usage updater stopped")
			return nil
		case <-u.wake:
			// Re-arm with the new interval
			timer.Stop()
		case <-timer.C:
			u.tickLogged(ctx)
		}
	}
}

func (u *Updater) tickLogged(ctx context.Context) {
	if err := u.Tick(ctx); err != nil {
		u.logger.Error().Err(err).Msg("Usage update cycle failed")
	}
}

// Tick runs one update cycle. Failures of a single restriction are logged
// and do not stop the cycle; only a failure to list restrictions is
// returned.
func (u *Updater) Tick(ctx context.Context) error {
	now := u.clock.Now()
	today := period.DayKey(now)

	restrictions, err := u.store.Restrictions().List(ctx)
	if err != nil {
		metrics.TickErrors.WithLabelValues("list").Inc()
		return fmt.Errorf("failed to list restrictions: %w", err)
	}
	metrics.TicksTotal.Inc()

	names := make(map[string]string, len(restrictions))
	inactive := make(map[string]bool)
	for i := range restrictions {
		r := &restrictions[i]
		names[r.PackageName] = r.AppName
		if !r.Active(now) {
			inactive[r.PackageName] = true
			continue
		}
		if err := u.updateRestriction(ctx, r, now, today); err != nil {
			metrics.TickErrors.WithLabelValues("update").Inc()
			u.logger.Error().
				Err(err).
				Str("package", r.PackageName).
				Msg("Failed to update usage")
		}
	}

	u.checkUpcoming(ctx, names, inactive, now)
	return nil
}

func (u *Updater) updateRestriction(ctx context.Context, r *storage.Restriction, now time.Time, today string) error {
	m := u.ledger.Measure(ctx, r.PackageName, now)

	existing, err := u.store.Usage().Get(ctx, r.PackageName, today)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to get usage: %w", err)
	}

	rec := storage.DailyUsage{
		PackageName: r.PackageName,
		Date:        today,
		UsedMinutes: m.Minutes,
		UsedMillis:  m.Millis,
		LastUpdated: now,
	}
	// Counters never go backwards within a day; the journal starts empty
	// after a restart while the stored record does not.
	if existing != nil && existing.UsedMillis > rec.UsedMillis {
		rec.UsedMillis = existing.UsedMillis
	}
	if existing != nil && existing.UsedMinutes > rec.UsedMinutes {
		rec.UsedMinutes = existing.UsedMinutes
	}
	if floor := int64(rec.UsedMinutes) * 60000; rec.UsedMillis < floor {
		rec.UsedMillis = floor
	}

	if err := u.store.Usage().Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to save usage: %w", err)
	}
	metrics.UsageMinutes.WithLabelValues(r.PackageName).Set(float64(rec.UsedMinutes))

	quota := r.QuotaFor(period.Weekday(now))
	if quota <= 0 {
		return nil
	}

	usedMinutes := rec.UsedMinutes
	usedMillis := rec.UsedMillis
	if r.IsWeekly() {
		usedMinutes, err = u.ledger.PeriodUsedMinutes(ctx, r, now)
		if err != nil {
			return err
		}
		usedMillis = int64(usedMinutes) * 60000
	}

	quotaMillis := int64(quota) * 60000
	if usedMillis < quotaMillis {
		u.tracker.Observe(ctx, r.PackageName, r.AppName, usedMillis, quota)
	}

	exceeded := usedMillis >= quotaMillis
	if r.IsWeekly() {
		exceeded = usedMinutes >= quota
	}
	if !exceeded || (existing != nil && existing.Blocked) {
		return nil
	}

	if err := u.store.Usage().SetBlocked(ctx, r.PackageName, today, true); err != nil {
		return fmt.Errorf("failed to mark blocked: %w", err)
	}
	metrics.QuotaBreaches.WithLabelValues(string(r.LimitType)).Inc()

	u.logger.Info().
		Str("package", r.PackageName).
		Int("used_minutes", usedMinutes).
		Int("quota_minutes", quota).
		Bool("weekly", r.IsWeekly()).
		Msg("Quota exceeded, blocking")

	u.sink.Raise(ctx, notify.Notification{
		Kind:    notify.KindBlocked,
		Package: r.PackageName,
		AppName: r.AppName,
		Payload: map[string]string{notify.KeyReason: "quota"},
	})
	if u.blocker != nil {
		u.blocker.ForceBlockNow(r.PackageName)
	}
	return nil
}

// checkUpcoming announces schedules and date blocks of packages that either
// have no restriction or an active one.
func (u *Updater) checkUpcoming(ctx context.Context, names map[string]string, inactive map[string]bool, now time.Time) {
	schedules, err := u.store.Schedules().ListEnabled(ctx)
	if err != nil {
		metrics.TickErrors.WithLabelValues("schedules").Inc()
		u.logger.Error().Err(err).Msg("Failed to list schedules")
	} else {
		kept := schedules[:0]
		for _, sc := range schedules {
			if !inactive[sc.PackageName] {
				kept = append(kept, sc)
			}
		}
		u.tracker.CheckSchedules(ctx, kept, names, now)
	}

	blocks, err := u.store.DateBlocks().ListEnabled(ctx)
	if err != nil {
		metrics.TickErrors.WithLabelValues("date_blocks").Inc()
		u.logger.Error().Err(err).Msg("Failed to list date blocks")
		return
	}
	kept := blocks[:0]
	for _, b := range blocks {
		if !inactive[b.PackageName] {
			kept = append(kept, b)
		}
	}
	u.tracker.CheckDateBlocks(ctx, kept, names, now)
}

// TodayUsage returns today's usage records.
func (u *Updater) TodayUsage(ctx context.Context) ([]storage.DailyUsage, error) {
	return u.store.Usage().ListByDate(ctx, period.DayKey(u.clock.Now()))
}
