package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/johnivansn/timelock/internal/metrics"
	"github.com/johnivansn/timelock/internal/notify"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetentionDays is how long usage history is kept
	DefaultRetentionDays = 30

	// DefaultPurgeDays is how far back the daily reset purges records
	DefaultPurgeDays = 7
)

// ResetOptions configures a ResetScheduler
type ResetOptions struct {
	ResetHour     int
	ResetMinute   int
	RetentionDays int
	PurgeDays     int
}

// ResetReport summarizes one reset run
type ResetReport struct {
	Date              string `json:"date"`
	RecordsReset      int    `json:"records_reset"`
	RecordsPurged     int    `json:"records_purged"`
	ExpiredUsage      int    `json:"expired_usage"`
	OrphanedUsage     int    `json:"orphaned_usage"`
	ExpiredDateBlocks int    `json:"expired_date_blocks"`
}

// ResetScheduler manages daily usage resets
type ResetScheduler struct {
	store   storage.Store
	tracker *notify.Tracker
	clock   period.Clock
	opts    ResetOptions
	logger  zerolog.Logger
}

// NewResetScheduler creates a new reset scheduler
func NewResetScheduler(store storage.Store, tracker *notify.Tracker, clock period.Clock, opts ResetOptions, logger zerolog.Logger) *ResetScheduler {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.PurgeDays <= 0 {
		opts.PurgeDays = DefaultPurgeDays
	}

	return &ResetScheduler{
		store:   store,
		tracker: tracker,
		clock:   clock,
		opts:    opts,
		logger:  logger.With().Str("component", "reset-scheduler").Logger(),
	}
}

// Run fires the daily reset at the configured time until ctx is done
func (rs *ResetScheduler) Run(ctx context.Context) error {
	rs.logger.Info().
		Str("reset_time", period.FormatClock(rs.opts.ResetHour, rs.opts.ResetMinute)).
		Msg("Daily usage reset scheduler started")

	for {
		nextReset := rs.calculateNextReset()
		waitDuration := nextReset.Sub(rs.clock.Now())

		rs.logger.Info().
			Time("next_reset", nextReset).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next daily reset")

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
			if _, err := rs.Reset(ctx); err != nil {
				rs.logger.Error().Err(err).Msg("Daily reset failed")
			}
		case <-ctx.Done():
			timer.Stop()
			rs.logger.Info().Msg("Daily usage reset scheduler stopped")
			return nil
		}
	}
}

// calculateNextReset calculates the next reset time
func (rs *ResetScheduler) calculateNextReset() time.Time {
	now := rs.clock.Now()

	todayReset := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.opts.ResetHour, rs.opts.ResetMinute, 0, 0,
		now.Location(),
	)

	// Already passed today's reset time, schedule for tomorrow
	if !now.Before(todayReset) {
		return todayReset.AddDate(0, 0, 1)
	}

	return todayReset
}

// Reset zeroes today's usage, purges old records, clears notification state
// and runs retention cleanup.
func (rs *ResetScheduler) Reset(ctx context.Context) (*ResetReport, error) {
	now := rs.clock.Now()
	today := period.DayKey(now)
	report := &ResetReport{Date: today}

	rs.logger.Info().Str("date", today).Msg("Performing daily usage reset")

	n, err := rs.store.Usage().ResetDay(ctx, today)
	if err != nil {
		return report, fmt.Errorf("failed to reset usage for %s: %w", today, err)
	}
	report.RecordsReset = n

	purgeCutoff := period.DayKey(now.AddDate(0, 0, -rs.opts.PurgeDays))
	n, err = rs.store.Usage().DeleteBefore(ctx, purgeCutoff)
	if err != nil {
		return report, fmt.Errorf("failed to purge usage before %s: %w", purgeCutoff, err)
	}
	report.RecordsPurged = n

	if rs.tracker != nil {
		rs.tracker.ResetDaily()
	}
	metrics.ResetsTotal.Inc()

	if err := rs.cleanup(ctx, now, report); err != nil {
		return report, err
	}

	rs.logger.Info().
		Int("records_reset", report.RecordsReset).
		Int("records_purged", report.RecordsPurged).
		Str("purge_cutoff", purgeCutoff).
		Msg("Daily usage reset complete")

	return report, nil
}

// Cleanup removes usage past the retention window, usage of packages without
// a restriction, and date blocks that ended before the retention window.
func (rs *ResetScheduler) Cleanup(ctx context.Context) (*ResetReport, error) {
	now := rs.clock.Now()
	report := &ResetReport{Date: period.DayKey(now)}
	return report, rs.cleanup(ctx, now, report)
}

func (rs *ResetScheduler) cleanup(ctx context.Context, now time.Time, report *ResetReport) error {
	cutoff := now.AddDate(0, 0, -rs.opts.RetentionDays)
	cutoffDate := period.DayKey(cutoff)

	n, err := rs.store.Usage().DeleteBefore(ctx, cutoffDate)
	if err != nil {
		return fmt.Errorf("failed to delete usage before %s: %w", cutoffDate, err)
	}
	report.ExpiredUsage = n
	metrics.CleanupDeleted.WithLabelValues("expired_usage").Add(float64(n))

	restrictions, err := rs.store.Restrictions().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list restrictions: %w", err)
	}
	keep := make([]string, len(restrictions))
	for i, r := range restrictions {
		keep[i] = r.PackageName
	}

	n, err = rs.store.Usage().DeletePackagesNotIn(ctx, keep)
	if err != nil {
		return fmt.Errorf("failed to delete orphaned usage: %w", err)
	}
	report.OrphanedUsage = n
	metrics.CleanupDeleted.WithLabelValues("orphaned_usage").Add(float64(n))

	blocks, err := rs.store.DateBlocks().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list date blocks: %w", err)
	}
	for _, b := range blocks {
		_, end, err := b.Window(now.Location())
		if err != nil || !end.Before(cutoff) {
			continue
		}
		if err := rs.store.DateBlocks().Delete(ctx, b.ID); err != nil {
			rs.logger.Warn().Err(err).Str("id", b.ID).Msg("Failed to delete expired date block")
			continue
		}
		report.ExpiredDateBlocks++
	}
	metrics.CleanupDeleted.WithLabelValues("date_blocks").Add(float64(report.ExpiredDateBlocks))

	rs.logger.Info().
		Int("expired_usage", report.ExpiredUsage).
		Int("orphaned_usage", report.OrphanedUsage).
		Int("expired_date_blocks", report.ExpiredDateBlocks).
		Str("cutoff_date", cutoffDate).
		Msg("Retention cleanup complete")

	return nil
}
