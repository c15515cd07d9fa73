package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/johnivansn/timelock/internal/storage"
)

type restrictionStore struct {
	db *sql.DB
}

const restrictionColumns = `id, package_name, app_name, daily_quota_minutes, enabled, limit_type,
	daily_mode, daily_quotas, weekly_quota_minutes, weekly_reset_day, weekly_reset_hour,
	weekly_reset_minute, expires_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRestriction(row rowScanner) (*storage.Restriction, error) {
	var (
		r         storage.Restriction
		enabled   int
		limitType string
		dailyMode string
		expiresAt sql.NullInt64
		createdAt int64
	)

	err := row.Scan(&r.ID, &r.PackageName, &r.AppName, &r.DailyQuotaMinutes, &enabled, &limitType,
		&dailyMode, &r.DailyQuotas, &r.WeeklyQuotaMinutes, &r.WeeklyResetDay, &r.WeeklyResetHour,
		&r.WeeklyResetMinute, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Enabled = enabled == 1
	r.LimitType = storage.LimitType(limitType)
	r.DailyMode = storage.DailyMode(dailyMode)
	if expiresAt.Valid && expiresAt.Int64 > 0 {
		t := millisToTime(expiresAt.Int64)
		r.ExpiresAt = &t
	}
	r.CreatedAt = millisToTime(createdAt)

	return &r, nil
}

// Get retrieves a restriction by ID
func (s *restrictionStore) Get(ctx context.Context, id string) (*storage.Restriction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+restrictionColumns+" FROM restrictions WHERE id = ?", id)
	return scanRestriction(row)
}

// GetByPackage retrieves the restriction of a package
func (s *restrictionStore) GetByPackage(ctx context.Context, packageName string) (*storage.Restriction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+restrictionColumns+" FROM restrictions WHERE package_name = ?", packageName)
	return scanRestriction(row)
}

// List returns all restrictions ordered by package name
func (s *restrictionStore) List(ctx context.Context) ([]storage.Restriction, error) {
	return s.query(ctx, "SELECT "+restrictionColumns+" FROM restrictions ORDER BY package_name")
}

// ListEnabled returns restrictions with the enabled flag set
func (s *restrictionStore) ListEnabled(ctx context.Context) ([]storage.Restriction, error) {
	return s.query(ctx, "SELECT "+restrictionColumns+" FROM restrictions WHERE enabled = 1 ORDER BY package_name")
}

func (s *restrictionStore) query(ctx context.Context, q string, args ...any) ([]storage.Restriction, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var restrictions []storage.Restriction
	for rows.Next() {
		r, err := scanRestriction(rows)
		if err != nil {
			return nil, err
		}
		restrictions = append(restrictions, *r)
	}
	return restrictions, rows.Err()
}

// Upsert inserts or replaces a restriction by ID. A different row holding the
// same package is replaced.
func (s *restrictionStore) Upsert(ctx context.Context, r storage.Restriction) error {
	var expiresAt sql.NullInt64
	if r.ExpiresAt != nil && !r.ExpiresAt.IsZero() {
		expiresAt = sql.NullInt64{Int64: r.ExpiresAt.UnixMilli(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM restrictions WHERE package_name = ? AND id <> ?", r.PackageName, r.ID); err != nil {
		_ = tx.Rollback()
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO restrictions (`+restrictionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			package_name = excluded.package_name,
			app_name = excluded.app_name,
			daily_quota_minutes = excluded.daily_quota_minutes,
			enabled = excluded.enabled,
			limit_type = excluded.limit_type,
			daily_mode = excluded.daily_mode,
			daily_quotas = excluded.daily_quotas,
			weekly_quota_minutes = excluded.weekly_quota_minutes,
			weekly_reset_day = excluded.weekly_reset_day,
			weekly_reset_hour = excluded.weekly_reset_hour,
			weekly_reset_minute = excluded.weekly_reset_minute,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`, r.ID, r.PackageName, r.AppName, r.DailyQuotaMinutes, boolToInt(r.Enabled), string(r.LimitType),
		string(r.DailyMode), r.DailyQuotas, r.WeeklyQuotaMinutes, r.WeeklyResetDay, r.WeeklyResetHour,
		r.WeeklyResetMinute, expiresAt, timeToMillis(r.CreatedAt))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to upsert restriction: %w", err)
	}

	return tx.Commit()
}

// Delete removes a restriction by ID
func (s *restrictionStore) Delete(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "restrictions", id)
}

func deleteByID(ctx context.Context, db *sql.DB, table, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
