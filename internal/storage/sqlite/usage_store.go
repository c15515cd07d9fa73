package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/johnivansn/timelock/internal/storage"
)

type usageStore struct {
	db *sql.DB
}

const usageColumns = `package_name, date, used_minutes, used_millis, blocked, last_updated`

func scanUsage(row rowScanner) (*storage.DailyUsage, error) {
	var (
		u           storage.DailyUsage
		blocked     int
		lastUpdated int64
	)

	err := row.Scan(&u.PackageName, &u.Date, &u.UsedMinutes, &u.UsedMillis, &blocked, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Blocked = blocked == 1
	u.LastUpdated = millisToTime(lastUpdated)
	return &u, nil
}

// Get retrieves the usage record of a package for a date
func (s *usageStore) Get(ctx context.Context, packageName, date string) (*storage.DailyUsage, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+usageColumns+" FROM daily_usage WHERE package_name = ? AND date = ?", packageName, date)
	return scanUsage(row)
}

// Upsert atomically writes the counters of a record; an existing blocked
// flag is kept unless u.Blocked is set
func (s *usageStore) Upsert(ctx context.Context, u storage.DailyUsage) error {
	lastUpdated := u.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_usage (`+usageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(package_name, date) DO UPDATE SET
			used_minutes = excluded.used_minutes,
			used_millis = excluded.used_millis,
			blocked = MAX(daily_usage.blocked, excluded.blocked),
			last_updated = excluded.last_updated
	`, u.PackageName, u.Date, u.UsedMinutes, u.UsedMillis, boolToInt(u.Blocked), lastUpdated.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert usage: %w", err)
	}
	return nil
}

// ListByDate returns every usage record of a date
func (s *usageStore) ListByDate(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+usageColumns+" FROM daily_usage WHERE date = ? ORDER BY package_name", date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []storage.DailyUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, *u)
	}
	return usages, rows.Err()
}

// SumUsageSince adds up used minutes of records dated on or after fromDate
func (s *usageStore) SumUsageSince(ctx context.Context, packageName, fromDate string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(used_minutes), 0) FROM daily_usage WHERE package_name = ? AND date >= ?",
		packageName, fromDate).Scan(&total)
	return total, err
}

// SetBlocked sets the blocked flag of an existing record
func (s *usageStore) SetBlocked(ctx context.Context, packageName, date string, blocked bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE daily_usage SET blocked = ?, last_updated = ? WHERE package_name = ? AND date = ?",
		boolToInt(blocked), time.Now().UnixMilli(), packageName, date)
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

// ResetDay zeroes every record of a date
func (s *usageStore) ResetDay(ctx context.Context, date string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE daily_usage SET used_minutes = 0, used_millis = 0, blocked = 0, last_updated = ? WHERE date = ?",
		time.Now().UnixMilli(), date)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteBefore removes records dated strictly before cutoffDate
func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM daily_usage WHERE date < ?", cutoffDate)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeletePackagesNotIn removes all usage of packages outside keep
func (s *usageStore) DeletePackagesNotIn(ctx context.Context, keep []string) (int, error) {
	q := "DELETE FROM daily_usage"
	args := make([]any, len(keep))
	if len(keep) > 0 {
		q += " WHERE package_name NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + ")"
		for i, pkg := range keep {
			args[i] = pkg
		}
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DistinctPackages returns packages having at least one usage record
func (s *usageStore) DistinctPackages(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT package_name FROM daily_usage ORDER BY package_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packages []string
	for rows.Next() {
		var pkg string
		if err := rows.Scan(&pkg); err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}
