package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/johnivansn/timelock/internal/storage"
)

type scheduleStore struct {
	db *sql.DB
}

const scheduleColumns = `id, package_name, start_hour, start_minute, end_hour, end_minute,
	days_of_week, enabled, created_at`

func scanSchedule(row rowScanner) (*storage.Schedule, error) {
	var (
		sc        storage.Schedule
		enabled   int
		createdAt int64
	)

	err := row.Scan(&sc.ID, &sc.PackageName, &sc.StartHour, &sc.StartMinute, &sc.EndHour,
		&sc.EndMinute, &sc.DaysOfWeek, &enabled, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sc.Enabled = enabled == 1
	sc.CreatedAt = millisToTime(createdAt)
	return &sc, nil
}

// Get retrieves a schedule by ID
func (s *scheduleStore) Get(ctx context.Context, id string) (*storage.Schedule, error) {
	return scanSchedule(s.db.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id))
}

// List returns all schedules
func (s *scheduleStore) List(ctx context.Context) ([]storage.Schedule, error) {
	return s.query(ctx, "SELECT "+scheduleColumns+" FROM schedules ORDER BY created_at, id")
}

// ListByPackage returns the schedules of one package
func (s *scheduleStore) ListByPackage(ctx context.Context, packageName string) ([]storage.Schedule, error) {
	return s.query(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE package_name = ? ORDER BY created_at, id", packageName)
}

// ListEnabled returns enabled schedules of every package
func (s *scheduleStore) ListEnabled(ctx context.Context) ([]storage.Schedule, error) {
	return s.query(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE enabled = 1 ORDER BY created_at, id")
}

// ListEnabledByPackage returns enabled schedules of one package
func (s *scheduleStore) ListEnabledByPackage(ctx context.Context, packageName string) ([]storage.Schedule, error) {
	return s.query(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE package_name = ? AND enabled = 1 ORDER BY created_at, id", packageName)
}

func (s *scheduleStore) query(ctx context.Context, q string, args ...any) ([]storage.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []storage.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

// Upsert inserts or replaces a schedule by ID
func (s *scheduleStore) Upsert(ctx context.Context, sc storage.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			package_name = excluded.package_name,
			start_hour = excluded.start_hour,
			start_minute = excluded.start_minute,
			end_hour = excluded.end_hour,
			end_minute = excluded.end_minute,
			days_of_week = excluded.days_of_week,
			enabled = excluded.enabled,
			created_at = excluded.created_at
	`, sc.ID, sc.PackageName, sc.StartHour, sc.StartMinute, sc.EndHour, sc.EndMinute,
		sc.DaysOfWeek, boolToInt(sc.Enabled), timeToMillis(sc.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert schedule: %w", err)
	}
	return nil
}

// Delete removes a schedule by ID
func (s *scheduleStore) Delete(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "schedules", id)
}

// DeleteByPackage removes every schedule of a package
func (s *scheduleStore) DeleteByPackage(ctx context.Context, packageName string) (int, error) {
	return deleteByPackage(ctx, s.db, "schedules", packageName)
}

type dateBlockStore struct {
	db *sql.DB
}

const dateBlockColumns = `id, package_name, start_date, end_date, start_hour, start_minute,
	end_hour, end_minute, enabled, label, created_at`

func scanDateBlock(row rowScanner) (*storage.DateBlock, error) {
	var (
		b         storage.DateBlock
		enabled   int
		createdAt int64
	)

	err := row.Scan(&b.ID, &b.PackageName, &b.StartDate, &b.EndDate, &b.StartHour, &b.StartMinute,
		&b.EndHour, &b.EndMinute, &enabled, &b.Label, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.Enabled = enabled == 1
	b.CreatedAt = millisToTime(createdAt)
	return &b, nil
}

// Get retrieves a date block by ID
func (s *dateBlockStore) Get(ctx context.Context, id string) (*storage.DateBlock, error) {
	return scanDateBlock(s.db.QueryRowContext(ctx, "SELECT "+dateBlockColumns+" FROM date_blocks WHERE id = ?", id))
}

// List returns all date blocks
func (s *dateBlockStore) List(ctx context.Context) ([]storage.DateBlock, error) {
	return s.query(ctx, "SELECT "+dateBlockColumns+" FROM date_blocks ORDER BY start_date, id")
}

// ListByPackage returns the date blocks of one package
func (s *dateBlockStore) ListByPackage(ctx context.Context, packageName string) ([]storage.DateBlock, error) {
	return s.query(ctx, "SELECT "+dateBlockColumns+" FROM date_blocks WHERE package_name = ? ORDER BY start_date, id", packageName)
}

// ListEnabled returns enabled date blocks of every package
func (s *dateBlockStore) ListEnabled(ctx context.Context) ([]storage.DateBlock, error) {
	return s.query(ctx, "SELECT "+dateBlockColumns+" FROM date_blocks WHERE enabled = 1 ORDER BY start_date, id")
}

// ListEnabledByPackage returns enabled date blocks of one package
func (s *dateBlockStore) ListEnabledByPackage(ctx context.Context, packageName string) ([]storage.DateBlock, error) {
	return s.query(ctx, "SELECT "+dateBlockColumns+" FROM date_blocks WHERE package_name = ? AND enabled = 1 ORDER BY start_date, id", packageName)
}

func (s *dateBlockStore) query(ctx context.Context, q string, args ...any) ([]storage.DateBlock, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []storage.DateBlock
	for rows.Next() {
		b, err := scanDateBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, rows.Err()
}

// Upsert inserts or replaces a date block by ID
func (s *dateBlockStore) Upsert(ctx context.Context, b storage.DateBlock) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO date_blocks (`+dateBlockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			package_name = excluded.package_name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			start_hour = excluded.start_hour,
			start_minute = excluded.start_minute,
			end_hour = excluded.end_hour,
			end_minute = excluded.end_minute,
			enabled = excluded.enabled,
			label = excluded.label,
			created_at = excluded.created_at
	`, b.ID, b.PackageName, b.StartDate, b.EndDate, b.StartHour, b.StartMinute, b.EndHour,
		b.EndMinute, boolToInt(b.Enabled), b.Label, timeToMillis(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert date block: %w", err)
	}
	return nil
}

// Delete removes a date block by ID
func (s *dateBlockStore) Delete(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "date_blocks", id)
}

// DeleteByPackage removes every date block of a package
func (s *dateBlockStore) DeleteByPackage(ctx context.Context, packageName string) (int, error) {
	return deleteByPackage(ctx, s.db, "date_blocks", packageName)
}

func deleteByPackage(ctx context.Context, db *sql.DB, table, packageName string) (int, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE package_name = ?", packageName)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
