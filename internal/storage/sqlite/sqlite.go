package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/johnivansn/timelock/internal/storage"
	_ "modernc.org/sqlite"
)

// Store implements the storage.Store interface on an embedded SQLite file
type Store struct {
	db               *sql.DB
	restrictionStore *restrictionStore
	scheduleStore    *scheduleStore
	dateBlockStore   *dateBlockStore
	usageStore       *usageStore
	templateStore    *templateStore
	settingsStore    *settingsStore
}

// Open opens (creating if needed) the database at path and applies migrations
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := storage.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:               db,
		restrictionStore: &restrictionStore{db: db},
		scheduleStore:    &scheduleStore{db: db},
		dateBlockStore:   &dateBlockStore{db: db},
		usageStore:       &usageStore{db: db},
		templateStore:    &templateStore{db: db},
		settingsStore:    &settingsStore{db: db},
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Restrictions returns the RestrictionStore implementation
func (s *Store) Restrictions() storage.RestrictionStore {
	return s.restrictionStore
}

// Schedules returns the ScheduleStore implementation
func (s *Store) Schedules() storage.ScheduleStore {
	return s.scheduleStore
}

// DateBlocks returns the DateBlockStore implementation
func (s *Store) DateBlocks() storage.DateBlockStore {
	return s.dateBlockStore
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Templates returns the TemplateStore implementation
func (s *Store) Templates() storage.TemplateStore {
	return s.templateStore
}

// Settings returns the SettingsStore implementation
func (s *Store) Settings() storage.SettingsStore {
	return s.settingsStore
}

// DeleteByPackage removes every record of a package in one transaction
func (s *Store) DeleteByPackage(ctx context.Context, packageName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, table := range []string{"restrictions", "schedules", "date_blocks", "daily_usage"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE package_name = ?", packageName); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
