package sqlite

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	stmt    string
}

// runMigrations applies pending migrations in version order
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

// migrations must stay sorted by version
var migrations = []migration{
	{1, migration001Restrictions},
	{2, migration002Schedules},
	{3, migration003DateBlocks},
	{4, migration004DailyUsage},
	{5, migration005Templates},
	{6, migration006Settings},
}

const migration001Restrictions = `
CREATE TABLE IF NOT EXISTS restrictions (
	id TEXT PRIMARY KEY,
	package_name TEXT NOT NULL UNIQUE,
	app_name TEXT NOT NULL DEFAULT '',
	daily_quota_minutes INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	limit_type TEXT NOT NULL DEFAULT 'daily',
	daily_mode TEXT NOT NULL DEFAULT 'same',
	daily_quotas TEXT NOT NULL DEFAULT '',
	weekly_quota_minutes INTEGER NOT NULL DEFAULT 0,
	weekly_reset_day INTEGER NOT NULL DEFAULT 2,
	weekly_reset_hour INTEGER NOT NULL DEFAULT 0,
	weekly_reset_minute INTEGER NOT NULL DEFAULT 0,
	expires_at INTEGER, -- epoch ms, NULL = never
	created_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_restrictions_enabled ON restrictions(enabled);
`

const migration002Schedules = `
CREATE TABLE IF NOT EXISTS schedules (
	id TEXT PRIMARY KEY,
	package_name TEXT NOT NULL,
	start_hour INTEGER NOT NULL,
	start_minute INTEGER NOT NULL,
	end_hour INTEGER NOT NULL,
	end_minute INTEGER NOT NULL,
	days_of_week INTEGER NOT NULL, -- bit i = weekday i+1, 1 = Sunday
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_schedules_package ON schedules(package_name, enabled);
`

const migration003DateBlocks = `
CREATE TABLE IF NOT EXISTS date_blocks (
	id TEXT PRIMARY KEY,
	package_name TEXT NOT NULL,
	start_date TEXT NOT NULL, -- YYYY-MM-DD
	end_date TEXT NOT NULL,
	start_hour INTEGER NOT NULL DEFAULT 0,
	start_minute INTEGER NOT NULL DEFAULT 0,
	end_hour INTEGER NOT NULL DEFAULT 23,
	end_minute INTEGER NOT NULL DEFAULT 59,
	enabled INTEGER NOT NULL DEFAULT 1,
	label TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_date_blocks_package ON date_blocks(package_name, enabled);
`

const migration004DailyUsage = `
CREATE TABLE IF NOT EXISTS daily_usage (
	package_name TEXT NOT NULL,
	date TEXT NOT NULL, -- YYYY-MM-DD
	used_minutes INTEGER NOT NULL DEFAULT 0,
	used_millis INTEGER NOT NULL DEFAULT 0,
	blocked INTEGER NOT NULL DEFAULT 0,
	last_updated INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (package_name, date)
);

CREATE INDEX idx_daily_usage_date ON daily_usage(date);
`

const migration005Templates = `
CREATE TABLE IF NOT EXISTS block_templates (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0
);
`

const migration006Settings = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
