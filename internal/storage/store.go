package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Restrictions() RestrictionStore
	Schedules() ScheduleStore
	DateBlocks() DateBlockStore
	Usage() UsageStore
	Templates() TemplateStore
	Settings() SettingsStore

	// DeleteByPackage removes the restriction, schedules, date blocks and
	// usage records of a package in one atomic operation.
	DeleteByPackage(ctx context.Context, packageName string) error
}

// RestrictionStore manages per-package quota restrictions.
type RestrictionStore interface {
	Get(ctx context.Context, id string) (*Restriction, error)
	GetByPackage(ctx context.Context, packageName string) (*Restriction, error)
	List(ctx context.Context) ([]Restriction, error)
	ListEnabled(ctx context.Context) ([]Restriction, error)
	// Upsert inserts or replaces by ID.
	Upsert(ctx context.Context, r Restriction) error
	Delete(ctx context.Context, id string) error
}

// ScheduleStore manages time-of-day schedule rules.
type ScheduleStore interface {
	Get(ctx context.Context, id string) (*Schedule, error)
	List(ctx context.Context) ([]Schedule, error)
	ListByPackage(ctx context.Context, packageName string) ([]Schedule, error)
	ListEnabled(ctx context.Context) ([]Schedule, error)
	ListEnabledByPackage(ctx context.Context, packageName string) ([]Schedule, error)
	Upsert(ctx context.Context, s Schedule) error
	Delete(ctx context.Context, id string) error
	DeleteByPackage(ctx context.Context, packageName string) (int, error)
}

// DateBlockStore manages calendar-range block rules.
type DateBlockStore interface {
	Get(ctx context.Context, id string) (*DateBlock, error)
	List(ctx context.Context) ([]DateBlock, error)
	ListByPackage(ctx context.Context, packageName string) ([]DateBlock, error)
	ListEnabled(ctx context.Context) ([]DateBlock, error)
	ListEnabledByPackage(ctx context.Context, packageName string) ([]DateBlock, error)
	Upsert(ctx context.Context, b DateBlock) error
	Delete(ctx context.Context, id string) error
	DeleteByPackage(ctx context.Context, packageName string) (int, error)
}

// UsageStore manages daily usage records.
type UsageStore interface {
	Get(ctx context.Context, packageName, date string) (*DailyUsage, error)
	// Upsert atomically writes the counters of a record keyed by package and
	// date. The blocked flag of an existing record is kept unless u.Blocked
	// is set.
	Upsert(ctx context.Context, u DailyUsage) error
	ListByDate(ctx context.Context, date string) ([]DailyUsage, error)
	// SumUsageSince returns the used minutes of all records dated on or after
	// fromDate.
	SumUsageSince(ctx context.Context, packageName, fromDate string) (int, error)
	SetBlocked(ctx context.Context, packageName, date string, blocked bool) error
	// ResetDay zeroes used minutes and clears the blocked flag of every
	// record on date.
	ResetDay(ctx context.Context, date string) (int, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
	// DeletePackagesNotIn removes records whose package is not in keep.
	DeletePackagesNotIn(ctx context.Context, keep []string) (int, error)
	DistinctPackages(ctx context.Context) ([]string, error)
}

// TemplateStore manages block templates.
type TemplateStore interface {
	Get(ctx context.Context, id string) (*BlockTemplate, error)
	List(ctx context.Context) ([]BlockTemplate, error)
	Upsert(ctx context.Context, t BlockTemplate) error
	Delete(ctx context.Context, id string) error
}

// SettingsStore holds process-wide persisted flags.
type SettingsStore interface {
	AdminMode(ctx context.Context) (bool, error)
	SetAdminMode(ctx context.Context, enabled bool) error
}
