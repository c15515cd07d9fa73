package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/johnivansn/timelock/internal/config"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client           *redis.Client
	restrictionStore *restrictionStore
	scheduleStore    *scheduleStore
	dateBlockStore   *dateBlockStore
	usageStore       *usageStore
	templateStore    *templateStore
	settingsStore    *settingsStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(client), nil
}

func newStore(client *redis.Client) *Store {
	return &Store{
		client:           client,
		restrictionStore: &restrictionStore{client: client},
		scheduleStore:    &scheduleStore{client: client},
		dateBlockStore:   &dateBlockStore{client: client},
		usageStore:       &usageStore{client: client},
		templateStore:    &templateStore{client: client},
		settingsStore:    &settingsStore{client: client},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
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

// DeleteByPackage removes every record of a package in a single script run
func (s *Store) DeleteByPackage(ctx context.Context, packageName string) error {
	script := redis.NewScript(deletePackageScript)
	return script.Run(ctx, s.client, []string{keyPrefix}, packageName).Err()
}

const (
	keyPrefix = "timelock:"

	restrictionsSet = "timelock:restrictions"
	schedulesSet    = "timelock:schedules"
	dateBlocksSet   = "timelock:dateblocks"
	templatesSet    = "timelock:templates"
	usagePackages   = "timelock:usage:packages"
	settingsKey     = "timelock:settings"
)

func restrictionKey(id string) string        { return "timelock:restriction:" + id }
func restrictionPackageKey(pkg string) string { return "timelock:restriction:pkg:" + pkg }
func scheduleKey(id string) string           { return "timelock:schedule:" + id }
func schedulePackageSet(pkg string) string    { return "timelock:schedules:pkg:" + pkg }
func dateBlockKey(id string) string          { return "timelock:dateblock:" + id }
func dateBlockPackageSet(pkg string) string   { return "timelock:dateblocks:pkg:" + pkg }
func templateKey(id string) string           { return "timelock:template:" + id }
func usageKey(pkg, date string) string       { return "timelock:usage:" + pkg + ":" + date }
func usageDatesKey(pkg string) string         { return "timelock:usage:dates:" + pkg }
func usageIndexKey(date string) string        { return "timelock:usage:index:" + date }
