package redis

import (
	"context"
	"sort"

	"github.com/johnivansn/timelock/internal/storage"
	"github.com/redis/go-redis/v9"
)

type scheduleStore struct {
	client *redis.Client
}

// Get retrieves a schedule by ID
func (s *scheduleStore) Get(ctx context.Context, id string) (*storage.Schedule, error) {
	data, err := s.client.HGetAll(ctx, scheduleKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseSchedule(data)
}

// List returns all schedules
func (s *scheduleStore) List(ctx context.Context) ([]storage.Schedule, error) {
	return s.listFromSet(ctx, schedulesSet)
}

// ListByPackage returns the schedules of one package
func (s *scheduleStore) ListByPackage(ctx context.Context, packageName string) ([]storage.Schedule, error) {
	return s.listFromSet(ctx, schedulePackageSet(packageName))
}

// ListEnabled returns enabled schedules of every package
func (s *scheduleStore) ListEnabled(ctx context.Context) ([]storage.Schedule, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	return enabledSchedules(all), nil
}

// ListEnabledByPackage returns enabled schedules of one package
func (s *scheduleStore) ListEnabledByPackage(ctx context.Context, packageName string) ([]storage.Schedule, error) {
	all, err := s.ListByPackage(ctx, packageName)
	if err != nil {
		return nil, err
	}
	return enabledSchedules(all), nil
}

// Upsert inserts or replaces a schedule by ID
func (s *scheduleStore) Upsert(ctx context.Context, sc storage.Schedule) error {
	script := redis.NewScript(upsertRuleScript)

	keys := []string{scheduleKey(sc.ID), schedulesSet, schedulePackageSet(sc.PackageName)}
	args := append([]interface{}{sc.ID, sc.PackageName, schedulePackageSet("")}, scheduleFields(sc)...)

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Delete removes a schedule by ID
func (s *scheduleStore) Delete(ctx context.Context, id string) error {
	sc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, scheduleKey(id))
	pipe.SRem(ctx, schedulesSet, id)
	pipe.SRem(ctx, schedulePackageSet(sc.PackageName), id)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteByPackage removes every schedule of a package
func (s *scheduleStore) DeleteByPackage(ctx context.Context, packageName string) (int, error) {
	ids, err := s.client.SMembers(ctx, schedulePackageSet(packageName)).Result()
	if err != nil {
		return 0, err
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, scheduleKey(id))
		pipe.SRem(ctx, schedulesSet, id)
	}
	pipe.Del(ctx, schedulePackageSet(packageName))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *scheduleStore) listFromSet(ctx context.Context, set string) ([]storage.Schedule, error) {
	ids, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = scheduleKey(id)
	}

	hashes, err := hgetAll(ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	schedules := make([]storage.Schedule, 0, len(hashes))
	for _, data := range hashes {
		sc, err := parseSchedule(data)
		if err == nil {
			schedules = append(schedules, *sc)
		}
	}

	sort.Slice(schedules, func(i, j int) bool {
		if schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
			return schedules[i].ID < schedules[j].ID
		}
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	return schedules, nil
}

type dateBlockStore struct {
	client *redis.Client
}

// Get retrieves a date block by ID
func (s *dateBlockStore) Get(ctx context.Context, id string) (*storage.DateBlock, error) {
	data, err := s.client.HGetAll(ctx, dateBlockKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseDateBlock(data)
}

// List returns all date blocks
func (s *dateBlockStore) List(ctx context.Context) ([]storage.DateBlock, error) {
	return s.listFromSet(ctx, dateBlocksSet)
}

// ListByPackage returns the date blocks of one package
func (s *dateBlockStore) ListByPackage(ctx context.Context, packageName string) ([]storage.DateBlock, error) {
	return s.listFromSet(ctx, dateBlockPackageSet(packageName))
}

// ListEnabled returns enabled date blocks of every package
func (s *dateBlockStore) ListEnabled(ctx context.Context) ([]storage.DateBlock, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return enabledBlocks(all), nil
}

// ListEnabledByPackage returns enabled date blocks of one package
func (s *dateBlockStore) ListEnabledByPackage(ctx context.Context, packageName string) ([]storage.DateBlock, error) {
	all, err := s.ListByPackage(ctx, packageName)
	if err != nil {
		return nil, err
	}
	return enabledBlocks(all), nil
}

// Upsert inserts or replaces a date block by ID
func (s *dateBlockStore) Upsert(ctx context.Context, b storage.DateBlock) error {
	script := redis.NewScript(upsertRuleScript)

	keys := []string{dateBlockKey(b.ID), dateBlocksSet, dateBlockPackageSet(b.PackageName)}
	args := append([]interface{}{b.ID, b.PackageName, dateBlockPackageSet("")}, dateBlockFields(b)...)

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Delete removes a date block by ID
func (s *dateBlockStore) Delete(ctx context.Context, id string) error {
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dateBlockKey(id))
	pipe.SRem(ctx, dateBlocksSet, id)
	pipe.SRem(ctx, dateBlockPackageSet(b.PackageName), id)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteByPackage removes every date block of a package
func (s *dateBlockStore) DeleteByPackage(ctx context.Context, packageName string) (int, error) {
	ids, err := s.client.SMembers(ctx, dateBlockPackageSet(packageName)).Result()
	if err != nil {
		return 0, err
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, dateBlockKey(id))
		pipe.SRem(ctx, dateBlocksSet, id)
	}
	pipe.Del(ctx, dateBlockPackageSet(packageName))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *dateBlockStore) listFromSet(ctx context.Context, set string) ([]storage.DateBlock, error) {
	ids, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = dateBlockKey(id)
	}

	hashes, err := hgetAll(ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	blocks := make([]storage.DateBlock, 0, len(hashes))
	for _, data := range hashes {
		b, err := parseDateBlock(data)
		if err == nil {
			blocks = append(blocks, *b)
		}
	}

	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].StartDate == blocks[j].StartDate {
			return blocks[i].ID < blocks[j].ID
		}
		return blocks[i].StartDate < blocks[j].StartDate
	})
	return blocks, nil
}

func enabledSchedules(all []storage.Schedule) []storage.Schedule {
	enabled := make([]storage.Schedule, 0, len(all))
	for _, sc := range all {
		if sc.Enabled {
			enabled = append(enabled, sc)
		}
	}
	return enabled
}

func enabledBlocks(all []storage.DateBlock) []storage.DateBlock {
	enabled := make([]storage.DateBlock, 0, len(all))
	for _, b := range all {
		if b.Enabled {
			enabled = append(enabled, b)
		}
	}
	return enabled
}
