package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/johnivansn/timelock/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
}

// Get retrieves the usage record of a package for a date
func (s *usageStore) Get(ctx context.Context, packageName, date string) (*storage.DailyUsage, error) {
	data, err := s.client.HGetAll(ctx, usageKey(packageName, date)).Result()
	if err != nil {
		return nil, err
	}
	return parseDailyUsage(data)
}

// Upsert atomically writes a usage record and its indexes
func (s *usageStore) Upsert(ctx context.Context, u storage.DailyUsage) error {
	score, err := dateScore(u.Date)
	if err != nil {
		return err
	}

	lastUpdated := u.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now()
	}

	script := redis.NewScript(upsertUsageScript)
	keys := []string{
		usageKey(u.PackageName, u.Date),
		usageDatesKey(u.PackageName),
		usageIndexKey(u.Date),
		usagePackages,
	}
	args := []interface{}{
		u.PackageName,
		u.Date,
		score,
		u.UsedMinutes,
		u.UsedMillis,
		formatBool(u.Blocked),
		formatTime(lastUpdated),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// ListByDate returns every usage record of a date
func (s *usageStore) ListByDate(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	packages, err := s.client.SMembers(ctx, usageIndexKey(date)).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(packages))
	for i, pkg := range packages {
		keys[i] = usageKey(pkg, date)
	}

	hashes, err := hgetAll(ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	usages := make([]storage.DailyUsage, 0, len(hashes))
	for _, data := range hashes {
		u, err := parseDailyUsage(data)
		if err == nil {
			usages = append(usages, *u)
		}
	}

	sort.Slice(usages, func(i, j int) bool {
		return usages[i].PackageName < usages[j].PackageName
	})
	return usages, nil
}

// SumUsageSince adds up used minutes of records dated on or after fromDate
func (s *usageStore) SumUsageSince(ctx context.Context, packageName, fromDate string) (int, error) {
	score, err := dateScore(fromDate)
	if err != nil {
		return 0, err
	}

	dates, err := s.client.ZRangeByScore(ctx, usageDatesKey(packageName), &redis.ZRangeBy{
		Min: strconv.FormatFloat(score, 'f', 0, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(dates) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGet(ctx, usageKey(packageName, date), "used_minutes")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, err
	}

	total := 0
	for _, cmd := range cmds {
		n, err := cmd.Int()
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

// SetBlocked sets the blocked flag of an existing record
func (s *usageStore) SetBlocked(ctx context.Context, packageName, date string, blocked bool) error {
	key := usageKey(packageName, date)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	return s.client.HSet(ctx, key, "blocked", formatBool(blocked), "last_updated", formatTime(time.Now())).Err()
}

// ResetDay zeroes every record of a date
func (s *usageStore) ResetDay(ctx context.Context, date string) (int, error) {
	packages, err := s.client.SMembers(ctx, usageIndexKey(date)).Result()
	if err != nil {
		return 0, err
	}

	now := formatTime(time.Now())
	pipe := s.client.TxPipeline()
	for _, pkg := range packages {
		pipe.HSet(ctx, usageKey(pkg, date),
			"used_minutes", 0,
			"used_millis", 0,
			"blocked", "0",
			"last_updated", now,
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(packages), nil
}

// DeleteBefore removes records dated strictly before cutoffDate
func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	score, err := dateScore(cutoffDate)
	if err != nil {
		return 0, err
	}

	packages, err := s.client.SMembers(ctx, usagePackages).Result()
	if err != nil {
		return 0, err
	}

	maxScore := fmt.Sprintf("(%d", int64(score))
	total := 0
	for _, pkg := range packages {
		n, err := s.deleteUsage(ctx, pkg, maxScore)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DeletePackagesNotIn removes all usage of packages outside keep
func (s *usageStore) DeletePackagesNotIn(ctx context.Context, keep []string) (int, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, pkg := range keep {
		keepSet[pkg] = struct{}{}
	}

	packages, err := s.client.SMembers(ctx, usagePackages).Result()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, pkg := range packages {
		if _, ok := keepSet[pkg]; ok {
			continue
		}
		n, err := s.deleteUsage(ctx, pkg, "+inf")
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DistinctPackages returns packages having at least one usage record
func (s *usageStore) DistinctPackages(ctx context.Context) ([]string, error) {
	packages, err := s.client.SMembers(ctx, usagePackages).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(packages)
	return packages, nil
}

func (s *usageStore) deleteUsage(ctx context.Context, packageName, maxScore string) (int, error) {
	script := redis.NewScript(deleteUsageScript)
	return script.Run(ctx, s.client, []string{keyPrefix}, packageName, maxScore).Int()
}
