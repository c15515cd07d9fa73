package redis

import (
	"context"
	"sort"

	"github.com/johnivansn/timelock/internal/storage"
	"github.com/redis/go-redis/v9"
)

type restrictionStore struct {
	client *redis.Client
}

// Get retrieves a restriction by ID
func (s *restrictionStore) Get(ctx context.Context, id string) (*storage.Restriction, error) {
	data, err := s.client.HGetAll(ctx, restrictionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseRestriction(data)
}

// GetByPackage retrieves the restriction of a package via the package index
func (s *restrictionStore) GetByPackage(ctx context.Context, packageName string) (*storage.Restriction, error) {
	id, err := s.client.Get(ctx, restrictionPackageKey(packageName)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// List returns all restrictions ordered by package name
func (s *restrictionStore) List(ctx context.Context) ([]storage.Restriction, error) {
	ids, err := s.client.SMembers(ctx, restrictionsSet).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = restrictionKey(id)
	}

	hashes, err := hgetAll(ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	restrictions := make([]storage.Restriction, 0, len(hashes))
	for _, data := range hashes {
		r, err := parseRestriction(data)
		if err == nil {
			restrictions = append(restrictions, *r)
		}
	}

	sort.Slice(restrictions, func(i, j int) bool {
		return restrictions[i].PackageName < restrictions[j].PackageName
	})
	return restrictions, nil
}

// ListEnabled returns restrictions with the enabled flag set
func (s *restrictionStore) ListEnabled(ctx context.Context) ([]storage.Restriction, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	enabled := make([]storage.Restriction, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return enabled, nil
}

// Upsert inserts or replaces a restriction by ID
func (s *restrictionStore) Upsert(ctx context.Context, r storage.Restriction) error {
	script := redis.NewScript(upsertRestrictionScript)

	keys := []string{restrictionKey(r.ID), restrictionsSet, restrictionPackageKey(r.PackageName)}
	args := append([]interface{}{r.ID, r.PackageName, keyPrefix}, restrictionFields(r)...)

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Delete removes a restriction by ID. Rules of the package are left alone;
// use Store.DeleteByPackage for the cascade.
func (s *restrictionStore) Delete(ctx context.Context, id string) error {
	data, err := s.client.HGetAll(ctx, restrictionKey(id)).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return storage.ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, restrictionKey(id))
	pipe.SRem(ctx, restrictionsSet, id)
	if pkg := data["package_name"]; pkg != "" {
		pipe.Del(ctx, restrictionPackageKey(pkg))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// hgetAll fetches several hashes in one pipeline, skipping empty ones
func hgetAll(ctx context.Context, client *redis.Client, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	out := make([]map[string]string, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		out = append(out, data)
	}
	return out, nil
}
