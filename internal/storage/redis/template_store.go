package redis

import (
	"context"
	"sort"

	"github.com/johnivansn/timelock/internal/storage"
	"github.com/redis/go-redis/v9"
)

type templateStore struct {
	client *redis.Client
}

// Get retrieves a block template by ID
func (s *templateStore) Get(ctx context.Context, id string) (*storage.BlockTemplate, error) {
	data, err := s.client.HGetAll(ctx, templateKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseBlockTemplate(data)
}

// List returns all block templates ordered by name
func (s *templateStore) List(ctx context.Context) ([]storage.BlockTemplate, error) {
	ids, err := s.client.SMembers(ctx, templatesSet).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = templateKey(id)
	}

	hashes, err := hgetAll(ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	templates := make([]storage.BlockTemplate, 0, len(hashes))
	for _, data := range hashes {
		t, err := parseBlockTemplate(data)
		if err == nil {
			templates = append(templates, *t)
		}
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})
	return templates, nil
}

// Upsert inserts or replaces a block template by ID
func (s *templateStore) Upsert(ctx context.Context, t storage.BlockTemplate) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, templateKey(t.ID))
	pipe.HSet(ctx, templateKey(t.ID),
		"id", t.ID,
		"name", t.Name,
		"type", t.Type,
		"payload_json", t.PayloadJSON,
		"created_at", formatTime(t.CreatedAt),
	)
	pipe.SAdd(ctx, templatesSet, t.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a block template by ID
func (s *templateStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, templateKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return s.client.SRem(ctx, templatesSet, id).Err()
}

type settingsStore struct {
	client *redis.Client
}

// AdminMode reports whether admin mode is enabled
func (s *settingsStore) AdminMode(ctx context.Context) (bool, error) {
	v, err := s.client.HGet(ctx, settingsKey, "admin_mode").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetAdminMode persists the admin mode flag
func (s *settingsStore) SetAdminMode(ctx context.Context, enabled bool) error {
	return s.client.HSet(ctx, settingsKey, "admin_mode", formatBool(enabled)).Err()
}
