package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/johnivansn/timelock/internal/storage"
)

type templateStore struct {
	db *sql.DB
}

func scanTemplate(row rowScanner) (*storage.BlockTemplate, error) {
	var (
		t         storage.BlockTemplate
		createdAt int64
	)

	err := row.Scan(&t.ID, &t.Name, &t.Type, &t.PayloadJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.CreatedAt = millisToTime(createdAt)
	return &t, nil
}

// Get retrieves a block template by ID
func (s *templateStore) Get(ctx context.Context, id string) (*storage.BlockTemplate, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, name, type, payload_json, created_at FROM block_templates WHERE id = ?", id)
	return scanTemplate(row)
}

// List returns all block templates ordered by name
func (s *templateStore) List(ctx context.Context) ([]storage.BlockTemplate, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, type, payload_json, created_at FROM block_templates ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []storage.BlockTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// Upsert inserts or replaces a block template by ID
func (s *templateStore) Upsert(ctx context.Context, t storage.BlockTemplate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO block_templates (id, name, type, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			payload_json = excluded.payload_json,
			created_at = excluded.created_at
	`, t.ID, t.Name, t.Type, t.PayloadJSON, timeToMillis(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	return nil
}

// Delete removes a block template by ID
func (s *templateStore) Delete(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "block_templates", id)
}

type settingsStore struct {
	db *sql.DB
}

// AdminMode reports whether admin mode is enabled
func (s *settingsStore) AdminMode(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = 'admin_mode'").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetAdminMode persists the admin mode flag
func (s *settingsStore) SetAdminMode(ctx context.Context, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('admin_mode', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, v)
	return err
}
