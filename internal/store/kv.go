package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// KVGet reads a value from a named store. The second return is false
// when the key is absent. Values round-trip through JSON, so readers see
// the JSON object model (float64 numbers, map[string]any objects).
func (s *Store) KVGet(ctx context.Context, storeName, key string) (any, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM workflow_kv WHERE store_name = ? AND key = ?
	`, storeName, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s/%s: %w", storeName, key, err)
	}
	if !raw.Valid {
		return nil, true, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, false, fmt.Errorf("kv get %s/%s: %w", storeName, key, err)
	}
	return v, true, nil
}

// KVSet upserts a value in a named store. Last writer wins per key.
func (s *Store) KVSet(ctx context.Context, storeName, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv set %s/%s: %w", storeName, key, err)
	}
	now := ms(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_kv (store_name, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(store_name, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, storeName, key, string(data), now, now)
	if err != nil {
		return fmt.Errorf("kv set %s/%s: %w", storeName, key, err)
	}
	return nil
}
