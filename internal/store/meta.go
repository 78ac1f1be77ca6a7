package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PutMeta stores value under key as JSON, replacing any previous value.
func (s *Store) PutMeta(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("put meta %q: %w", key, err)
	}

	return s.RunInTx(ctx, CollectionMeta, ReadWrite, func(tx *Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, tx.Ident()), key, string(data))
		return err
	})
}

// GetMeta decodes the value stored under key into dest.
// Returns false without error when the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := s.RunInTx(ctx, CollectionMeta, ReadOnly, func(tx *Tx) error {
		return tx.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, tx.Ident()), key).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("get meta %q: %w", key, err)
	}
	return true, nil
}

// DeleteMeta removes key. Deleting an absent key is not an error.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	return s.RunInTx(ctx, CollectionMeta, ReadWrite, func(tx *Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, tx.Ident()), key)
		return err
	})
}
