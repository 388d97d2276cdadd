package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// kvStore implements driven.KVStore.
type kvStore struct {
	store *Store
}

var _ driven.KVStore = (*kvStore)(nil)

// Get retrieves a value by key.
func (s *kvStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.store.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading key %s: %w", key, err)
	}
	return value, nil
}

// Set stores a value.
func (s *kvStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.store.db.ExecContext(ctx, upsertKV, key, value, formatTime(s.store.now())); err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (s *kvStore) Delete(ctx context.Context, key string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// Update runs fn inside an IMMEDIATE transaction so the read and the write
// are atomic across processes sharing the database.
func (s *kvStore) Update(ctx context.Context, key string, fn driven.UpdateFunc) (bool, error) {
	wrote := false
	err := s.store.inTx(ctx, func(tx *sql.Tx) error {
		var cur []byte
		exists := true
		err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("reading key %s: %w", key, err)
		}

		next, write, err := fn(cur, exists)
		if err != nil || !write {
			return err
		}
		if next == nil {
			_, err = tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
		} else {
			_, err = tx.ExecContext(ctx, upsertKV, key, next, formatTime(s.store.now()))
		}
		if err != nil {
			return fmt.Errorf("writing key %s: %w", key, err)
		}
		wrote = true
		return nil
	})
	return wrote, err
}

const upsertKV = `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`
