package postgres

import (
	"context"
	"fmt"

	"onchain-sip/internal/storage"
)

// MaxBlobSize matches the cache_blobs_value_size check constraint.
const MaxBlobSize = 1 << 20

// BlobStore is a PostgreSQL implementation of storage.BlobStore.
// Uses the cache_blobs table keyed by (collection, key).
type BlobStore struct {
	pool *Pool
}

// NewBlobStore creates a new PostgreSQL blob store.
func NewBlobStore(pool *Pool) *BlobStore {
	return &BlobStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BlobStore = (*BlobStore)(nil)

// Get returns the blob stored under (collection, key).
func (s *BlobStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if collection == "" || key == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT value
		FROM cache_blobs
		WHERE collection = $1 AND key = $2
	`, collection, key)

	var value []byte
	if err := row.Scan(&value); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get blob %s/%s: %w", collection, key, err)
	}
	return value, nil
}

// Set upserts the blob under (collection, key). Values over MaxBlobSize are
// rejected before reaching the database.
func (s *BlobStore) Set(ctx context.Context, collection, key string, value []byte) error {
	if collection == "" || key == "" {
		return storage.ErrInvalidInput
	}
	if len(value) > MaxBlobSize {
		return fmt.Errorf("%w: blob %s/%s is %d bytes, limit %d", storage.ErrInvalidInput, collection, key, len(value), MaxBlobSize)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_blobs (collection, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = NOW()
	`, collection, key, value)
	if err != nil {
		return fmt.Errorf("set blob %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes (collection, key).
func (s *BlobStore) Delete(ctx context.Context, collection, key string) error {
	if collection == "" || key == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		DELETE FROM cache_blobs
		WHERE collection = $1 AND key = $2
	`, collection, key)
	if err != nil {
		return fmt.Errorf("delete blob %s/%s: %w", collection, key, err)
	}
	return nil
}
