package memory

import (
	"context"
	"sync"

	"onchain-sip/internal/storage"
)

// BlobStore is an in-memory implementation of storage.BlobStore.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]map[string][]byte // collection -> key -> blob
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		blobs: make(map[string]map[string][]byte),
	}
}

// Compile-time interface check.
var _ storage.BlobStore = (*BlobStore)(nil)

// Get returns a copy of the blob stored under (collection, key).
func (s *BlobStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	if collection == "" || key == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[collection][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// Set stores a copy of value under (collection, key).
func (s *BlobStore) Set(_ context.Context, collection, key string, value []byte) error {
	if collection == "" || key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.blobs[collection]
	if !ok {
		c = make(map[string][]byte)
		s.blobs[collection] = c
	}
	c[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes (collection, key).
func (s *BlobStore) Delete(_ context.Context, collection, key string) error {
	if collection == "" || key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs[collection], key)
	return nil
}
