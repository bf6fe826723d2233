// Package badger provides an embedded BadgerDB implementation of storage.BlobStore.
//
// This is the default backing for the local plan cache: a single-process,
// on-disk key-value store with no server to run.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"onchain-sip/internal/storage"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *zerolog.Logger
}

// BlobStore is a BadgerDB implementation of storage.BlobStore.
// Keys are stored as "<collection>/<key>".
type BlobStore struct {
	db *badger.DB
}

// Compile-time interface check.
var _ storage.BlobStore = (*BlobStore)(nil)

// Open creates and opens a BadgerDB-backed blob store.
// The caller must call Close when done.
func Open(cfg Config) (*BlobStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: *cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	return &BlobStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BlobStore) Close() error {
	return s.db.Close()
}

// Get returns the blob stored under (collection, key).
func (s *BlobStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	if collection == "" || key == "" {
		return nil, storage.ErrInvalidInput
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(collection, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s/%s: %w", collection, key, err)
	}
	return value, nil
}

// Set stores the blob under (collection, key).
func (s *BlobStore) Set(_ context.Context, collection, key string, value []byte) error {
	if collection == "" || key == "" {
		return storage.ErrInvalidInput
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey(collection, key), value)
	})
	if err != nil {
		return fmt.Errorf("set blob %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes (collection, key).
func (s *BlobStore) Delete(_ context.Context, collection, key string) error {
	if collection == "" || key == "" {
		return storage.ErrInvalidInput
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blobKey(collection, key))
	})
	if err != nil {
		return fmt.Errorf("delete blob %s/%s: %w", collection, key, err)
	}
	return nil
}

func blobKey(collection, key string) []byte {
	return []byte(collection + "/" + key)
}

// badgerLogger adapts zerolog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}
