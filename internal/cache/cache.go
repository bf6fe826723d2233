// Package cache keeps the per-owner set of plan identifiers confirmed active at
// least once, and the transaction that created each of them.
//
// The ledger cannot enumerate an owner's plans, so this cache is the primary
// source of identifiers for discovery. Entries are never removed automatically:
// a plan that is later finalized stays known so it is not treated as unknown.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"onchain-sip/internal/domain"
	"onchain-sip/internal/observability"
	"onchain-sip/internal/storage"
)

// TxRecord is the last known transaction reference for an identifier.
type TxRecord struct {
	TxHash    string `json:"txHash"`
	Timestamp int64  `json:"timestamp"` // local epoch milliseconds when recorded
}

// Cache is the local plan cache. Safe for concurrent use; writes for the same
// owner are serialized.
type Cache struct {
	store  storage.BlobStore
	now    func() time.Time
	logger zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Options configures a Cache.
type Options struct {
	Store  storage.BlobStore
	Now    func() time.Time // defaults to time.Now
	Logger *zerolog.Logger  // defaults to a disabled logger
}

// New creates a cache over the given blob store.
func New(opts Options) *Cache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "cache").Logger()
	}

	return &Cache{
		store:  opts.Store,
		now:    now,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// RecordActive adds identifier to the owner's known set. Idempotent.
// A non-empty txRef is recorded as the identifier's transaction as well.
func (c *Cache) RecordActive(ctx context.Context, owner common.Address, identifier, txRef string) error {
	if identifier == "" {
		return fmt.Errorf("%w: empty identifier", domain.ErrInvalidInput)
	}

	key := ownerKey(owner)
	unlock := c.lock(key)
	defer unlock()

	ids, err := c.readIdentifiers(ctx, key)
	if err != nil {
		return err
	}
	if !contains(ids, identifier) {
		ids = append(ids, identifier)
		if err := c.write(ctx, storage.CollectionIdentifiers, key, ids); err != nil {
			return err
		}
		c.logger.Debug().Str("owner", key).Str("identifier", identifier).Msg("identifier recorded")
	}

	if txRef == "" {
		return nil
	}
	return c.recordTxLocked(ctx, key, identifier, txRef)
}

// RecordTx records txRef as the latest transaction for (owner, identifier).
func (c *Cache) RecordTx(ctx context.Context, owner common.Address, identifier, txRef string) error {
	if identifier == "" || txRef == "" {
		return fmt.Errorf("%w: empty identifier or transaction reference", domain.ErrInvalidInput)
	}

	key := ownerKey(owner)
	unlock := c.lock(key)
	defer unlock()

	return c.recordTxLocked(ctx, key, identifier, txRef)
}

// ListKnown returns the owner's known identifiers in insertion order.
func (c *Cache) ListKnown(ctx context.Context, owner common.Address) ([]string, error) {
	return c.readIdentifiers(ctx, ownerKey(owner))
}

// LookupTx returns the last known transaction for (owner, identifier).
// The bool is false when none was recorded.
func (c *Cache) LookupTx(ctx context.Context, owner common.Address, identifier string) (TxRecord, bool, error) {
	txs, err := c.readTransactions(ctx, ownerKey(owner))
	if err != nil {
		return TxRecord{}, false, err
	}
	rec, ok := txs[identifier]
	if !ok || rec.TxHash == "" {
		return TxRecord{}, false, nil
	}
	return rec, true, nil
}

// Clear removes everything cached for owner.
func (c *Cache) Clear(ctx context.Context, owner common.Address) error {
	key := ownerKey(owner)
	unlock := c.lock(key)
	defer unlock()

	if err := c.store.Delete(ctx, storage.CollectionIdentifiers, key); err != nil {
		return fmt.Errorf("clear identifiers: %w", err)
	}
	if err := c.store.Delete(ctx, storage.CollectionTransactions, key); err != nil {
		return fmt.Errorf("clear transactions: %w", err)
	}
	c.logger.Info().Str("owner", key).Msg("cache cleared")
	return nil
}

func (c *Cache) recordTxLocked(ctx context.Context, key, identifier, txRef string) error {
	txs, err := c.readTransactions(ctx, key)
	if err != nil {
		return err
	}
	txs[identifier] = TxRecord{
		TxHash:    txRef,
		Timestamp: c.now().UnixMilli(),
	}
	return c.write(ctx, storage.CollectionTransactions, key, txs)
}

func (c *Cache) readIdentifiers(ctx context.Context, key string) ([]string, error) {
	blob, err := c.read(ctx, storage.CollectionIdentifiers, key)
	if err != nil || blob == nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(blob, &ids); err != nil {
		c.reset(storage.CollectionIdentifiers, key, err)
		return nil, nil
	}

	// Deduplicate in case the blob was written by something else.
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !contains(result, id) {
			result = append(result, id)
		}
	}
	return result, nil
}

func (c *Cache) readTransactions(ctx context.Context, key string) (map[string]TxRecord, error) {
	txs := make(map[string]TxRecord)

	blob, err := c.read(ctx, storage.CollectionTransactions, key)
	if err != nil || blob == nil {
		return txs, err
	}

	if err := json.Unmarshal(blob, &txs); err != nil || txs == nil {
		c.reset(storage.CollectionTransactions, key, err)
		return make(map[string]TxRecord), nil
	}
	return txs, nil
}

// read returns nil, nil when nothing is stored.
func (c *Cache) read(ctx context.Context, collection, key string) ([]byte, error) {
	blob, err := c.store.Get(ctx, collection, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	return blob, nil
}

func (c *Cache) write(ctx context.Context, collection, key string, v interface{}) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", collection, err)
	}
	if err := c.store.Set(ctx, collection, key, blob); err != nil {
		return fmt.Errorf("write %s: %w", collection, err)
	}
	observability.RecordCacheWrite(collection)
	return nil
}

// reset treats an unreadable blob as empty. The next write replaces it.
func (c *Cache) reset(collection, key string, cause error) {
	observability.RecordCacheReset(collection)
	c.logger.Warn().
		Err(cause).
		Str("collection", collection).
		Str("owner", key).
		Msg("unreadable cache blob, resetting to empty")
}

// lock serializes read-modify-write cycles for one owner.
func (c *Cache) lock(key string) func() {
	c.locksMu.Lock()
	mu, ok := c.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[key] = mu
	}
	c.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func ownerKey(owner common.Address) string {
	return owner.Hex()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
