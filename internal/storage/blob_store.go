package storage

import "context"

// Blob collections used by the local plan cache.
const (
	// CollectionIdentifiers maps owner -> ordered-unique list of identifiers.
	CollectionIdentifiers = "onchain_sip_pools"

	// CollectionTransactions maps owner -> identifier -> {txHash, timestamp}.
	CollectionTransactions = "onchain_sip_transactions"
)

// BlobStore is a key-value store of opaque blobs grouped by collection.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Get returns the blob stored under (collection, key).
	// Returns ErrNotFound if nothing is stored.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// Set stores the blob under (collection, key), replacing any previous value.
	Set(ctx context.Context, collection, key string, value []byte) error

	// Delete removes (collection, key). Deleting a missing key is not an error.
	Delete(ctx context.Context, collection, key string) error
}
