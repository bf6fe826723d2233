package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-sip/internal/storage"
)

func openInMemory(t *testing.T) *BlobStore {
	t.Helper()

	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBlobStore_SetAndGet(t *testing.T) {
	store := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, storage.CollectionIdentifiers, "0xOwner", []byte(`["default"]`)))

	got, err := store.Get(ctx, storage.CollectionIdentifiers, "0xOwner")
	require.NoError(t, err)
	assert.Equal(t, `["default"]`, string(got))
}

func TestBlobStore_NotFound(t *testing.T) {
	store := openInMemory(t)

	_, err := store.Get(context.Background(), storage.CollectionIdentifiers, "0xMissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBlobStore_CollectionsAreIsolated(t *testing.T) {
	store := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, storage.CollectionIdentifiers, "0xOwner", []byte(`[]`)))

	_, err := store.Get(ctx, storage.CollectionTransactions, "0xOwner")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBlobStore_Delete(t *testing.T) {
	store := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, storage.CollectionTransactions, "0xOwner", []byte(`{}`)))
	require.NoError(t, store.Delete(ctx, storage.CollectionTransactions, "0xOwner"))

	_, err := store.Get(ctx, storage.CollectionTransactions, "0xOwner")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBlobStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, storage.CollectionIdentifiers, "0xOwner", []byte(`["sip_1"]`)))
	require.NoError(t, store.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, storage.CollectionIdentifiers, "0xOwner")
	require.NoError(t, err)
	assert.Equal(t, `["sip_1"]`, string(got))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
