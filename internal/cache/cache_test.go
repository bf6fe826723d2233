package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-sip/internal/domain"
	"onchain-sip/internal/storage"
	"onchain-sip/internal/storage/memory"
)

var testOwner = common.HexToAddress("0xabcd000000000000000000000000000000001234")

func newTestCache(store storage.BlobStore) *Cache {
	return New(Options{
		Store: store,
		Now:   func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
}

func TestCache_RecordActiveIsIdempotent(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())
	ctx := context.Background()

	require.NoError(t, c.RecordActive(ctx, testOwner, "default", ""))
	require.NoError(t, c.RecordActive(ctx, testOwner, "default", ""))

	ids, err := c.ListKnown(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, ids)
}

func TestCache_ListKnownKeepsInsertionOrder(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c", "a"} {
		require.NoError(t, c.RecordActive(ctx, testOwner, id, ""))
	}

	ids, err := c.ListKnown(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestCache_ListKnownEmptyOwner(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())

	ids, err := c.ListKnown(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCache_RecordActiveWithTxRef(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())
	ctx := context.Background()

	require.NoError(t, c.RecordActive(ctx, testOwner, "default", "0xtx1"))

	rec, ok, err := c.LookupTx(ctx, testOwner, "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0xtx1", rec.TxHash)
	assert.Equal(t, int64(1_700_000_000_000), rec.Timestamp)
}

func TestCache_RecordTxOverwrites(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())
	ctx := context.Background()

	require.NoError(t, c.RecordTx(ctx, testOwner, "default", "0xtx1"))
	require.NoError(t, c.RecordTx(ctx, testOwner, "default", "0xtx2"))

	rec, ok, err := c.LookupTx(ctx, testOwner, "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0xtx2", rec.TxHash)

	// RecordTx alone does not make the identifier known
	ids, err := c.ListKnown(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCache_LookupTxMissing(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())

	_, ok, err := c.LookupTx(context.Background(), testOwner, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_InvalidInput(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())
	ctx := context.Background()

	assert.ErrorIs(t, c.RecordActive(ctx, testOwner, "", ""), domain.ErrInvalidInput)
	assert.ErrorIs(t, c.RecordTx(ctx, testOwner, "default", ""), domain.ErrInvalidInput)
}

func TestCache_OwnersAreIsolated(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())
	ctx := context.Background()
	other := common.HexToAddress("0x0000000000000000000000000000000000009999")

	require.NoError(t, c.RecordActive(ctx, testOwner, "mine", "0xtx"))

	ids, err := c.ListKnown(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, ok, err := c.LookupTx(ctx, other, "mine")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_CorruptIdentifiersResetToEmpty(t *testing.T) {
	store := memory.NewBlobStore()
	c := newTestCache(store)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, storage.CollectionIdentifiers, testOwner.Hex(), []byte("{not json")))

	ids, err := c.ListKnown(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Next write replaces the corrupt blob
	require.NoError(t, c.RecordActive(ctx, testOwner, "default", ""))
	ids, err = c.ListKnown(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, ids)
}

func TestCache_CorruptTransactionsResetToEmpty(t *testing.T) {
	store := memory.NewBlobStore()
	c := newTestCache(store)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, storage.CollectionTransactions, testOwner.Hex(), []byte(`["wrong","shape"]`)))

	_, ok, err := c.LookupTx(ctx, testOwner, "default")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.RecordTx(ctx, testOwner, "default", "0xtx"))
	rec, ok, err := c.LookupTx(ctx, testOwner, "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0xtx", rec.TxHash)
}

func TestCache_Clear(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())
	ctx := context.Background()

	require.NoError(t, c.RecordActive(ctx, testOwner, "default", "0xtx"))
	require.NoError(t, c.Clear(ctx, testOwner))

	ids, err := c.ListKnown(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, ok, err := c.LookupTx(ctx, testOwner, "default")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_ConcurrentRecordActiveLosesNothing(t *testing.T) {
	c := newTestCache(memory.NewBlobStore())
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sip_%d", i)
			assert.NoError(t, c.RecordActive(ctx, testOwner, id, "0x"+id))
		}(i)
	}
	wg.Wait()

	ids, err := c.ListKnown(ctx, testOwner)
	require.NoError(t, err)
	assert.Len(t, ids, n)

	for i := 0; i < n; i++ {
		_, ok, err := c.LookupTx(ctx, testOwner, fmt.Sprintf("sip_%d", i))
		require.NoError(t, err)
		assert.True(t, ok, "missing tx for sip_%d", i)
	}
}

// failingStore fails every operation.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string, string) ([]byte, error) { return nil, errStoreDown }
func (failingStore) Set(context.Context, string, string, []byte) error   { return errStoreDown }
func (failingStore) Delete(context.Context, string, string) error        { return errStoreDown }

func TestCache_StoreErrorsPropagate(t *testing.T) {
	c := newTestCache(failingStore{})
	ctx := context.Background()

	_, err := c.ListKnown(ctx, testOwner)
	assert.ErrorIs(t, err, errStoreDown)

	err = c.RecordActive(ctx, testOwner, "default", "")
	assert.ErrorIs(t, err, errStoreDown)

	err = c.Clear(ctx, testOwner)
	assert.ErrorIs(t, err, errStoreDown)
}
