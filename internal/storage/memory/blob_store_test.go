package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"onchain-sip/internal/storage"
)

func TestBlobStore_SetAndGet(t *testing.T) {
	store := NewBlobStore()
	ctx := context.Background()

	if err := store.Set(ctx, "c", "k", []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "c", "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("got %q, want v1", got)
	}

	// Overwrite
	if err := store.Set(ctx, "c", "k", []byte("v2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _ = store.Get(ctx, "c", "k")
	if string(got) != "v2" {
		t.Errorf("got %q, want v2", got)
	}
}

func TestBlobStore_NotFound(t *testing.T) {
	store := NewBlobStore()

	_, err := store.Get(context.Background(), "c", "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBlobStore_CollectionsAreIsolated(t *testing.T) {
	store := NewBlobStore()
	ctx := context.Background()

	_ = store.Set(ctx, "a", "k", []byte("in-a"))

	if _, err := store.Get(ctx, "b", "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound in other collection, got %v", err)
	}
}

func TestBlobStore_ReturnsCopies(t *testing.T) {
	store := NewBlobStore()
	ctx := context.Background()

	value := []byte("abc")
	_ = store.Set(ctx, "c", "k", value)
	value[0] = 'x'

	got, _ := store.Get(ctx, "c", "k")
	got[1] = 'y'

	again, _ := store.Get(ctx, "c", "k")
	if string(again) != "abc" {
		t.Errorf("stored blob mutated: %q", again)
	}
}

func TestBlobStore_Delete(t *testing.T) {
	store := NewBlobStore()
	ctx := context.Background()

	_ = store.Set(ctx, "c", "k", []byte("v"))
	if err := store.Delete(ctx, "c", "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "c", "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again is fine
	if err := store.Delete(ctx, "c", "k"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestBlobStore_InvalidInput(t *testing.T) {
	store := NewBlobStore()
	ctx := context.Background()

	if err := store.Set(ctx, "", "k", nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.Get(ctx, "c", ""); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBlobStore_ConcurrentAccess(t *testing.T) {
	store := NewBlobStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Set(ctx, "c", "k", []byte{byte(i)})
			_, _ = store.Get(ctx, "c", "k")
		}(i)
	}
	wg.Wait()

	if _, err := store.Get(ctx, "c", "k"); err != nil {
		t.Errorf("Get after concurrent writes: %v", err)
	}
}
