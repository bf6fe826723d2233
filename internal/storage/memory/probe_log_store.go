package memory

import (
	"context"
	"sort"
	"sync"

	"onchain-sip/internal/storage"
)

// DefaultMaxEntriesPerOwner bounds the in-memory probe log of one owner.
const DefaultMaxEntriesPerOwner = 1000

// ProbeLogStore is an in-memory implementation of storage.ProbeLogStore.
// It keeps the most recently inserted entries of each owner; older entries
// are overwritten once an owner reaches the cap.
type ProbeLogStore struct {
	mu      sync.RWMutex
	max     int
	byOwner map[string]*ring
}

// ring holds up to len(buf) entries; next is the slot written next.
type ring struct {
	buf  []*storage.ProbeLogEntry
	next int
	full bool
}

func (r *ring) add(e *storage.ProbeLogEntry) {
	r.buf[r.next] = e
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// NewProbeLogStore creates a new in-memory probe log holding at most
// maxPerOwner entries per owner. A non-positive value selects
// DefaultMaxEntriesPerOwner.
func NewProbeLogStore(maxPerOwner int) *ProbeLogStore {
	if maxPerOwner <= 0 {
		maxPerOwner = DefaultMaxEntriesPerOwner
	}
	return &ProbeLogStore{
		max:     maxPerOwner,
		byOwner: make(map[string]*ring),
	}
}

// Compile-time interface check.
var _ storage.ProbeLogStore = (*ProbeLogStore)(nil)

// InsertBulk appends copies of entries.
func (s *ProbeLogStore) InsertBulk(_ context.Context, entries []*storage.ProbeLogEntry) error {
	for _, e := range entries {
		if e == nil || e.Owner == "" || e.Outcome == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		r, ok := s.byOwner[e.Owner]
		if !ok {
			r = &ring{buf: make([]*storage.ProbeLogEntry, s.max)}
			s.byOwner[e.Owner] = r
		}
		cp := *e
		r.add(&cp)
	}
	return nil
}

// GetByOwner returns entries for owner ordered by ProbedAt DESC.
func (s *ProbeLogStore) GetByOwner(_ context.Context, owner string, limit int) ([]*storage.ProbeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byOwner[owner]
	if !ok {
		return nil, nil
	}

	result := make([]*storage.ProbeLogEntry, 0, r.len())
	for _, e := range r.buf[:r.len()] {
		cp := *e
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ProbedAt > result[j].ProbedAt
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
