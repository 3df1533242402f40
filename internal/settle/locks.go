package settle

import (
	"sort"
	"sync"

	"carbonx/pkg/exception"
)

// LockTable provides per-entity advisory locks. A lock is held from
// intent creation through terminal resolution, guaranteeing at most one
// outstanding intent per order and per asset lot. Acquisition is
// all-or-nothing over ids sorted into a fixed global order, so the buy
// and sell sides of one trade can never deadlock against another trade.
type LockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockTable allocates an empty table.
func NewLockTable() *LockTable {
	return &LockTable{held: make(map[string]struct{})}
}

// TryAcquire takes every id or none, returning ErrEntityLocked when any
// is already held.
func (t *LockTable) TryAcquire(ids ...string) error {
	sorted := dedupSort(ids)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range sorted {
		if _, ok := t.held[id]; ok {
			return exception.ErrEntityLocked
		}
	}
	for _, id := range sorted {
		t.held[id] = struct{}{}
	}
	return nil
}

// Release frees the given ids. Releasing an unheld id is a no-op.
func (t *LockTable) Release(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.held, id)
	}
}

// Held reports whether an id is currently locked.
func (t *LockTable) Held(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[id]
	return ok
}

func dedupSort(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
