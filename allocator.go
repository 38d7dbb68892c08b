package creditgate

import (
	"context"
	"fmt"
)

// Allocator hands out key slots by scanning the slots held in the store.
type Allocator struct {
	pool  *KeyPool
	store DocumentStore
}

// NewAllocator creates an allocator over pool, scanning store for taken slots.
func NewAllocator(pool *KeyPool, store DocumentStore) *Allocator {
	return &Allocator{pool: pool, store: store}
}

// Pool returns the credential pool.
func (a *Allocator) Pool() *KeyPool { return a.pool }

// NextAvailableSlot returns the lowest slot in [1, N] not held by any record.
// It returns 0 with ErrPoolExhausted when every slot is taken or N is 0.
//
// The scan and the later write are not atomic: two concurrent signups can
// observe and take the same slot.
func (a *Allocator) NextAvailableSlot(ctx context.Context) (int, error) {
	n := a.pool.Size()
	if n == 0 {
		return 0, ErrPoolExhausted
	}

	slots, err := a.store.AssignedSlots(ctx)
	if err != nil {
		return 0, fmt.Errorf("creditgate: scan assigned slots: %w", err)
	}
	slot := LowestFreeSlot(slots, n)
	if slot == 0 {
		return 0, ErrPoolExhausted
	}
	return slot, nil
}

// LowestFreeSlot returns the lowest integer in [1, n] missing from taken, or 0.
// Stores implementing SlotClaimer use it inside their atomic section.
func LowestFreeSlot(taken []int, n int) int {
	used := make(map[int]struct{}, len(taken))
	for _, s := range taken {
		if s > 0 {
			used[s] = struct{}{}
		}
	}
	for i := 1; i <= n; i++ {
		if _, ok := used[i]; !ok {
			return i
		}
	}
	return 0
}
