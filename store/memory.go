// Package store provides an in-memory DocumentStore for creditgate.
//
// Redis and PostgreSQL backends live in the store/redis and store/postgres
// modules.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ineyio/creditgate"
)

// MemoryStore is an in-memory DocumentStore. Slot claims are serialized by
// its mutex, so concurrent signups never share a slot.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]creditgate.Document
}

var (
	_ creditgate.DocumentStore = (*MemoryStore)(nil)
	_ creditgate.SlotClaimer   = (*MemoryStore)(nil)
)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]creditgate.Document)}
}

// Get returns the document for a user.
func (s *MemoryStore) Get(_ context.Context, userID string) (creditgate.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[userID]
	if !ok {
		return creditgate.Document{}, creditgate.ErrNotFound
	}
	return d.Clone(), nil
}

// Set writes a document, merging into an existing one when merge is true.
func (s *MemoryStore) Set(_ context.Context, doc creditgate.Document, merge bool) error {
	if doc.UserID == "" {
		return fmt.Errorf("creditgate/memory: set: empty user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.docs[doc.UserID]; ok && merge {
		s.docs[doc.UserID] = existing.Apply(doc)
		return nil
	}
	s.docs[doc.UserID] = doc.Clone()
	return nil
}

// Update writes the present fields of an existing document.
func (s *MemoryStore) Update(_ context.Context, userID string, fields creditgate.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[userID]
	if !ok {
		return creditgate.ErrNotFound
	}
	s.docs[userID] = d.Apply(fields)
	return nil
}

// Increment adds delta to a credit field, clamping at zero.
func (s *MemoryStore) Increment(_ context.Context, userID string, field creditgate.Field, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[userID]
	if !ok {
		return 0, creditgate.ErrNotFound
	}

	var target **int64
	switch field {
	case creditgate.FieldMonthlyCredits:
		target = &d.MonthlyCredits
	case creditgate.FieldDailyCredits:
		target = &d.DailyCredits
	default:
		return 0, fmt.Errorf("creditgate/memory: increment: unknown field %q", field)
	}

	var current int64
	if *target != nil {
		current = **target
	}
	next := creditgate.ClampedAdd(current, delta)
	*target = &next
	s.docs[userID] = d
	return next, nil
}

// AssignedSlots returns every nonzero key slot.
func (s *MemoryStore) AssignedSlots(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.assignedSlots(), nil
}

// CreateWithSlot creates doc holding the lowest free slot in one critical section.
func (s *MemoryStore) CreateWithSlot(_ context.Context, doc creditgate.Document, poolSize int) (int, error) {
	if doc.UserID == "" {
		return 0, fmt.Errorf("creditgate/memory: create: empty user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.UserID]; ok {
		return 0, creditgate.ErrAlreadyExists
	}

	slot := creditgate.LowestFreeSlot(s.assignedSlots(), poolSize)
	d := doc.Clone()
	d.KeySlot = creditgate.Ptr(slot)
	s.docs[doc.UserID] = d
	return slot, nil
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) assignedSlots() []int {
	slots := make([]int, 0, len(s.docs))
	for _, d := range s.docs {
		if d.KeySlot != nil && *d.KeySlot > 0 {
			slots = append(slots, *d.KeySlot)
		}
	}
	sort.Ints(slots)
	return slots
}
