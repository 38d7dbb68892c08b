// Package storetest is a conformance suite for creditgate.DocumentStore
// implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/creditgate"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) creditgate.DocumentStore

// Run exercises every DocumentStore behaviour creditgate relies on. When the
// store implements SlotClaimer the atomic claim is tested as well.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("SetReplace", func(t *testing.T) { testSetReplace(t, newStore(t)) })
	t.Run("SetMerge", func(t *testing.T) { testSetMerge(t, newStore(t)) })
	t.Run("UpdatePartial", func(t *testing.T) { testUpdatePartial(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("AbsentFieldsStayAbsent", func(t *testing.T) { testAbsentFields(t, newStore(t)) })
	t.Run("IncrementClampsAtZero", func(t *testing.T) { testIncrementClamp(t, newStore(t)) })
	t.Run("IncrementKeepsUnbounded", func(t *testing.T) { testIncrementUnbounded(t, newStore(t)) })
	t.Run("IncrementMissing", func(t *testing.T) { testIncrementMissing(t, newStore(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newStore(t)) })
	t.Run("AssignedSlots", func(t *testing.T) { testAssignedSlots(t, newStore(t)) })

	t.Run("CreateWithSlot", func(t *testing.T) {
		claimer, ok := newStore(t).(creditgate.SlotClaimer)
		if !ok {
			t.Skip("store does not implement SlotClaimer")
		}
		testCreateWithSlot(t, claimer)
	})
	t.Run("ConcurrentClaims", func(t *testing.T) {
		store := newStore(t)
		claimer, ok := store.(creditgate.SlotClaimer)
		if !ok {
			t.Skip("store does not implement SlotClaimer")
		}
		testConcurrentClaims(t, store, claimer)
	})
}

// fullDoc returns a current-shape document. Times are truncated to the
// microsecond so every backend round-trips them exactly.
func fullDoc(userID string, slot int) creditgate.Document {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return creditgate.Document{
		UserID:           userID,
		Email:            userID + "@example.com",
		DisplayName:      "User " + userID,
		Plan:             creditgate.Ptr(creditgate.PlanBasic),
		MonthlyCredits:   creditgate.Ptr(int64(100)),
		MonthlyRenewalAt: creditgate.Ptr(now.AddDate(0, 1, 0)),
		DailyCredits:     creditgate.Ptr(int64(10)),
		LastDailyResetAt: creditgate.Ptr(now),
		KeySlot:          creditgate.Ptr(slot),
		SchemaVersion:    creditgate.CurrentSchemaVersion,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func testGetMissing(t *testing.T, s creditgate.DocumentStore) {
	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, creditgate.ErrNotFound)
}

func testSetReplace(t *testing.T, s creditgate.DocumentStore) {
	ctx := context.Background()
	doc := fullDoc("u1", 2)
	require.NoError(t, s.Set(ctx, doc, false))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assertSameDoc(t, doc, got)

	replacement := creditgate.Document{
		UserID:         "u1",
		Plan:           creditgate.Ptr(creditgate.PlanFree),
		MonthlyCredits: creditgate.Ptr(int64(8)),
		SchemaVersion:  1,
	}
	require.NoError(t, s.Set(ctx, replacement, false))

	got, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, creditgate.PlanFree, *got.Plan)
	assert.Equal(t, int64(8), *got.MonthlyCredits)
	assert.Nil(t, got.DailyCredits, "replace drops fields not in the new document")
	assert.Nil(t, got.KeySlot)

	slots, err := s.AssignedSlots(ctx)
	require.NoError(t, err)
	assert.NotContains(t, slots, 2, "replaced document released its slot")
}

func testSetMerge(t *testing.T, s creditgate.DocumentStore) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, fullDoc("u1", 1), false))

	require.NoError(t, s.Set(ctx, creditgate.Document{
		UserID:       "u1",
		DailyCredits: creditgate.Ptr(int64(3)),
	}, true))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), *got.DailyCredits)
	assert.Equal(t, int64(100), *got.MonthlyCredits)
	assert.Equal(t, "u1@example.com", got.Email)

	// Merge creates when absent.
	require.NoError(t, s.Set(ctx, creditgate.Document{
		UserID: "u2",
		Plan:   creditgate.Ptr(creditgate.PlanPro),
	}, true))
	got, err = s.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, creditgate.PlanPro, *got.Plan)
}

func testUpdatePartial(t *testing.T, s creditgate.DocumentStore) {
	ctx := context.Background()
	doc := fullDoc("u1", 1)
	require.NoError(t, s.Set(ctx, doc, false))

	later := doc.UpdatedAt.Add(time.Hour)
	require.NoError(t, s.Update(ctx, "u1", creditgate.Document{
		Plan:             creditgate.Ptr(creditgate.PlanStandard),
		MonthlyCredits:   creditgate.Ptr(int64(250)),
		LastDailyResetAt: creditgate.Ptr(later),
		UpdatedAt:        later,
	}))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, creditgate.PlanStandard, *got.Plan)
	assert.Equal(t, int64(250), *got.MonthlyCredits)
	assert.True(t, later.Equal(*got.LastDailyResetAt))
	assert.True(t, later.Equal(got.UpdatedAt))
	assert.Equal(t, int64(10), *got.DailyCredits, "untouched field kept")
	assert.Equal(t, 1, *got.KeySlot)
	assert.True(t, doc.CreatedAt.Equal(got.CreatedAt))
}

func testUpdateMissing(t *testing.T, s creditgate.DocumentStore) {
	err := s.Update(context.Background(), "nobody", creditgate.Document{
		DailyCredits: creditgate.Ptr(int64(1)),
	})
	assert.ErrorIs(t, err, creditgate.ErrNotFound)

	_, err = s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, creditgate.ErrNotFound, "update must not create")
}

func testAbsentFields(t *testing.T, s creditgate.DocumentStore) {
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Set(ctx, creditgate.Document{
		UserID:         "legacy",
		Email:          "legacy@example.com",
		Plan:           creditgate.Ptr(creditgate.PlanBasic),
		MonthlyCredits: creditgate.Ptr(int64(40)),
		SchemaVersion:  1,
		CreatedAt:      created,
	}, false))

	got, err := s.Get(ctx, "legacy")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"monthly_renewal_at", "daily_credits", "last_daily_reset_at", "key_slot"},
		got.Missing())
	assert.Equal(t, 1, got.SchemaVersion)
}

func testIncrementClamp(t *testing.T, s creditgate.DocumentStore) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, fullDoc("u1", 1), false))

	v, err := s.Increment(ctx, "u1", creditgate.FieldDailyCredits, -4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	v, err = s.Increment(ctx, "u1", creditgate.FieldDailyCredits, -50)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), *got.DailyCredits)
	assert.Equal(t, int64(100), *got.MonthlyCredits)
}

func testIncrementUnbounded(t *testing.T, s creditgate.DocumentStore) {
	ctx := context.Background()
	doc := fullDoc("pro", 1)
	doc.Plan = creditgate.Ptr(creditgate.PlanPro)
	doc.MonthlyCredits = creditgate.Ptr(creditgate.Unbounded)
	require.NoError(t, s.Set(ctx, doc, false))

	v, err := s.Increment(ctx, "pro", creditgate.FieldMonthlyCredits, -3)
	require.NoError(t, err)
	assert.Equal(t, creditgate.Unbounded, v)

	got, err := s.Get(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, creditgate.Unbounded, *got.MonthlyCredits)
}

func testIncrementMissing(t *testing.T, s creditgate.DocumentStore) {
	_, err := s.Increment(context.Background(), "nobody", creditgate.FieldDailyCredits, -1)
	assert.ErrorIs(t, err, creditgate.ErrNotFound)
}

func testConcurrentIncrements(t *testing.T, s creditgate.DocumentStore) {
	ctx := context.Background()
	doc := fullDoc("u1", 1)
	doc.MonthlyCredits = creditgate.Ptr(int64(15))
	require.NoError(t, s.Set(ctx, doc, false))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "u1", creditgate.FieldMonthlyCredits, -1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), *got.MonthlyCredits)
}

func testAssignedSlots(t *testing.T, s creditgate.DocumentStore) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, fullDoc("a", 1), false))
	require.NoError(t, s.Set(ctx, fullDoc("b", 3), false))
	require.NoError(t, s.Set(ctx, fullDoc("c", 0), false))

	slots, err := s.AssignedSlots(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 3}, slots)

	// A backfilled slot is visible to later scans.
	legacy := fullDoc("d", 0)
	legacy.KeySlot = nil
	require.NoError(t, s.Set(ctx, legacy, false))
	require.NoError(t, s.Update(ctx, "d", creditgate.Document{KeySlot: creditgate.Ptr(2)}))

	slots, err = s.AssignedSlots(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3}, slots)
}

func testCreateWithSlot(t *testing.T, c creditgate.SlotClaimer) {
	ctx := context.Background()

	slot, err := c.CreateWithSlot(ctx, fullDoc("a", 0), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, slot)

	slot, err = c.CreateWithSlot(ctx, fullDoc("b", 0), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, slot)

	slot, err = c.CreateWithSlot(ctx, fullDoc("c", 0), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, slot, "exhausted pool yields slot 0")

	_, err = c.CreateWithSlot(ctx, fullDoc("a", 0), 2)
	assert.ErrorIs(t, err, creditgate.ErrAlreadyExists)
}

func testConcurrentClaims(t *testing.T, s creditgate.DocumentStore, c creditgate.SlotClaimer) {
	ctx := context.Background()
	const users = 12
	const poolSize = 8

	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CreateWithSlot(ctx, fullDoc(fmt.Sprintf("user-%02d", i), 0), poolSize)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	slots, err := s.AssignedSlots(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, slots, "each slot claimed exactly once")
}

func assertSameDoc(t *testing.T, want, got creditgate.Document) {
	t.Helper()
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.DisplayName, got.DisplayName)
	assert.Equal(t, *want.Plan, *got.Plan)
	assert.Equal(t, *want.MonthlyCredits, *got.MonthlyCredits)
	assert.True(t, want.MonthlyRenewalAt.Equal(*got.MonthlyRenewalAt))
	assert.Equal(t, *want.DailyCredits, *got.DailyCredits)
	assert.True(t, want.LastDailyResetAt.Equal(*got.LastDailyResetAt))
	assert.Equal(t, *want.KeySlot, *got.KeySlot)
	assert.Equal(t, want.SchemaVersion, got.SchemaVersion)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
}
