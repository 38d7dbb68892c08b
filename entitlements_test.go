package creditgate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cg "github.com/ineyio/creditgate"
	"github.com/ineyio/creditgate/store"
)

type entFixture struct {
	ents  *cg.Entitlements
	store *store.MemoryStore
	clock *fakeClock
	meter *recordingMeter
}

func newEntitlements(t *testing.T, poolSize int, wrap func(cg.DocumentStore) cg.DocumentStore, opts ...cg.Option) entFixture {
	t.Helper()
	mem := store.NewMemoryStore()
	var ds cg.DocumentStore = mem
	if wrap != nil {
		ds = wrap(mem)
	}
	clock := newClock(t0)
	m := &recordingMeter{}
	base := []cg.Option{
		cg.WithClock(clock.Now),
		cg.WithMeter(m),
		cg.WithLogger(discardLogger()),
	}
	ents := cg.NewEntitlements(ds, cg.NewKeyPool(keys(poolSize), "fallback"), append(base, opts...)...)
	return entFixture{ents: ents, store: mem, clock: clock, meter: m}
}

func seedSlot(t *testing.T, s *store.MemoryStore, userID string, slot int) {
	t.Helper()
	doc := cg.RecordDocument(cg.Record{
		UserID:           userID,
		Plan:             cg.PlanFree,
		MonthlyCredits:   8,
		DailyCredits:     8,
		MonthlyRenewalAt: t0.AddDate(0, 1, 0),
		LastDailyResetAt: t0,
		KeySlot:          slot,
		SchemaVersion:    cg.CurrentSchemaVersion,
	})
	require.NoError(t, s.Set(context.Background(), doc, false))
}

func TestCreate_NewFreeUserGetsLowestFreeSlot(t *testing.T) {
	for name, wrap := range map[string]func(cg.DocumentStore) cg.DocumentStore{
		"scan":  func(s cg.DocumentStore) cg.DocumentStore { return scanOnly{s} },
		"claim": nil,
	} {
		t.Run(name, func(t *testing.T) {
			f := newEntitlements(t, 5, wrap)
			seedSlot(t, f.store, "a", 1)
			seedSlot(t, f.store, "b", 2)

			rec, err := f.ents.Create(context.Background(), cg.Identity{UserID: "new", Email: "new@example.com"})
			require.NoError(t, err)
			assert.Equal(t, 3, rec.KeySlot)
			assert.Equal(t, cg.PlanFree, rec.Plan)
			assert.Equal(t, int64(8), rec.MonthlyCredits)
			assert.Equal(t, int64(8), rec.DailyCredits)
			assert.Equal(t, t0.AddDate(0, 1, 0), rec.MonthlyRenewalAt)
			assert.Equal(t, t0, rec.LastDailyResetAt)

			stored, err := f.ents.Read(context.Background(), "new")
			require.NoError(t, err)
			assert.Equal(t, rec.KeySlot, stored.KeySlot)
			assert.Equal(t, "new@example.com", stored.Email)
		})
	}
}

func TestCreate_AlreadyExists(t *testing.T) {
	for name, wrap := range map[string]func(cg.DocumentStore) cg.DocumentStore{
		"scan":  func(s cg.DocumentStore) cg.DocumentStore { return scanOnly{s} },
		"claim": nil,
	} {
		t.Run(name, func(t *testing.T) {
			f := newEntitlements(t, 3, wrap)
			ctx := context.Background()

			_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
			require.NoError(t, err)
			require.NoError(t, f.ents.Decrement(ctx, "u1", 2))

			_, err = f.ents.Create(ctx, cg.Identity{UserID: "u1"})
			assert.ErrorIs(t, err, cg.ErrAlreadyExists)

			rec, err := f.ents.Read(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, int64(6), rec.DailyCredits, "existing record untouched")
		})
	}
}

func TestCreate_EmptyUserID(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	_, err := f.ents.Create(context.Background(), cg.Identity{})
	assert.ErrorIs(t, err, cg.ErrInvalidRequest)
}

func TestCreate_PoolExhaustedFallsBackToSlotZero(t *testing.T) {
	for name, wrap := range map[string]func(cg.DocumentStore) cg.DocumentStore{
		"scan":  func(s cg.DocumentStore) cg.DocumentStore { return scanOnly{s} },
		"claim": nil,
	} {
		t.Run(name, func(t *testing.T) {
			f := newEntitlements(t, 2, wrap)
			ctx := context.Background()

			for _, id := range []string{"a", "b"} {
				_, err := f.ents.Create(ctx, cg.Identity{UserID: id})
				require.NoError(t, err)
			}
			rec, err := f.ents.Create(ctx, cg.Identity{UserID: "c"})
			require.NoError(t, err, "signup never fails on exhaustion")
			assert.Equal(t, 0, rec.KeySlot)
		})
	}
}

func TestCreate_EmptyPool(t *testing.T) {
	f := newEntitlements(t, 0, func(s cg.DocumentStore) cg.DocumentStore { return scanOnly{s} })
	rec, err := f.ents.Create(context.Background(), cg.Identity{UserID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.KeySlot)
}

func TestCreate_SlotScanFailureFallsBackToSlotZero(t *testing.T) {
	f := newEntitlements(t, 3, func(s cg.DocumentStore) cg.DocumentStore { return brokenSlots{s} })
	rec, err := f.ents.Create(context.Background(), cg.Identity{UserID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.KeySlot)
}

func TestRead_NotFound(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	_, err := f.ents.Read(context.Background(), "nobody")
	assert.ErrorIs(t, err, cg.ErrNotFound)
}

func TestRead_Idempotent(t *testing.T) {
	f := newEntitlements(t, 2, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)

	// A day later the first read resets, the second must not.
	f.clock.Advance(26 * time.Hour)
	first, err := f.ents.Read(ctx, "u1")
	require.NoError(t, err)
	second, err := f.ents.Read(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.meter.Resets(), 1)
}

func TestRead_MonthlyResetRestoresBothPools(t *testing.T) {
	f := newEntitlements(t, 2, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.ents.ChangePlan(ctx, "u1", cg.PlanBasic)
	require.NoError(t, err)
	require.NoError(t, f.ents.Decrement(ctx, "u1", 7))

	f.clock.Set(t0.AddDate(0, 1, 0))
	rec, err := f.ents.Read(ctx, "u1")
	require.NoError(t, err)

	now := f.clock.Now()
	assert.Equal(t, cg.PlanBasic, rec.Plan, "reset never changes the plan")
	assert.Equal(t, int64(100), rec.MonthlyCredits)
	assert.Equal(t, int64(10), rec.DailyCredits)
	assert.True(t, rec.MonthlyRenewalAt.After(now))
	assert.Equal(t, now, rec.LastDailyResetAt)

	resets := f.meter.Resets()
	require.Len(t, resets, 1, "one combined reset, not two")
	assert.Equal(t, cg.ResetMonthly, resets[0].Kind)
}

func TestRead_DailyResetLeavesMonthlyUntouched(t *testing.T) {
	f := newEntitlements(t, 2, nil)
	ctx := context.Background()
	_, err := f.ents.ChangePlan(ctx, "u1", cg.PlanBasic)
	require.ErrorIs(t, err, cg.ErrNotFound)

	_, err = f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)
	before, err := f.ents.ChangePlan(ctx, "u1", cg.PlanBasic)
	require.NoError(t, err)
	require.NoError(t, f.ents.Decrement(ctx, "u1", 6))

	f.clock.Advance(24 * time.Hour)
	rec, err := f.ents.Read(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, int64(10), rec.DailyCredits)
	assert.Equal(t, f.clock.Now(), rec.LastDailyResetAt)
	assert.Equal(t, int64(94), rec.MonthlyCredits)
	assert.Equal(t, before.MonthlyRenewalAt, rec.MonthlyRenewalAt)
}

func TestRead_SameDayNoReset(t *testing.T) {
	f := newEntitlements(t, 2, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, f.ents.Decrement(ctx, "u1", 3))

	f.clock.Advance(11 * time.Hour) // 23:00 the same day
	rec, err := f.ents.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.DailyCredits)
	assert.Empty(t, f.meter.Resets())
}

func TestRead_LongAbsenceLandsOnOneWindow(t *testing.T) {
	f := newEntitlements(t, 2, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)

	later := t0.AddDate(0, 5, 3).Add(7 * time.Hour)
	f.clock.Set(later)
	rec, err := f.ents.Read(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, later.AddDate(0, 1, 0), rec.MonthlyRenewalAt, "renewal re-armed from now")
	assert.Equal(t, int64(8), rec.MonthlyCredits, "missed windows are not accumulated")
}

func TestRead_CalendarDayUsesConfiguredLocation(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	utc := newEntitlements(t, 1, nil)
	local := newEntitlements(t, 1, nil, cg.WithLocation(est))
	ctx := context.Background()

	lateEvening := time.Date(2026, 5, 10, 23, 30, 0, 0, time.UTC)
	afterMidnight := lateEvening.Add(time.Hour)

	for _, f := range []entFixture{utc, local} {
		f.clock.Set(lateEvening)
		_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
		require.NoError(t, err)
		require.NoError(t, f.ents.Decrement(ctx, "u1", 1))
		f.clock.Set(afterMidnight)
	}

	rec, err := utc.ents.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.DailyCredits, "new UTC day")

	rec, err = local.ents.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.DailyCredits, "still May 10 in EST")
}

func TestDecrement_NeverBelowZero(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)

	for _, n := range []int64{0, 1, 3, 50} {
		require.NoError(t, f.ents.Decrement(ctx, "u1", n))
		rec, err := f.ents.Read(ctx, "u1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.MonthlyCredits, int64(0))
		assert.GreaterOrEqual(t, rec.DailyCredits, int64(0))
	}

	rec, err := f.ents.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.MonthlyCredits)
	assert.Equal(t, int64(0), rec.DailyCredits)
}

func TestDecrement_InvalidAmounts(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.ents.Decrement(ctx, "u1", -1), cg.ErrInvalidAmount)
	assert.NoError(t, f.ents.Decrement(ctx, "nobody", 0), "zero is a no-op")
	assert.ErrorIs(t, f.ents.Decrement(ctx, "nobody", 1), cg.ErrNotFound)
}

func TestDecrement_ProUnboundedMonthly(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "pro"})
	require.NoError(t, err)
	_, err = f.ents.ChangePlan(ctx, "pro", cg.PlanPro)
	require.NoError(t, err)

	require.NoError(t, f.ents.Decrement(ctx, "pro", 4))
	rec, err := f.ents.Read(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, cg.Unbounded, rec.MonthlyCredits)
	assert.True(t, rec.Unlimited())
	assert.Equal(t, int64(21), rec.DailyCredits)
}

func TestChangePlan_ResetsPoolsAndClocks(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)

	for _, p := range cg.Plans {
		f.clock.Advance(3 * time.Hour)
		require.NoError(t, f.ents.Decrement(ctx, "u1", 2))

		rec, err := f.ents.ChangePlan(ctx, "u1", p)
		require.NoError(t, err)

		now := f.clock.Now()
		a := cg.DefaultAllowances[p]
		assert.Equal(t, p, rec.Plan)
		assert.Equal(t, a.Monthly, rec.MonthlyCredits, p)
		assert.Equal(t, a.Daily, rec.DailyCredits, p)
		assert.True(t, rec.MonthlyRenewalAt.After(now))
		assert.Equal(t, now, rec.LastDailyResetAt)

		again, err := f.ents.Read(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, rec, again)
	}
}

func TestChangePlan_Errors(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)

	_, err = f.ents.ChangePlan(ctx, "u1", cg.Plan("Enterprise"))
	assert.ErrorIs(t, err, cg.ErrUnknownPlan)
	_, err = f.ents.ChangePlan(ctx, "nobody", cg.PlanPro)
	assert.ErrorIs(t, err, cg.ErrNotFound)
}

func TestBackfill_FillsOnlyAbsentFields(t *testing.T) {
	f := newEntitlements(t, 3, nil)
	ctx := context.Background()
	seedSlot(t, f.store, "other", 1)

	// A schema-1 document: plan and monthly pool only.
	require.NoError(t, f.store.Set(ctx, cg.Document{
		UserID:         "legacy",
		Email:          "legacy@example.com",
		Plan:           cg.Ptr(cg.PlanBasic),
		MonthlyCredits: cg.Ptr(int64(37)),
		SchemaVersion:  1,
		CreatedAt:      t0.AddDate(-1, 0, 0),
	}, false))

	rec, err := f.ents.Backfill(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, cg.PlanBasic, rec.Plan)
	assert.Equal(t, int64(37), rec.MonthlyCredits, "present value kept")
	assert.Equal(t, int64(10), rec.DailyCredits, "daily from the Basic allowance")
	assert.Equal(t, t0.AddDate(0, 1, 0), rec.MonthlyRenewalAt)
	assert.Equal(t, t0, rec.LastDailyResetAt)
	assert.Equal(t, 2, rec.KeySlot)
	assert.Equal(t, cg.CurrentSchemaVersion, rec.SchemaVersion)
	assert.Equal(t, "legacy@example.com", rec.Email)

	doc, err := f.store.Get(ctx, "legacy")
	require.NoError(t, err)
	assert.Empty(t, doc.Missing(), "backfill persisted")
	assert.Equal(t, t0.AddDate(-1, 0, 0), doc.CreatedAt)

	// Running it again changes nothing.
	again, err := f.ents.Backfill(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, rec, again)
}

func TestBackfill_MissingPlanDefaultsToFree(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, cg.Document{UserID: "bare"}, false))

	rec, err := f.ents.Read(ctx, "bare")
	require.NoError(t, err)
	assert.Equal(t, cg.PlanFree, rec.Plan)
	assert.Equal(t, int64(8), rec.MonthlyCredits)
	assert.Equal(t, int64(8), rec.DailyCredits)
	assert.Equal(t, 1, rec.KeySlot)
}

func TestBackfill_NotFound(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	_, err := f.ents.Backfill(context.Background(), "nobody")
	assert.ErrorIs(t, err, cg.ErrNotFound)
}

func TestEnsureProfile(t *testing.T) {
	f := newEntitlements(t, 2, nil)
	ctx := context.Background()

	first, err := f.ents.EnsureProfile(ctx, cg.Identity{UserID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.KeySlot)
	assert.Equal(t, "Ada", first.DisplayName)

	require.NoError(t, f.ents.Decrement(ctx, "u1", 1))
	second, err := f.ents.EnsureProfile(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), second.DailyCredits, "existing profile returned as is")
	assert.Equal(t, 1, f.store.Len())
}

func TestOnPaymentSuccess(t *testing.T) {
	f := newEntitlements(t, 1, nil)
	ctx := context.Background()
	_, err := f.ents.Create(ctx, cg.Identity{UserID: "u1"})
	require.NoError(t, err)

	rec, err := f.ents.OnPaymentSuccess(ctx, "u1", "standard")
	require.NoError(t, err)
	assert.Equal(t, cg.PlanStandard, rec.Plan)
	assert.Equal(t, int64(250), rec.MonthlyCredits)

	_, err = f.ents.OnPaymentSuccess(ctx, "u1", "gold")
	assert.ErrorIs(t, err, cg.ErrUnknownPlan)
	_, err = f.ents.OnPaymentSuccess(ctx, "nobody", "Pro")
	assert.ErrorIs(t, err, cg.ErrNotFound)
}

func TestWithCatalog_Overrides(t *testing.T) {
	catalog := cg.NewCatalog(map[cg.Plan]cg.Allowance{
		cg.PlanFree: {Monthly: 3, Daily: 2},
	})
	f := newEntitlements(t, 1, nil, cg.WithCatalog(catalog))

	rec, err := f.ents.Create(context.Background(), cg.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.MonthlyCredits)
	assert.Equal(t, int64(2), rec.DailyCredits)
	assert.Same(t, catalog, f.ents.Catalog())
}
