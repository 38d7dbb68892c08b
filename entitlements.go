package creditgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Entitlements reads and mutates per-user entitlement records. Every read
// passes through schema migration and the reset scheduler.
//
// There is no per-user locking: concurrent requests for the same user may
// both pass a quota check before either decrements.
type Entitlements struct {
	store   DocumentStore
	alloc   *Allocator
	catalog *Catalog
	loc     *time.Location
	now     func() time.Time
	meter   Meter
	logger  *slog.Logger
}

// Option configures Entitlements.
type Option func(*Entitlements)

// WithCatalog sets the plan catalog.
func WithCatalog(c *Catalog) Option {
	return func(e *Entitlements) { e.catalog = c }
}

// WithLocation sets the time zone in which calendar days are compared.
func WithLocation(loc *time.Location) Option {
	return func(e *Entitlements) { e.loc = loc }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Entitlements) { e.now = now }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(e *Entitlements) { e.meter = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Entitlements) { e.logger = l }
}

// NewEntitlements creates an entitlement service over store, assigning slots from pool.
// Defaults: DefaultCatalog, UTC, time.Now, no-op meter, slog.Default().
func NewEntitlements(store DocumentStore, pool *KeyPool, opts ...Option) *Entitlements {
	e := &Entitlements{
		store: store,
		alloc: NewAllocator(pool, store),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.catalog == nil {
		e.catalog = DefaultCatalog()
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.meter == nil {
		e.meter = &noopMeter{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Catalog returns the plan catalog in use.
func (e *Entitlements) Catalog() *Catalog { return e.catalog }

// Create creates a Free-plan record for a new user and assigns a key slot.
// It returns ErrAlreadyExists if the user has a record.
func (e *Entitlements) Create(ctx context.Context, id Identity) (Record, error) {
	if id.UserID == "" {
		return Record{}, fmt.Errorf("%w: empty user id", ErrInvalidRequest)
	}

	now := e.now()
	a := e.catalog.AllowancesFor(PlanFree)
	rec := Record{
		UserID:           id.UserID,
		Email:            id.Email,
		DisplayName:      id.DisplayName,
		Plan:             PlanFree,
		MonthlyCredits:   a.Monthly,
		MonthlyRenewalAt: addMonth(now),
		DailyCredits:     a.Daily,
		LastDailyResetAt: now,
		SchemaVersion:    CurrentSchemaVersion,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if claimer, ok := e.store.(SlotClaimer); ok {
		slot, err := claimer.CreateWithSlot(ctx, RecordDocument(rec), e.alloc.Pool().Size())
		if err != nil {
			return Record{}, err
		}
		if slot == 0 {
			e.logSlotFailure(id.UserID, ErrPoolExhausted)
		}
		rec.KeySlot = slot
		return rec, nil
	}

	if _, err := e.store.Get(ctx, id.UserID); err == nil {
		return Record{}, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}

	rec.KeySlot = e.nextSlot(ctx, id.UserID)
	if err := e.store.Set(ctx, RecordDocument(rec), false); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Read returns the user's record with any due reset applied and persisted.
// It returns ErrNotFound if the user has no record.
func (e *Entitlements) Read(ctx context.Context, userID string) (Record, error) {
	rec, err := e.load(ctx, userID)
	if err != nil {
		return Record{}, err
	}

	now := e.now()
	kind := DueReset(rec, now, e.loc)
	if kind == ResetNone {
		return rec, nil
	}

	rec, patch := ApplyReset(rec, kind, e.catalog.AllowancesFor(rec.Plan), now)
	if err := e.store.Update(ctx, userID, patch); err != nil {
		return Record{}, err
	}
	e.meter.OnReset(ResetEvent{UserID: userID, Plan: rec.Plan, Kind: kind, At: now})
	return rec, nil
}

// Decrement takes n credits from both pools. Pools never drop below zero
// and an Unbounded pool is left untouched. Sufficiency is not re-checked.
func (e *Entitlements) Decrement(ctx context.Context, userID string, n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, n)
	}
	if n == 0 {
		return nil
	}
	if _, err := e.store.Increment(ctx, userID, FieldMonthlyCredits, -n); err != nil {
		return err
	}
	if _, err := e.store.Increment(ctx, userID, FieldDailyCredits, -n); err != nil {
		return err
	}
	return nil
}

// ChangePlan switches the user to plan and starts fresh windows: both pools
// are set to the new allowance and both clocks re-armed from now. Unused
// credits from the previous plan are forfeited.
func (e *Entitlements) ChangePlan(ctx context.Context, userID string, plan Plan) (Record, error) {
	if !plan.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	if _, err := e.store.Get(ctx, userID); err != nil {
		return Record{}, err
	}

	now := e.now()
	a := e.catalog.AllowancesFor(plan)
	patch := Document{
		Plan:             Ptr(plan),
		MonthlyCredits:   Ptr(a.Monthly),
		MonthlyRenewalAt: Ptr(addMonth(now)),
		DailyCredits:     Ptr(a.Daily),
		LastDailyResetAt: Ptr(now),
		UpdatedAt:        now,
	}
	if err := e.store.Update(ctx, userID, patch); err != nil {
		return Record{}, err
	}

	e.logger.Info("plan changed", "user", userID, "plan", plan)
	return e.Read(ctx, userID)
}

// Backfill fills fields missing from an older document with defaults,
// never overwriting a present field. No reset is applied.
func (e *Entitlements) Backfill(ctx context.Context, userID string) (Record, error) {
	return e.load(ctx, userID)
}

// EnsureProfile returns the user's record, creating it on first sign-in.
// A concurrent creation is treated as benign and the record re-read.
func (e *Entitlements) EnsureProfile(ctx context.Context, id Identity) (Record, error) {
	rec, err := e.Read(ctx, id.UserID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}

	rec, err = e.Create(ctx, id)
	if errors.Is(err, ErrAlreadyExists) {
		return e.Read(ctx, id.UserID)
	}
	if err != nil {
		return Record{}, err
	}
	e.logger.Info("profile created", "user", id.UserID, "slot", rec.KeySlot)
	return rec, nil
}

// load fetches a document and migrates it to the current shape, persisting
// only the fields that were absent.
func (e *Entitlements) load(ctx context.Context, userID string) (Record, error) {
	doc, err := e.store.Get(ctx, userID)
	if err != nil {
		return Record{}, err
	}

	merged, patch, changed := migrate(doc, e.catalog, e.now(), func() int {
		return e.nextSlot(ctx, userID)
	})
	if changed {
		if err := e.store.Update(ctx, userID, patch); err != nil {
			return Record{}, err
		}
		if missing := doc.Missing(); len(missing) > 0 {
			e.logger.Info("backfilled entitlement record", "user", userID, "fields", missing)
		}
	}
	return merged.Record(), nil
}

// nextSlot allocates a slot, degrading to 0 (the fallback credential)
// instead of failing the signup.
func (e *Entitlements) nextSlot(ctx context.Context, userID string) int {
	slot, err := e.alloc.NextAvailableSlot(ctx)
	if err != nil {
		e.logSlotFailure(userID, err)
		return 0
	}
	return slot
}

func (e *Entitlements) logSlotFailure(userID string, err error) {
	if errors.Is(err, ErrPoolExhausted) {
		e.logger.Warn("credential pool exhausted, user will use fallback credential",
			"user", userID,
			"pool_size", e.alloc.Pool().Size(),
		)
		return
	}
	e.logger.Error("key slot allocation failed, user will use fallback credential",
		"user", userID,
		"error", err,
	)
}
