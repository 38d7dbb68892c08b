package creditgate

import (
	"context"
	"time"
)

// CurrentSchemaVersion is the document shape written by this package.
// Version 1 documents predate the daily pool and the credential slot.
const CurrentSchemaVersion = 2

// Field names a numeric document field that supports atomic increments.
type Field string

const (
	FieldMonthlyCredits Field = "monthly_credits"
	FieldDailyCredits   Field = "daily_credits"
)

// Document is the persisted shape of an entitlement record. Fields added
// after the first schema version are pointers; nil means absent from storage.
// When used as a partial update, nil fields and empty strings are left unchanged.
type Document struct {
	UserID           string
	Email            string
	DisplayName      string
	Plan             *Plan
	MonthlyCredits   *int64
	MonthlyRenewalAt *time.Time
	DailyCredits     *int64
	LastDailyResetAt *time.Time
	KeySlot          *int
	SchemaVersion    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentStore is single-document key-value access to entitlement documents.
// Implementations must be safe for concurrent use. Writes are last-write-wins.
type DocumentStore interface {
	// Get returns the document for a user, or ErrNotFound.
	Get(ctx context.Context, userID string) (Document, error)

	// Set writes a document. With merge, only the present fields are written
	// and the document is created if absent; without merge it is replaced.
	Set(ctx context.Context, doc Document, merge bool) error

	// Update writes the present fields of an existing document, or returns ErrNotFound.
	Update(ctx context.Context, userID string, fields Document) error

	// Increment atomically adds delta to a credit field and returns the new value.
	// The result is clamped at zero, and a field holding the Unbounded
	// sentinel is left untouched.
	Increment(ctx context.Context, userID string, field Field, delta int64) (int64, error)

	// AssignedSlots returns the key slot of every document whose slot is > 0.
	AssignedSlots(ctx context.Context) ([]int, error)
}

// SlotClaimer is implemented by stores that can pick the lowest free key slot
// and create a document holding it in one atomic step.
type SlotClaimer interface {
	// CreateWithSlot creates doc with the lowest slot in [1, poolSize] not held
	// by any other document, or 0 when none is free. Returns ErrAlreadyExists
	// if a document for doc.UserID exists.
	CreateWithSlot(ctx context.Context, doc Document, poolSize int) (int, error)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Missing lists the fields absent from the document.
func (d Document) Missing() []string {
	var missing []string
	if d.Plan == nil {
		missing = append(missing, "plan")
	}
	if d.MonthlyCredits == nil {
		missing = append(missing, string(FieldMonthlyCredits))
	}
	if d.MonthlyRenewalAt == nil {
		missing = append(missing, "monthly_renewal_at")
	}
	if d.DailyCredits == nil {
		missing = append(missing, string(FieldDailyCredits))
	}
	if d.LastDailyResetAt == nil {
		missing = append(missing, "last_daily_reset_at")
	}
	if d.KeySlot == nil {
		missing = append(missing, "key_slot")
	}
	return missing
}

// Apply returns d with the present fields of patch written over it.
// Zero times and a zero schema version count as absent.
func (d Document) Apply(patch Document) Document {
	if patch.Email != "" {
		d.Email = patch.Email
	}
	if patch.DisplayName != "" {
		d.DisplayName = patch.DisplayName
	}
	if patch.Plan != nil {
		d.Plan = Ptr(*patch.Plan)
	}
	if patch.MonthlyCredits != nil {
		d.MonthlyCredits = Ptr(*patch.MonthlyCredits)
	}
	if patch.MonthlyRenewalAt != nil {
		d.MonthlyRenewalAt = Ptr(*patch.MonthlyRenewalAt)
	}
	if patch.DailyCredits != nil {
		d.DailyCredits = Ptr(*patch.DailyCredits)
	}
	if patch.LastDailyResetAt != nil {
		d.LastDailyResetAt = Ptr(*patch.LastDailyResetAt)
	}
	if patch.KeySlot != nil {
		d.KeySlot = Ptr(*patch.KeySlot)
	}
	if patch.SchemaVersion != 0 {
		d.SchemaVersion = patch.SchemaVersion
	}
	if !patch.CreatedAt.IsZero() {
		d.CreatedAt = patch.CreatedAt
	}
	if !patch.UpdatedAt.IsZero() {
		d.UpdatedAt = patch.UpdatedAt
	}
	return d
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	return Document{
		UserID:        d.UserID,
		SchemaVersion: d.SchemaVersion,
	}.Apply(d)
}

// ClampedAdd adds delta to a credit value the way DocumentStore.Increment
// must: the Unbounded sentinel is kept and the result never drops below zero.
func ClampedAdd(value, delta int64) int64 {
	if value == Unbounded {
		return value
	}
	if v := value + delta; v > 0 {
		return v
	}
	return 0
}

// Record converts a document to a record. Absent fields become zero values,
// so callers migrate first.
func (d Document) Record() Record {
	r := Record{
		UserID:        d.UserID,
		Email:         d.Email,
		DisplayName:   d.DisplayName,
		SchemaVersion: d.SchemaVersion,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.Plan != nil {
		r.Plan = *d.Plan
	}
	if d.MonthlyCredits != nil {
		r.MonthlyCredits = *d.MonthlyCredits
	}
	if d.MonthlyRenewalAt != nil {
		r.MonthlyRenewalAt = *d.MonthlyRenewalAt
	}
	if d.DailyCredits != nil {
		r.DailyCredits = *d.DailyCredits
	}
	if d.LastDailyResetAt != nil {
		r.LastDailyResetAt = *d.LastDailyResetAt
	}
	if d.KeySlot != nil {
		r.KeySlot = *d.KeySlot
	}
	return r
}

// RecordDocument converts a record to a fully populated document.
func RecordDocument(r Record) Document {
	return Document{
		UserID:           r.UserID,
		Email:            r.Email,
		DisplayName:      r.DisplayName,
		Plan:             Ptr(r.Plan),
		MonthlyCredits:   Ptr(r.MonthlyCredits),
		MonthlyRenewalAt: Ptr(r.MonthlyRenewalAt),
		DailyCredits:     Ptr(r.DailyCredits),
		LastDailyResetAt: Ptr(r.LastDailyResetAt),
		KeySlot:          Ptr(r.KeySlot),
		SchemaVersion:    r.SchemaVersion,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// migrate fills absent fields with defaults and returns the merged document
// plus a patch holding only the filled fields. Present fields are never
// replaced. slot is consulted only when the key slot is absent.
func migrate(d Document, c *Catalog, now time.Time, slot func() int) (merged Document, patch Document, changed bool) {
	merged = d
	patch = Document{UserID: d.UserID}

	if d.Plan == nil {
		merged.Plan = Ptr(PlanFree)
		patch.Plan = merged.Plan
		changed = true
	}
	a := c.AllowancesFor(*merged.Plan)

	if d.MonthlyCredits == nil {
		merged.MonthlyCredits = Ptr(a.Monthly)
		patch.MonthlyCredits = merged.MonthlyCredits
		changed = true
	}
	if d.MonthlyRenewalAt == nil {
		merged.MonthlyRenewalAt = Ptr(addMonth(now))
		patch.MonthlyRenewalAt = merged.MonthlyRenewalAt
		changed = true
	}
	if d.DailyCredits == nil {
		merged.DailyCredits = Ptr(a.Daily)
		patch.DailyCredits = merged.DailyCredits
		changed = true
	}
	if d.LastDailyResetAt == nil {
		merged.LastDailyResetAt = Ptr(now)
		patch.LastDailyResetAt = merged.LastDailyResetAt
		changed = true
	}
	if d.KeySlot == nil {
		merged.KeySlot = Ptr(slot())
		patch.KeySlot = merged.KeySlot
		changed = true
	}
	if changed || d.SchemaVersion < CurrentSchemaVersion {
		merged.SchemaVersion = CurrentSchemaVersion
		patch.SchemaVersion = CurrentSchemaVersion
		merged.UpdatedAt = now
		patch.UpdatedAt = now
		changed = true
	}
	return merged, patch, changed
}

// addMonth returns t plus one calendar month, normalizing overflowing days
// the way time.AddDate does (Jan 31 + 1 month = Mar 2 or 3).
func addMonth(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
