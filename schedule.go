package creditgate

import "time"

// ResetKind is the outcome of a reset check.
type ResetKind int

const (
	ResetNone ResetKind = iota
	ResetDaily
	// ResetMonthly also restores the daily pool.
	ResetMonthly
)

func (k ResetKind) String() string {
	switch k {
	case ResetNone:
		return "none"
	case ResetDaily:
		return "daily"
	case ResetMonthly:
		return "monthly"
	default:
		return "unknown"
	}
}

// DueReset decides which reset, if any, a record needs at now. Calendar days
// are compared in loc, which must be the same for the whole system.
func DueReset(r Record, now time.Time, loc *time.Location) ResetKind {
	if !now.Before(r.MonthlyRenewalAt) {
		return ResetMonthly
	}
	if dayAfter(now, r.LastDailyResetAt, loc) {
		return ResetDaily
	}
	return ResetNone
}

// ApplyReset returns the record after the reset and the partial document
// that persists it. The plan is never changed. Renewal is re-armed from now,
// so windows missed while the user was away are not credited.
func ApplyReset(r Record, kind ResetKind, a Allowance, now time.Time) (Record, Document) {
	patch := Document{UserID: r.UserID}
	switch kind {
	case ResetMonthly:
		r.MonthlyCredits = a.Monthly
		r.MonthlyRenewalAt = addMonth(now)
		patch.MonthlyCredits = Ptr(r.MonthlyCredits)
		patch.MonthlyRenewalAt = Ptr(r.MonthlyRenewalAt)
		fallthrough
	case ResetDaily:
		r.DailyCredits = a.Daily
		r.LastDailyResetAt = now
		patch.DailyCredits = Ptr(r.DailyCredits)
		patch.LastDailyResetAt = Ptr(r.LastDailyResetAt)
	default:
		return r, patch
	}
	r.UpdatedAt = now
	patch.UpdatedAt = now
	return r, patch
}

// dayAfter reports whether a falls on a later calendar date than b in loc.
func dayAfter(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}
