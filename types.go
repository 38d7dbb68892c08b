package creditgate

import "time"

// Identity is what the authentication layer knows about a signed-in user.
type Identity struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Record is the fully populated entitlement state of one user.
type Record struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email,omitempty"`
	DisplayName      string    `json:"display_name,omitempty"`
	Plan             Plan      `json:"plan"`
	MonthlyCredits   int64     `json:"monthly_credits"`
	MonthlyRenewalAt time.Time `json:"monthly_renewal_at"`
	DailyCredits     int64     `json:"daily_credits"`
	LastDailyResetAt time.Time `json:"last_daily_reset_at"`
	KeySlot          int       `json:"key_slot"`
	SchemaVersion    int       `json:"schema_version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Unlimited reports whether the monthly pool holds the Unbounded sentinel.
func (r Record) Unlimited() bool { return r.MonthlyCredits == Unbounded }

// PoolUsage describes consumption of a single credit pool.
type PoolUsage struct {
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
	Unlimited bool    `json:"unlimited"`
	Percent   float64 `json:"percent"`
}

// Usage is the display view of a record against its plan.
type Usage struct {
	Plan     Plan      `json:"plan"`
	Monthly  PoolUsage `json:"monthly"`
	Daily    PoolUsage `json:"daily"`
	RenewsAt time.Time `json:"renews_at"`
}

// Usage computes used/limit figures for both pools. An unlimited pool
// reports 100 percent so progress displays render full.
func (r Record) Usage(c *Catalog) Usage {
	a := c.AllowancesFor(r.Plan)
	return Usage{
		Plan:     r.Plan,
		Monthly:  poolUsage(r.MonthlyCredits, a.Monthly),
		Daily:    poolUsage(r.DailyCredits, a.Daily),
		RenewsAt: r.MonthlyRenewalAt,
	}
}

func poolUsage(remaining, limit int64) PoolUsage {
	if limit == Unbounded || remaining == Unbounded {
		return PoolUsage{Limit: Unbounded, Remaining: Unbounded, Unlimited: true, Percent: 100}
	}
	used := limit - remaining
	if used < 0 {
		used = 0
	}
	var pct float64
	if limit > 0 {
		pct = float64(used) / float64(limit) * 100
	}
	return PoolUsage{Used: used, Limit: limit, Remaining: remaining, Percent: pct}
}
