package creditgate

import (
	"fmt"
	"strings"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree     Plan = "Free"
	PlanBasic    Plan = "Basic"
	PlanStandard Plan = "Standard"
	PlanPro      Plan = "Pro"
)

// Plans lists every plan in display order.
var Plans = []Plan{PlanFree, PlanBasic, PlanStandard, PlanPro}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanStandard, PlanPro:
		return true
	default:
		return false
	}
}

// ParsePlan resolves a plan name case-insensitively.
func ParsePlan(name string) (Plan, error) {
	name = strings.TrimSpace(name)
	for _, p := range Plans {
		if strings.EqualFold(string(p), name) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlan, name)
}

// Unbounded marks a credit pool that is never decremented and never blocks.
// It is negative so it cannot collide with any real balance.
const Unbounded int64 = -1

// Allowance is the credit grant of a plan per renewal window.
type Allowance struct {
	Monthly int64 `yaml:"monthly" json:"monthly"`
	Daily   int64 `yaml:"daily" json:"daily"`
	// Price is the monthly price shown on the pricing page, in whole currency units.
	Price int64 `yaml:"price" json:"price"`
}

// Unlimited reports whether the monthly pool is Unbounded.
func (a Allowance) Unlimited() bool { return a.Monthly == Unbounded }

// Catalog maps plans to allowances. It is immutable after construction.
type Catalog struct {
	table map[Plan]Allowance
}

// DefaultAllowances is the stock plan table.
var DefaultAllowances = map[Plan]Allowance{
	PlanFree:     {Monthly: 8, Daily: 8, Price: 0},
	PlanBasic:    {Monthly: 100, Daily: 10, Price: 12},
	PlanStandard: {Monthly: 250, Daily: 15, Price: 22},
	PlanPro:      {Monthly: Unbounded, Daily: 25, Price: 32},
}

// NewCatalog builds a catalog from the default table with overrides applied.
func NewCatalog(overrides map[Plan]Allowance) *Catalog {
	table := make(map[Plan]Allowance, len(DefaultAllowances))
	for p, a := range DefaultAllowances {
		table[p] = a
	}
	for p, a := range overrides {
		table[p] = a
	}
	return &Catalog{table: table}
}

// DefaultCatalog returns a catalog with the stock plan table.
func DefaultCatalog() *Catalog { return NewCatalog(nil) }

// AllowancesFor returns the allowance of a plan. Unknown plans get the Free allowance.
func (c *Catalog) AllowancesFor(p Plan) Allowance {
	if a, ok := c.table[p]; ok {
		return a
	}
	return c.table[PlanFree]
}
