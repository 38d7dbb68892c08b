package creditgate

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes the health of an upstream credential.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker tracks per-slot credential health using a circuit breaker.
// Slot 0 is the fallback credential.
type HealthTracker struct {
	mu    sync.RWMutex
	slots map[int]*slotHealth
	now   func() time.Time
}

type slotHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		slots: make(map[int]*slotHealth),
		now:   time.Now,
	}
}

// GetHealth returns the current health state for a slot.
func (h *HealthTracker) GetHealth(slot int) HealthState {
	h.mu.RLock()
	sh, ok := h.slots[slot]
	h.mu.RUnlock()

	if !ok {
		return HealthHealthy
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Unhealthy period elapsed → half-open, one request gets through.
	if sh.state == HealthUnhealthy && h.now().Sub(sh.unhealthyAt) >= healthUnhealthyPeriod {
		sh.state = HealthHalfOpen
	}

	return sh.state
}

// RecordSuccess records a successful upstream call for a slot.
func (h *HealthTracker) RecordSuccess(slot int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sh := h.getOrCreate(slot)
	sh.state = HealthHealthy
	sh.failures = sh.failures[:0]
}

// RecordFailure records a failed upstream call for a slot.
func (h *HealthTracker) RecordFailure(slot int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sh := h.getOrCreate(slot)
	if sh.state == HealthUnhealthy {
		return
	}

	now := h.now()

	cutoff := now.Add(-healthFailureWindow)
	valid := sh.failures[:0]
	for _, t := range sh.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	sh.failures = append(valid, now)

	if len(sh.failures) >= healthFailureThreshold || sh.state == HealthHalfOpen {
		sh.state = HealthUnhealthy
		sh.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(slot int) *slotHealth {
	sh, ok := h.slots[slot]
	if !ok {
		sh = &slotHealth{state: HealthHealthy}
		h.slots[slot] = sh
	}
	return sh
}
