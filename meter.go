package creditgate

import "time"

// Meter observes entitlement and generation events for monitoring/logging.
type Meter interface {
	// OnAdmit is called when a request passes the quota checks and a credential is chosen.
	OnAdmit(event AdmitEvent)

	// OnResult is called when a request finishes, including rejections.
	OnResult(event ResultEvent)

	// OnReset is called after a lazy reset has been persisted.
	OnReset(event ResetEvent)
}

// AdmitEvent describes an admitted generation request.
type AdmitEvent struct {
	GenerationID string
	UserID       string
	Plan         Plan
	Slot         int
	Fallback     bool
	Cost         int64
	Generator    string
	Model        string
}

// ResultEvent describes the outcome of a generation request.
type ResultEvent struct {
	GenerationID string
	UserID       string
	Plan         Plan
	Slot         int
	Fallback     bool
	Cost         int64
	Generator    string
	Model        string
	Success      bool
	Charged      bool
	Images       int
	Duration     time.Duration
	Error        error
}

// ResetEvent describes a credit reset applied on read.
type ResetEvent struct {
	UserID string
	Plan   Plan
	Kind   ResetKind
	At     time.Time
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnAdmit(AdmitEvent)   {}
func (m *noopMeter) OnResult(ResultEvent) {}
func (m *noopMeter) OnReset(ResetEvent)   {}
