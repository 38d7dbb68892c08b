package creditgate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	cg "github.com/ineyio/creditgate"
)

var t0 = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// scanOnly hides any SlotClaimer so the scan-based allocator path runs.
type scanOnly struct {
	cg.DocumentStore
}

// brokenSlots fails the slot scan.
type brokenSlots struct {
	cg.DocumentStore
}

func (brokenSlots) AssignedSlots(context.Context) ([]int, error) {
	return nil, errors.New("scan timeout")
}

// recordingMeter captures events.
type recordingMeter struct {
	mu      sync.Mutex
	admits  []cg.AdmitEvent
	results []cg.ResultEvent
	resets  []cg.ResetEvent
}

func (m *recordingMeter) OnAdmit(e cg.AdmitEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admits = append(m.admits, e)
}

func (m *recordingMeter) OnResult(e cg.ResultEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, e)
}

func (m *recordingMeter) OnReset(e cg.ResetEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, e)
}

func (m *recordingMeter) Results() []cg.ResultEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cg.ResultEvent(nil), m.results...)
}

func (m *recordingMeter) Resets() []cg.ResetEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cg.ResetEvent(nil), m.resets...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// keys returns n distinct credentials.
func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "key-" + string(rune('a'+i))
	}
	return out
}
