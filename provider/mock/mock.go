package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/creditgate"
)

// PNG is the 1x1 image every successful mock call returns.
const PNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

// Generator is a mock image generator for testing.
type Generator struct {
	name         string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	responseFunc func(creditgate.ProviderRequest) (creditgate.ProviderResponse, error)

	mu       sync.Mutex
	requests []creditgate.ProviderRequest
}

var _ creditgate.Generator = (*Generator)(nil)

// Option configures a mock Generator.
type Option func(*Generator)

// New creates a mock generator with the given options.
func New(opts ...Option) *Generator {
	g := &Generator{name: "mock"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithName sets the generator name.
func WithName(name string) Option {
	return func(g *Generator) { g.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(g *Generator) { g.latency = d }
}

// WithFailAfter makes the generator fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(g *Generator) { g.failAfter = n }
}

// WithError makes the generator always return this error.
func WithError(err error) Option {
	return func(g *Generator) { g.staticErr = err }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(creditgate.ProviderRequest) (creditgate.ProviderResponse, error)) Option {
	return func(g *Generator) { g.responseFunc = fn }
}

func (g *Generator) Name() string { return g.name }

func (g *Generator) Generate(ctx context.Context, req creditgate.ProviderRequest) (creditgate.ProviderResponse, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.latency > 0 {
		select {
		case <-time.After(g.latency):
		case <-ctx.Done():
			return creditgate.ProviderResponse{}, ctx.Err()
		}
	}

	count := g.callCount.Add(1)

	if g.staticErr != nil {
		return creditgate.ProviderResponse{}, g.staticErr
	}

	if g.failAfter > 0 && int(count) > g.failAfter {
		return creditgate.ProviderResponse{}, creditgate.ErrProviderUnavailable
	}

	if g.responseFunc != nil {
		return g.responseFunc(req)
	}

	return creditgate.ProviderResponse{
		Media: creditgate.Media{URL: PNG, ContentType: "image/png"},
	}, nil
}

// CallCount returns the number of calls made to the generator.
func (g *Generator) CallCount() int64 { return g.callCount.Load() }

// Requests returns every request received so far.
func (g *Generator) Requests() []creditgate.ProviderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]creditgate.ProviderRequest, len(g.requests))
	copy(out, g.requests)
	return out
}
