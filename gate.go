package creditgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultModel is the image model requested when none is configured.
const DefaultModel = "gemini-2.0-flash-preview-image-generation"

// Gate admits generation requests against a user's entitlement, invokes the
// generator with the user's credential and charges credits on success.
type Gate struct {
	ents      *Entitlements
	pool      *KeyPool
	gen       Generator
	health    *HealthTracker
	model     string
	maxImages int
	meter     Meter
	logger    *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithModel sets the model passed to the generator.
func WithModel(model string) GateOption {
	return func(g *Gate) { g.model = model }
}

// WithMaxImages sets the per-request image limit.
func WithMaxImages(n int) GateOption {
	return func(g *Gate) { g.maxImages = n }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) GateOption {
	return func(g *Gate) { g.health = h }
}

// GenerateResult is the outcome of an admitted and charged request.
type GenerateResult struct {
	GenerationID string  `json:"generation_id"`
	Images       []Media `json:"images"`
	Cost         int64   `json:"cost"`
	Slot         int     `json:"slot"`
	Fallback     bool    `json:"fallback"`
	Generator    string  `json:"generator"`
	Model        string  `json:"model"`
}

// NewGate creates a Gate. The meter and logger are shared with ents.
func NewGate(ents *Entitlements, pool *KeyPool, gen Generator, opts ...GateOption) (*Gate, error) {
	if ents == nil {
		return nil, fmt.Errorf("creditgate: entitlements are required")
	}
	if pool == nil {
		return nil, fmt.Errorf("creditgate: key pool is required")
	}
	if gen == nil {
		return nil, fmt.Errorf("creditgate: generator is required")
	}

	g := &Gate{
		ents:   ents,
		pool:   pool,
		gen:    gen,
		health: NewHealthTracker(),
		meter:  ents.meter,
		logger: ents.logger,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.model == "" {
		g.model = DefaultModel
	}
	if g.maxImages <= 0 {
		g.maxImages = DefaultMaxImages
	}
	return g, nil
}

// Entitlements returns the entitlement service behind the gate.
func (g *Gate) Entitlements() *Entitlements { return g.ents }

// Generate checks quota, resolves the user's credential, produces
// NumberOfImages images and charges one credit per image. A failed
// generation is not charged.
func (g *Gate) Generate(ctx context.Context, userID string, req GenerateRequest) (GenerateResult, error) {
	req, err := normalizeRequest(req, g.maxImages)
	if err != nil {
		return GenerateResult{}, err
	}
	prompt, err := BuildPrompt(req)
	if err != nil {
		return GenerateResult{}, err
	}
	cost := int64(req.NumberOfImages)

	rec, err := g.ents.Read(ctx, userID)
	if err != nil {
		return GenerateResult{}, err
	}

	id := uuid.New().String()
	result := ResultEvent{
		GenerationID: id,
		UserID:       userID,
		Plan:         rec.Plan,
		Cost:         cost,
		Generator:    g.gen.Name(),
		Model:        g.model,
	}

	if err := g.checkQuota(rec, cost); err != nil {
		result.Error = err
		g.meter.OnResult(result)
		return GenerateResult{}, err
	}

	cred := g.credential(rec.KeySlot)
	result.Slot, result.Fallback = cred.Slot, cred.Fallback
	if !cred.Configured() {
		g.logger.Error("no credential configured",
			"user", userID,
			"key_slot", rec.KeySlot,
			"pool_size", g.pool.Size(),
		)
		result.Error = ErrNoCredentialConfigured
		g.meter.OnResult(result)
		return GenerateResult{}, &GateError{
			Err:       ErrNoCredentialConfigured,
			UserID:    userID,
			Slot:      cred.Slot,
			Fallback:  cred.Fallback,
			Generator: g.gen.Name(),
		}
	}

	g.meter.OnAdmit(AdmitEvent{
		GenerationID: id,
		UserID:       userID,
		Plan:         rec.Plan,
		Slot:         cred.Slot,
		Fallback:     cred.Fallback,
		Cost:         cost,
		Generator:    g.gen.Name(),
		Model:        g.model,
	})

	start := time.Now()
	images, err := g.fanOut(ctx, ProviderRequest{
		Credential:  cred.Value,
		Model:       g.model,
		Prompt:      prompt,
		AspectRatio: req.AspectRatio,
	}, req.NumberOfImages)
	result.Duration = time.Since(start)

	if err != nil {
		g.health.RecordFailure(cred.Slot)
		result.Error = err
		g.meter.OnResult(result)
		return GenerateResult{}, &GateError{
			Err:       err,
			UserID:    userID,
			Slot:      cred.Slot,
			Fallback:  cred.Fallback,
			Generator: g.gen.Name(),
		}
	}
	g.health.RecordSuccess(cred.Slot)

	result.Success = true
	result.Images = len(images)

	// The images exist whether or not the charge lands.
	if err := g.ents.Decrement(context.WithoutCancel(ctx), userID, cost); err != nil {
		g.logger.Error("charging credits failed after successful generation",
			"user", userID,
			"generation_id", id,
			"cost", cost,
			"error", err,
		)
		result.Error = err
	} else {
		result.Charged = true
	}
	g.meter.OnResult(result)

	return GenerateResult{
		GenerationID: id,
		Images:       images,
		Cost:         cost,
		Slot:         cred.Slot,
		Fallback:     cred.Fallback,
		Generator:    g.gen.Name(),
		Model:        g.model,
	}, nil
}

// checkQuota rejects a request the record cannot pay for. Monthly is checked
// before daily. Plans with an Unbounded monthly allowance skip both checks.
func (g *Gate) checkQuota(rec Record, cost int64) error {
	if g.ents.catalog.AllowancesFor(rec.Plan).Unlimited() {
		return nil
	}
	if rec.MonthlyCredits < cost {
		return ErrInsufficientMonthlyCredits
	}
	if rec.DailyCredits < cost {
		return ErrInsufficientDailyCredits
	}
	return nil
}

// credential resolves the user's slot, switching to the fallback while the
// slot's credential is tripped.
func (g *Gate) credential(slot int) Credential {
	cred := g.pool.Resolve(slot)
	if cred.Fallback || g.health.GetHealth(cred.Slot) != HealthUnhealthy {
		return cred
	}
	fb := g.pool.Fallback()
	if !fb.Configured() {
		return cred
	}
	g.logger.Warn("credential unhealthy, using fallback", "slot", cred.Slot)
	return fb
}

// fanOut runs n generations concurrently. The first failure cancels the rest.
func (g *Gate) fanOut(ctx context.Context, req ProviderRequest, n int) ([]Media, error) {
	images := make([]Media, n)
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range n {
		eg.Go(func() error {
			resp, err := g.gen.Generate(egCtx, req)
			if err != nil {
				return err
			}
			if resp.Media.URL == "" {
				return fmt.Errorf("%w: generator returned no image", ErrProviderUnavailable)
			}
			images[i] = resp.Media
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return images, nil
}
