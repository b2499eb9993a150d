package server

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/jukasdrj/zen-mcp-server/internal/provider"
)

// rateLimitedBackend wraps a provider.Backend with a courtesy token-bucket
// limiter, so a misbehaving tool loop can't hammer a vendor faster than the
// operator configured — not an attempt to enforce the vendor's own rate
// limit, which stays the vendor's problem (see SPEC_FULL.md "NON-GOALS").
type rateLimitedBackend struct {
	provider.Backend
	limiter *rate.Limiter
}

func rateLimited(b provider.Backend, rps rate.Limit) provider.Backend {
	return &rateLimitedBackend{Backend: b, limiter: rate.NewLimiter(rps, 1)}
}

func (b *rateLimitedBackend) Generate(ctx context.Context, req provider.GenerateRequest) (*provider.NormalizedResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.Backend.Generate(ctx, req)
}

var _ provider.Backend = (*rateLimitedBackend)(nil)
