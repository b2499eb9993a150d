package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/provider"
)

func TestRateLimitedBackend_DelaysCallsBeyondBurst(t *testing.T) {
	descriptor, err := capability.New(capability.Options{
		ModelName: "mock-model", ContextWindowTokens: 1000, MaxOutputTokens: 100,
		IntelligenceScore: 10, ProviderType: capability.ProviderOllama,
	})
	require.NoError(t, err)

	mock := provider.NewMockBackend(capability.ProviderOllama, descriptor)
	limited := rateLimited(mock, rate.Limit(1000)) // fast enough not to flake, slow enough to exercise Wait

	req := provider.GenerateRequest{Model: "mock-model", Messages: []provider.Message{{Role: "user", Content: "hi"}}}

	_, err = limited.Generate(context.Background(), req)
	require.NoError(t, err)
	_, err = limited.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, mock.Calls())
}

func TestRateLimitedBackend_RespectsContextCancellation(t *testing.T) {
	descriptor, err := capability.New(capability.Options{
		ModelName: "mock-model", ContextWindowTokens: 1000, MaxOutputTokens: 100,
		IntelligenceScore: 10, ProviderType: capability.ProviderOllama,
	})
	require.NoError(t, err)

	mock := provider.NewMockBackend(capability.ProviderOllama, descriptor)
	limited := rateLimited(mock, rate.Limit(0.001)) // effectively never refills within the test

	req := provider.GenerateRequest{Model: "mock-model", Messages: []provider.Message{{Role: "user", Content: "hi"}}}

	_, err = limited.Generate(context.Background(), req) // consumes the initial burst token
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.Generate(ctx, req) // token exhausted, refill is effectively never within the deadline
	require.Error(t, err)
	assert.Equal(t, 1, mock.Calls())
}

var _ provider.Backend = (*rateLimitedBackend)(nil)
