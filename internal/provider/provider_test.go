package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
)

func testDescriptor(t *testing.T, mutate func(*capability.Options)) *capability.Descriptor {
	t.Helper()
	opts := capability.Options{
		ModelName:               "gemini-2.5-pro",
		ContextWindowTokens:     1_000_000,
		MaxOutputTokens:         65_536,
		SupportsImages:          true,
		MaxImageBytes:           1024,
		SupportsTemperature:     true,
		SupportsFunctionCalling: true,
		SupportsSystemPrompts:   true,
		SupportsStreaming:       true,
		IntelligenceScore:       18,
		ProviderType:            capability.ProviderGemini,
	}
	if mutate != nil {
		mutate(&opts)
	}
	d, err := capability.New(opts)
	require.NoError(t, err)
	return d
}

func TestValidateRequest_RejectsUnsupportedImages(t *testing.T) {
	d := testDescriptor(t, func(o *capability.Options) {
		o.SupportsImages = false
		o.MaxImageBytes = 0
	})
	err := ValidateRequest(d, GenerateRequest{Model: d.ModelName, Images: []Image{{InlineData: []byte("x")}}})
	require.Error(t, err)
	kind, ok := coreerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.KindFeatureUnsupported, kind)
}

func TestValidateRequest_RejectsOversizedImage(t *testing.T) {
	d := testDescriptor(t, nil)
	big := make([]byte, d.MaxImageBytes+1)
	err := ValidateRequest(d, GenerateRequest{Model: d.ModelName, Images: []Image{{InlineData: big}}})
	require.Error(t, err)
}

func TestValidateRequest_AcceptsWellFormedRequest(t *testing.T) {
	d := testDescriptor(t, nil)
	temp := 0.7
	err := ValidateRequest(d, GenerateRequest{
		Model:        d.ModelName,
		Temperature:  &temp,
		SystemPrompt: "be terse",
	})
	require.NoError(t, err)
}

func TestMockBackend_GenerateEchoesAndCountsCalls(t *testing.T) {
	d := testDescriptor(t, nil)
	backend := NewMockBackend(capability.ProviderGemini, d)

	resp, err := backend.Generate(context.Background(), GenerateRequest{
		Model:    d.ModelName,
		Messages: []Message{{Role: "user", Content: "2+2=?"}},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "2+2=?")
	assert.Equal(t, 1, backend.Calls())
}

func TestMockBackend_RejectsUnknownModel(t *testing.T) {
	d := testDescriptor(t, nil)
	backend := NewMockBackend(capability.ProviderGemini, d)

	_, err := backend.Generate(context.Background(), GenerateRequest{Model: "not-registered"})
	require.Error(t, err)
	kind, ok := coreerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.KindUnknownModel, kind)
}

func TestMockBackend_HonorsCancelledContext(t *testing.T) {
	d := testDescriptor(t, nil)
	backend := NewMockBackend(capability.ProviderGemini, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := backend.Generate(ctx, GenerateRequest{Model: d.ModelName})
	require.Error(t, err)
	kind, ok := coreerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.KindCancelled, kind)
}
