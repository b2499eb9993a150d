package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
)

// GeminiBackend wraps google.golang.org/genai, the client library the
// teacher's own go.mod depends on (pkg/llms/gemini.go hand-rolls the REST
// call instead; this adapter prefers the official SDK per the "use as many
// third-party deps as possible" mandate).
type GeminiBackend struct {
	client      *genai.Client
	descriptors map[string]*capability.Descriptor
}

// NewGeminiBackend constructs a backend from an API key and descriptor set.
func NewGeminiBackend(ctx context.Context, apiKey string, descriptors []*capability.Descriptor) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to construct client: %w", err)
	}

	set := make(map[string]*capability.Descriptor, len(descriptors))
	for _, d := range descriptors {
		set[d.ModelName] = d
	}
	return &GeminiBackend{client: client, descriptors: set}, nil
}

func (b *GeminiBackend) ProviderType() capability.ProviderType { return capability.ProviderGemini }

func (b *GeminiBackend) Descriptors() map[string]*capability.Descriptor { return b.descriptors }

func (b *GeminiBackend) Generate(ctx context.Context, req GenerateRequest) (*NormalizedResponse, error) {
	d, ok := b.descriptors[req.Model]
	if !ok {
		return nil, coreerr.NewUnknownModelError(req.Model)
	}
	if err := ValidateRequest(d, req); err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.ThinkingMode != "" && d.SupportsExtendedThinking {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	result, err := b.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if ctx.Err() != nil {
		return nil, coreerr.NewCancelledError("gemini generate cancelled")
	}
	if err != nil {
		return nil, coreerr.NewUpstreamError(fmt.Sprintf("gemini request failed: %v", err), classifyGeminiErr(err), err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return nil, coreerr.NewUpstreamError("gemini returned no candidates", false, nil)
	}

	text := result.Text()
	finish := ""
	if len(result.Candidates) > 0 {
		finish = string(result.Candidates[0].FinishReason)
	}

	inputTokens, outputTokens := 0, 0
	if result.UsageMetadata != nil {
		inputTokens = int(result.UsageMetadata.PromptTokenCount)
		outputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}

	return &NormalizedResponse{
		Content:      text,
		FinishReason: finish,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		ModelName:    req.Model,
		ProviderType: capability.ProviderGemini,
		Raw:          result,
	}, nil
}

func (b *GeminiBackend) Close() error { return nil }

// classifyGeminiErr makes a best-effort retryable classification: the genai
// SDK surfaces upstream HTTP failures via an *apierror.APIError-shaped
// error; without network access we classify conservatively by message
// content, matching spec §4.1's 429/5xx-retryable rule.
func classifyGeminiErr(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"429", "500", "502", "503", "504", "RESOURCE_EXHAUSTED", "UNAVAILABLE"} {
		if contains(msg, marker) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
