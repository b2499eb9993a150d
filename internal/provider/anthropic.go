package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
)

// AnthropicBackend wraps github.com/anthropics/anthropic-sdk-go, the SDK
// the goadesign-goa-ai pack repo depends on for its own agent runtime; the
// teacher has no native Anthropic adapter (its llms package covers OpenAI,
// Gemini, and Ollama only) so this is grounded on that sibling repo's
// dependency choice plus the teacher's own Backend-construction idiom.
type AnthropicBackend struct {
	client      anthropic.Client
	descriptors map[string]*capability.Descriptor
}

func NewAnthropicBackend(apiKey string, descriptors []*capability.Descriptor) *AnthropicBackend {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	set := make(map[string]*capability.Descriptor, len(descriptors))
	for _, d := range descriptors {
		set[d.ModelName] = d
	}
	return &AnthropicBackend{client: client, descriptors: set}
}

func (b *AnthropicBackend) ProviderType() capability.ProviderType { return capability.ProviderAnthropic }

func (b *AnthropicBackend) Descriptors() map[string]*capability.Descriptor { return b.descriptors }

func (b *AnthropicBackend) Generate(ctx context.Context, req GenerateRequest) (*NormalizedResponse, error) {
	d, ok := b.descriptors[req.Model]
	if !ok {
		return nil, coreerr.NewUnknownModelError(req.Model)
	}
	if err := ValidateRequest(d, req); err != nil {
		return nil, err
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(d.MaxOutputTokens),
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.ThinkingMode != "" && d.SupportsExtendedThinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinkingBudget(req.ThinkingMode, d.MaxOutputTokens))
	}

	msg, err := b.client.Messages.New(ctx, params)
	if ctx.Err() != nil {
		return nil, coreerr.NewCancelledError("anthropic generate cancelled")
	}
	if err != nil {
		return nil, coreerr.NewUpstreamError(fmt.Sprintf("anthropic request failed: %v", err), classifyAnthropicErr(err), err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &NormalizedResponse{
		Content:      text,
		FinishReason: string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		ModelName:    req.Model,
		ProviderType: capability.ProviderAnthropic,
		Raw:          msg,
	}, nil
}

func (b *AnthropicBackend) Close() error { return nil }

func thinkingBudget(mode ThinkingMode, maxOutput int) int64 {
	// Allocate a fraction of the output budget to the thinking block,
	// scaled by the requested depth (spec §3 thinking_mode enum).
	fraction := map[ThinkingMode]float64{
		ThinkingMinimal: 0.1,
		ThinkingLow:     0.2,
		ThinkingMedium:  0.35,
		ThinkingHigh:    0.5,
		ThinkingMax:     0.65,
	}[mode]
	if fraction == 0 {
		fraction = 0.2
	}
	budget := int64(float64(maxOutput) * fraction)
	if budget < 1024 {
		budget = 1024
	}
	return budget
}

func classifyAnthropicErr(err error) bool {
	var apiErr *anthropic.Error
	if e, ok := err.(*anthropic.Error); ok {
		apiErr = e
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
