package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
)

// OpenAIBackend wraps github.com/openai/openai-go, the same SDK
// taipm-go-deep-agent and goadesign-goa-ai depend on; the teacher's own
// pkg/llms/openai.go instead hand-rolls the Responses API over net/http,
// but the official client lets us drop that bespoke transport layer.
type OpenAIBackend struct {
	client      openai.Client
	descriptors map[string]*capability.Descriptor
}

// NewOpenAIBackend constructs a backend from an API key and descriptor set.
func NewOpenAIBackend(apiKey string, descriptors []*capability.Descriptor) *OpenAIBackend {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	set := make(map[string]*capability.Descriptor, len(descriptors))
	for _, d := range descriptors {
		set[d.ModelName] = d
	}
	return &OpenAIBackend{client: client, descriptors: set}
}

func (b *OpenAIBackend) ProviderType() capability.ProviderType { return capability.ProviderOpenAI }

func (b *OpenAIBackend) Descriptors() map[string]*capability.Descriptor { return b.descriptors }

func (b *OpenAIBackend) Generate(ctx context.Context, req GenerateRequest) (*NormalizedResponse, error) {
	d, ok := b.descriptors[req.Model]
	if !ok {
		return nil, coreerr.NewUnknownModelError(req.Model)
	}
	if err := ValidateRequest(d, req); err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: openai.Int(int64(d.MaxOutputTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	completion, err := b.client.Chat.Completions.New(ctx, params)
	if ctx.Err() != nil {
		return nil, coreerr.NewCancelledError("openai generate cancelled")
	}
	if err != nil {
		return nil, coreerr.NewUpstreamError(fmt.Sprintf("openai request failed: %v", err), classifyOpenAIErr(err), err)
	}
	if len(completion.Choices) == 0 {
		return nil, coreerr.NewUpstreamError("openai returned no choices", false, nil)
	}

	choice := completion.Choices[0]
	return &NormalizedResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		ModelName:    req.Model,
		ProviderType: capability.ProviderOpenAI,
		Raw:          completion,
	}, nil
}

func (b *OpenAIBackend) Close() error { return nil }

// classifyOpenAIErr inspects the SDK's typed *openai.Error for a status
// code; 429/5xx are retryable per spec §4.1.
func classifyOpenAIErr(err error) bool {
	var apiErr *openai.Error
	if asOpenAIError(err, &apiErr) {
		code := apiErr.StatusCode
		return code == 429 || code >= 500
	}
	return false
}

func asOpenAIError(err error, target **openai.Error) bool {
	if e, ok := err.(*openai.Error); ok {
		*target = e
		return true
	}
	return false
}
