package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
	"github.com/jukasdrj/zen-mcp-server/internal/httpclient"
)

// OllamaBackend talks to a local/self-hosted Ollama server over its REST
// chat API. Grounded directly on the teacher's pkg/llms/ollama.go request
// shape (OllamaRequest/OllamaMessage); Ollama has no official Go SDK so the
// teacher itself hand-rolls the JSON wire format over net/http.
type OllamaBackend struct {
	baseURL     string
	httpClient  *httpclient.Client
	descriptors map[string]*capability.Descriptor
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaChatResponse struct {
	Model              string        `json:"model"`
	Message            ollamaMessage `json:"message"`
	Done               bool          `json:"done"`
	DoneReason         string        `json:"done_reason"`
	PromptEvalCount    int           `json:"prompt_eval_count"`
	EvalCount          int           `json:"eval_count"`
}

// NewOllamaBackend constructs a backend serving the given descriptor set
// against an Ollama instance at baseURL (e.g. "http://localhost:11434").
func NewOllamaBackend(baseURL string, descriptors []*capability.Descriptor) *OllamaBackend {
	set := make(map[string]*capability.Descriptor, len(descriptors))
	for _, d := range descriptors {
		set[d.ModelName] = d
	}
	return &OllamaBackend{
		baseURL: baseURL,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 300 * time.Second}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(time.Second),
		),
		descriptors: set,
	}
}

func (b *OllamaBackend) ProviderType() capability.ProviderType { return capability.ProviderOllama }

func (b *OllamaBackend) Descriptors() map[string]*capability.Descriptor { return b.descriptors }

func (b *OllamaBackend) Generate(ctx context.Context, req GenerateRequest) (*NormalizedResponse, error) {
	d, ok := b.descriptors[req.Model]
	if !ok {
		return nil, coreerr.NewUnknownModelError(req.Model)
	}
	if err := ValidateRequest(d, req); err != nil {
		return nil, err
	}

	messages := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
	}
	if req.Temperature != nil {
		body.Options.Temperature = *req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, coreerr.NewUpstreamError("failed to encode ollama request", false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, coreerr.NewUpstreamError("failed to build ollama request", false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if ctx.Err() != nil {
		return nil, coreerr.NewCancelledError("ollama generate cancelled")
	}
	if err != nil {
		var re *httpclient.RetryableError
		retryable := true
		if asRetryable(err, &re) {
			retryable = re.IsRetryable()
		}
		return nil, coreerr.NewUpstreamError(fmt.Sprintf("ollama request failed: %v", err), retryable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerr.NewUpstreamError("failed to read ollama response", true, err)
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, coreerr.NewUpstreamError("failed to decode ollama response", false, err)
	}

	return &NormalizedResponse{
		Content:      out.Message.Content,
		FinishReason: out.DoneReason,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
		ModelName:    req.Model,
		ProviderType: capability.ProviderOllama,
		Raw:          out,
	}, nil
}

func (b *OllamaBackend) Close() error { return nil }

func asRetryable(err error, target **httpclient.RetryableError) bool {
	if re, ok := err.(*httpclient.RetryableError); ok {
		*target = re
		return true
	}
	return false
}
