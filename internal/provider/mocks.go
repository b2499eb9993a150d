package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
)

// MockBackend is a minimal in-memory Backend for testing the registry,
// dispatcher, and tool bases without a network call.
type MockBackend struct {
	providerType capability.ProviderType
	descriptors  map[string]*capability.Descriptor

	mu        sync.Mutex
	responses map[string]*NormalizedResponse // keyed by model, nil = echo default
	err       error
	calls     int32
	lastReq   GenerateRequest
}

// NewMockBackend constructs a mock serving the given descriptors.
func NewMockBackend(pt capability.ProviderType, descriptors ...*capability.Descriptor) *MockBackend {
	set := make(map[string]*capability.Descriptor, len(descriptors))
	for _, d := range descriptors {
		set[d.ModelName] = d
	}
	return &MockBackend{
		providerType: pt,
		descriptors:  set,
		responses:    make(map[string]*NormalizedResponse),
	}
}

func (m *MockBackend) ProviderType() capability.ProviderType { return m.providerType }

func (m *MockBackend) Descriptors() map[string]*capability.Descriptor { return m.descriptors }

// SetResponse configures a canned NormalizedResponse for a given model.
func (m *MockBackend) SetResponse(model string, resp *NormalizedResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[model] = resp
}

// SetErr makes every subsequent Generate call fail with err.
func (m *MockBackend) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of Generate invocations observed so far.
func (m *MockBackend) Calls() int { return int(atomic.LoadInt32(&m.calls)) }

// LastRequest returns the most recently observed GenerateRequest.
func (m *MockBackend) LastRequest() GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq
}

func (m *MockBackend) Generate(ctx context.Context, req GenerateRequest) (*NormalizedResponse, error) {
	atomic.AddInt32(&m.calls, 1)

	d, ok := m.descriptors[req.Model]
	if !ok {
		return nil, coreerr.NewUnknownModelError(req.Model)
	}
	if err := ValidateRequest(d, req); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, coreerr.NewCancelledError("mock generate cancelled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req

	if m.err != nil {
		return nil, m.err
	}
	if resp, ok := m.responses[req.Model]; ok && resp != nil {
		out := *resp
		return &out, nil
	}

	return &NormalizedResponse{
		Content:      "mock response to: " + lastUserContent(req.Messages),
		FinishReason: "stop",
		InputTokens:  estimateTokens(req.Messages),
		OutputTokens: 16,
		ModelName:    req.Model,
		ProviderType: m.providerType,
	}, nil
}

func (m *MockBackend) Close() error { return nil }

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func estimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}
