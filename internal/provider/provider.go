// Package provider defines the Provider Backend contract (spec §3/§4.1,
// C2) and the wire-neutral message/response types every vendor adapter
// normalizes to and from. The Message/ToolDefinition shapes are grounded on
// the teacher's pkg/llms/types.go "universal format" comment; NormalizedResponse
// is new, since the teacher returns (text, toolCalls, tokens, thinking, err)
// as separate return values rather than a struct — the spec requires a
// single normalized value.
package provider

import (
	"context"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
)

// Message is one turn of provider-bound conversation.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// ToolDefinition is a function/tool the model may call, described as JSON Schema.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Image is an inline or referenced image attachment.
type Image struct {
	Path       string // absolute path, mutually exclusive with InlineData
	InlineData []byte
	MediaType  string
}

// ThinkingMode maps to spec §3's enum on the Request Envelope.
type ThinkingMode string

const (
	ThinkingMinimal ThinkingMode = "minimal"
	ThinkingLow     ThinkingMode = "low"
	ThinkingMedium  ThinkingMode = "medium"
	ThinkingHigh    ThinkingMode = "high"
	ThinkingMax     ThinkingMode = "max"
)

// GenerateRequest bundles the arguments to Backend.Generate (spec §4.1).
type GenerateRequest struct {
	Messages     []Message
	Model        string // canonical model name, already resolved
	Temperature  *float64
	SystemPrompt string
	Tools        []ToolDefinition
	Images       []Image
	ThinkingMode ThinkingMode
	Stream       bool
}

// NormalizedResponse is the vendor-agnostic shape every Backend returns
// (spec §3 "NormalizedResponse").
type NormalizedResponse struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	ModelName    string
	ProviderType capability.ProviderType
	Raw          any
}

// Backend is one vendor's Provider Backend (spec §4.1, C2). Implementations
// own their descriptor set, credentials, and a reusable transport session.
type Backend interface {
	// ProviderType identifies the vendor for registry bookkeeping.
	ProviderType() capability.ProviderType

	// Descriptors returns the immutable capability set this backend serves,
	// keyed by canonical model name.
	Descriptors() map[string]*capability.Descriptor

	// Generate performs the sole side-effectful operation (spec §4.1).
	// Implementations MUST reject any model not in Descriptors(), MUST
	// reject requests using an unsupported feature, and MUST classify
	// transport failures as retryable/non-retryable per §4.1.
	Generate(ctx context.Context, req GenerateRequest) (*NormalizedResponse, error)

	// Close releases the transport session (scoped resource, spec §3).
	Close() error
}

// ValidateRequest checks a GenerateRequest against a resolved descriptor and
// returns a *coreerr.CoreError (FeatureUnsupported/ModelNotSupported-shaped)
// on violation. Every concrete Backend should call this before making the
// upstream call, so the §4.1 contract is enforced uniformly.
func ValidateRequest(d *capability.Descriptor, req GenerateRequest) error {
	if d.ModelName != req.Model {
		return coreerr.NewUnknownModelError(req.Model)
	}
	if len(req.Images) > 0 && !d.SupportsImages {
		return coreerr.NewFeatureUnsupportedError(req.Model, "images")
	}
	if req.Temperature != nil && !d.SupportsTemperature {
		return coreerr.NewFeatureUnsupportedError(req.Model, "temperature")
	}
	if len(req.Tools) > 0 && !d.SupportsFunctionCalling {
		return coreerr.NewFeatureUnsupportedError(req.Model, "function_calling")
	}
	if req.SystemPrompt != "" && !d.SupportsSystemPrompts {
		return coreerr.NewFeatureUnsupportedError(req.Model, "system_prompts")
	}
	if req.Stream && !d.SupportsStreaming {
		return coreerr.NewFeatureUnsupportedError(req.Model, "streaming")
	}
	for _, img := range req.Images {
		if d.MaxImageBytes > 0 && len(img.InlineData) > d.MaxImageBytes {
			return coreerr.NewFeatureUnsupportedError(req.Model, "image_size")
		}
	}
	return nil
}
