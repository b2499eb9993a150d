// Package capability describes the immutable per-model metadata that drives
// provider resolution and auto-mode selection (spec §3 "Capability
// Descriptor", C1). The shape mirrors the teacher's
// pkg/config.LLMProviderConfig in spirit but is kept provider-agnostic and
// immutable once constructed, since §4.1 requires descriptors to be
// declared once at Provider Backend construction.
package capability

import "fmt"

// ProviderType tags the vendor that owns a Descriptor.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGemini    ProviderType = "gemini"
	ProviderOllama    ProviderType = "ollama"
)

// Descriptor is an immutable value object; construct with New and never
// mutate a returned *Descriptor afterwards (callers get copies of slices).
type Descriptor struct {
	ModelName    string // canonical name
	FriendlyName string
	aliases      map[string]struct{} // case-insensitive, populated via New's aliases arg

	ContextWindowTokens int
	MaxOutputTokens     int

	SupportsExtendedThinking bool
	SupportsSystemPrompts    bool
	SupportsStreaming        bool
	SupportsFunctionCalling  bool
	SupportsJSONMode         bool
	SupportsImages           bool
	SupportsTemperature      bool

	MaxImageBytes int

	IntelligenceScore int // 1-20

	AllowCodeGeneration bool

	ProviderType ProviderType
}

// Options groups the New() constructor arguments to keep call sites readable.
type Options struct {
	ModelName    string
	FriendlyName string
	Aliases      []string

	ContextWindowTokens int
	MaxOutputTokens     int

	SupportsExtendedThinking bool
	SupportsSystemPrompts    bool
	SupportsStreaming        bool
	SupportsFunctionCalling  bool
	SupportsJSONMode         bool
	SupportsImages           bool
	SupportsTemperature      bool

	MaxImageBytes int

	IntelligenceScore int

	AllowCodeGeneration bool

	ProviderType ProviderType
}

// New validates and constructs a Descriptor. It enforces the invariants in
// spec §3: max_output_tokens <= context_window_tokens, intelligence_score in
// [1,20], and max_image_bytes=0 when images are unsupported.
func New(opts Options) (*Descriptor, error) {
	if opts.ModelName == "" {
		return nil, fmt.Errorf("capability: model_name is required")
	}
	if opts.ContextWindowTokens <= 0 {
		return nil, fmt.Errorf("capability: context_window_tokens must be positive")
	}
	if opts.MaxOutputTokens <= 0 {
		return nil, fmt.Errorf("capability: max_output_tokens must be positive")
	}
	if opts.MaxOutputTokens > opts.ContextWindowTokens {
		return nil, fmt.Errorf("capability: max_output_tokens (%d) exceeds context_window_tokens (%d)", opts.MaxOutputTokens, opts.ContextWindowTokens)
	}
	if opts.IntelligenceScore < 1 || opts.IntelligenceScore > 20 {
		return nil, fmt.Errorf("capability: intelligence_score must be in [1,20], got %d", opts.IntelligenceScore)
	}
	if !opts.SupportsImages && opts.MaxImageBytes != 0 {
		return nil, fmt.Errorf("capability: max_image_bytes must be 0 when images are unsupported")
	}
	if opts.ProviderType == "" {
		return nil, fmt.Errorf("capability: provider_type is required")
	}

	aliases := make(map[string]struct{}, len(opts.Aliases))
	for _, a := range opts.Aliases {
		if a == "" {
			continue
		}
		aliases[normalize(a)] = struct{}{}
	}

	return &Descriptor{
		ModelName:                opts.ModelName,
		FriendlyName:             opts.FriendlyName,
		aliases:                  aliases,
		ContextWindowTokens:      opts.ContextWindowTokens,
		MaxOutputTokens:          opts.MaxOutputTokens,
		SupportsExtendedThinking: opts.SupportsExtendedThinking,
		SupportsSystemPrompts:    opts.SupportsSystemPrompts,
		SupportsStreaming:        opts.SupportsStreaming,
		SupportsFunctionCalling:  opts.SupportsFunctionCalling,
		SupportsJSONMode:         opts.SupportsJSONMode,
		SupportsImages:           opts.SupportsImages,
		SupportsTemperature:      opts.SupportsTemperature,
		MaxImageBytes:            opts.MaxImageBytes,
		IntelligenceScore:        opts.IntelligenceScore,
		AllowCodeGeneration:      opts.AllowCodeGeneration,
		ProviderType:             opts.ProviderType,
	}, nil
}

// HasAlias reports whether alias (case-insensitive) resolves to this descriptor.
func (d *Descriptor) HasAlias(alias string) bool {
	_, ok := d.aliases[normalize(alias)]
	return ok
}

// Aliases returns a defensive copy of the registered aliases.
func (d *Descriptor) Aliases() []string {
	out := make([]string, 0, len(d.aliases))
	for a := range d.aliases {
		out = append(out, a)
	}
	return out
}

func normalize(s string) string {
	// Simple ASCII lower-casing; model/alias names in practice are ASCII.
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Category is the coarse task class used by auto-mode (spec §4.2, GLOSSARY).
type Category string

const (
	CategoryFast        Category = "fast"
	CategoryReasoning   Category = "reasoning"
	CategoryCoding      Category = "coding"
	CategoryVision      Category = "vision"
	CategoryLongContext Category = "long_context"
	CategoryGeneral     Category = "general"
)

// MeetsCategory reports whether the descriptor has the capability flags a
// category requires (spec §4.2 point 2). Unknown categories require nothing.
func (d *Descriptor) MeetsCategory(cat Category) bool {
	switch cat {
	case CategoryVision:
		return d.SupportsImages
	case CategoryCoding:
		return d.AllowCodeGeneration
	case CategoryLongContext:
		return d.ContextWindowTokens >= 128_000
	case CategoryReasoning:
		return d.SupportsExtendedThinking
	case CategoryFast, CategoryGeneral:
		return true
	default:
		return true
	}
}
