package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
	"github.com/jukasdrj/zen-mcp-server/internal/provider"
)

// entry binds a canonical model name to the backend that serves it and the
// descriptor describing its capabilities.
type entry struct {
	backend    provider.Backend
	descriptor *capability.Descriptor
}

// RestrictionPolicy reports whether a canonical model name is allowed to be
// selected, for the deployment-level allow/deny lists spec §4.2 C3
// describes (e.g. an operator pinning auto-mode to a model subset).
type RestrictionPolicy interface {
	Allowed(canonicalModel string) bool
}

// AllowAll is the default policy: every registered, available model is
// eligible for auto-mode selection.
type AllowAll struct{}

func (AllowAll) Allowed(string) bool { return true }

// ProviderRegistry resolves model names and aliases to backends, and picks
// a model automatically by category when the caller asks for "auto" mode.
// It wraps BaseRegistry[entry] the way the teacher's LLMRegistry wraps
// BaseRegistry[LLMProvider] in pkg/llms/registry.go, adding the
// case-insensitive alias index and category ranking the spec requires.
type ProviderRegistry struct {
	base *BaseRegistry[entry]

	mu      sync.RWMutex
	aliases map[string]string // normalized alias -> canonical model name
	policy  RestrictionPolicy
}

func New() *ProviderRegistry {
	return &ProviderRegistry{
		base:    NewBaseRegistry[entry](),
		aliases: make(map[string]string),
		policy:  AllowAll{},
	}
}

// SetRestrictionPolicy installs the active restriction policy; nil resets
// to AllowAll.
func (r *ProviderRegistry) SetRestrictionPolicy(policy RestrictionPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if policy == nil {
		policy = AllowAll{}
	}
	r.policy = policy
}

// RegisterBackend registers every descriptor a backend serves under its
// canonical model name, plus every alias the descriptor declares, all
// pointing back at the same backend.
func (r *ProviderRegistry) RegisterBackend(b provider.Backend) error {
	for name, d := range b.Descriptors() {
		if err := r.base.Register(name, entry{backend: b, descriptor: d}); err != nil {
			return err
		}
		r.mu.Lock()
		for alias := range aliasSet(d) {
			r.aliases[normalize(alias)] = name
		}
		r.aliases[normalize(name)] = name
		r.mu.Unlock()
	}
	return nil
}

func aliasSet(d *capability.Descriptor) map[string]struct{} {
	out := make(map[string]struct{}, len(d.Aliases()))
	for _, a := range d.Aliases() {
		out[a] = struct{}{}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Resolve maps a model name or alias to its canonical name and backend.
// Exact canonical-name matches are tried first, then the case-insensitive
// alias index — so a vendor rename that collides with an existing alias
// never silently changes what an exact name lookup returns (invariant 5).
// An explicit selection the restriction policy blocks fails with
// ModelRestricted rather than silently resolving (spec §6 "Restriction
// policy").
func (r *ProviderRegistry) Resolve(modelOrAlias string) (provider.Backend, string, error) {
	if e, ok := r.base.Get(modelOrAlias); ok {
		if !r.allowed(modelOrAlias) {
			return nil, "", coreerr.NewModelRestrictedError(modelOrAlias)
		}
		return e.backend, modelOrAlias, nil
	}

	r.mu.RLock()
	canonical, ok := r.aliases[normalize(modelOrAlias)]
	r.mu.RUnlock()
	if !ok {
		return nil, "", coreerr.NewUnknownModelError(modelOrAlias)
	}

	e, ok := r.base.Get(canonical)
	if !ok {
		return nil, "", coreerr.NewUnknownModelError(modelOrAlias)
	}
	if !r.allowed(canonical) {
		return nil, "", coreerr.NewModelRestrictedError(canonical)
	}
	return e.backend, canonical, nil
}

func (r *ProviderRegistry) allowed(canonicalModel string) bool {
	r.mu.RLock()
	policy := r.policy
	r.mu.RUnlock()
	return policy.Allowed(canonicalModel)
}

// Descriptor returns the capability descriptor for a canonical model name.
func (r *ProviderRegistry) Descriptor(canonicalModel string) (*capability.Descriptor, bool) {
	e, ok := r.base.Get(canonicalModel)
	if !ok {
		return nil, false
	}
	return e.descriptor, true
}

// ListAvailable returns every canonical model name currently registered,
// sorted for deterministic catalog output.
func (r *ProviderRegistry) ListAvailable() []string {
	entries := r.base.List()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.descriptor.ModelName)
	}
	sort.Strings(names)
	return names
}

// SelectAuto picks the best canonical model name for a category: eligible
// models are those registered, allowed by the restriction policy, and
// meeting the category's capability flags (invariant 6). Ties break on
// intelligence score desc, then context window desc, then canonical name
// ascending, so selection is fully deterministic.
func (r *ProviderRegistry) SelectAuto(cat capability.Category) (string, error) {
	entries := r.base.List()

	eligible := make([]*capability.Descriptor, 0, len(entries))
	for _, e := range entries {
		if !e.descriptor.MeetsCategory(cat) {
			continue
		}
		if !r.allowed(e.descriptor.ModelName) {
			continue
		}
		eligible = append(eligible, e.descriptor)
	}
	if len(eligible) == 0 {
		return "", coreerr.NewNoEligibleModelError(string(cat))
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.IntelligenceScore != b.IntelligenceScore {
			return a.IntelligenceScore > b.IntelligenceScore
		}
		if a.ContextWindowTokens != b.ContextWindowTokens {
			return a.ContextWindowTokens > b.ContextWindowTokens
		}
		return a.ModelName < b.ModelName
	})

	return eligible[0].ModelName, nil
}

// Count returns the number of canonical models registered.
func (r *ProviderRegistry) Count() int { return r.base.Count() }

// CatalogEntry is the client-facing view of one registered model: its
// canonical name, every alias it resolves from, and the capability subset a
// client ranking candidates client-side needs without calling SelectAuto
// itself (spec §6 "Model catalog interface").
type CatalogEntry struct {
	CanonicalName       string   `json:"canonical_name"`
	Aliases             []string `json:"aliases"`
	Provider            string   `json:"provider"`
	IntelligenceScore   int      `json:"intelligence_score"`
	ContextWindowTokens int      `json:"context_window_tokens"`

	SupportsImages           bool `json:"supports_images"`
	SupportsExtendedThinking bool `json:"supports_extended_thinking"`
	SupportsFunctionCalling  bool `json:"supports_function_calling"`
	SupportsStreaming        bool `json:"supports_streaming"`
}

// Catalog returns every registered model's canonical name, aliases, and
// capability subset, sorted by canonical name for deterministic output
// (spec §6 "Model catalog interface").
func (r *ProviderRegistry) Catalog() []CatalogEntry {
	entries := r.base.List()
	out := make([]CatalogEntry, 0, len(entries))
	for _, e := range entries {
		d := e.descriptor
		aliases := d.Aliases()
		sort.Strings(aliases)
		out = append(out, CatalogEntry{
			CanonicalName:            d.ModelName,
			Aliases:                  aliases,
			Provider:                 string(d.ProviderType),
			IntelligenceScore:        d.IntelligenceScore,
			ContextWindowTokens:      d.ContextWindowTokens,
			SupportsImages:           d.SupportsImages,
			SupportsExtendedThinking: d.SupportsExtendedThinking,
			SupportsFunctionCalling:  d.SupportsFunctionCalling,
			SupportsStreaming:        d.SupportsStreaming,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalName < out[j].CanonicalName })
	return out
}
