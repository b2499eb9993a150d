package server

import "strings"

// allowDenyPolicy implements registry.RestrictionPolicy from a config's
// allow/deny lists: a denied model is never eligible; when an allow list is
// present a model must also appear in it (spec §4.2 point 2 "restriction
// policy").
type allowDenyPolicy struct {
	allowed map[string]struct{} // nil means "no allow list configured"
	denied  map[string]struct{}
}

func newAllowDenyPolicy(allowed, denied []string) allowDenyPolicy {
	p := allowDenyPolicy{denied: toSet(denied)}
	if len(allowed) > 0 {
		p.allowed = toSet(allowed)
	}
	return p
}

func (p allowDenyPolicy) Allowed(canonicalModel string) bool {
	key := strings.ToLower(canonicalModel)
	if _, denied := p.denied[key]; denied {
		return false
	}
	if p.allowed == nil {
		return true
	}
	_, ok := p.allowed[key]
	return ok
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = struct{}{}
	}
	return out
}
