// Package history implements the History Builder (spec §3/§4.2, C5): it
// turns a thread's recorded turns into the message list and embedded-file
// set a tool sends upstream, honoring a token budget. There is no direct
// teacher analogue (hector's session package walks events but never
// token-budgets or dedups file references), so the walk/reorder shape
// follows the teacher's memoryEvents.All iterator style in
// pkg/session/session.go while the budgeting math is new, grounded on the
// pkg/model.Usage token-accounting fields the provider layer already uses.
package history

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
	"github.com/jukasdrj/zen-mcp-server/internal/provider"
	"github.com/jukasdrj/zen-mcp-server/internal/store"
)

// SafetyMarginTokens is subtracted from the effective budget to leave
// headroom for the system prompt and tool-specific scaffolding (spec §4.2
// point 3).
const SafetyMarginTokens = 1024

// encodingName is the tiktoken encoding used for estimating tokens; it's an
// approximation shared across vendors since an exact per-model tokenizer
// isn't available for all of them.
const encodingName = "cl100k_base"

// Built is the result of BuildHistory: the reconstructed message list ready
// to prepend to a new turn, the set of files already embedded somewhere in
// history (newest occurrence wins), and how many tokens the result consumed.
type Built struct {
	Messages       []provider.Message
	EmbeddedFiles  []string
	TokensUsed     int
	ThreadNotFound bool // set when threadID does not resolve to a live thread, malformed IDs included (spec §7 ThreadNotFound downgrade)
}

// Builder assembles conversation history from a Store.
type Builder struct {
	store *store.Store
	enc   *tiktoken.Tiktoken
}

func NewBuilder(s *store.Store) (*Builder, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, coreerr.NewInternalError("history-builder-init", err)
	}
	return &Builder{store: s, enc: enc}, nil
}

func (b *Builder) countTokens(s string) int {
	return len(b.enc.Encode(s, nil, nil))
}

// BuildHistory reconstructs a bounded message history for threadID. A
// missing thread is reported as empty history rather than an error, since
// continuation_id is best-effort by design (spec §4.2 point 4 / open
// question resolution in DESIGN.md).
func (b *Builder) BuildHistory(threadID string, tokenBudget int, model *capability.Descriptor) (Built, error) {
	th, err := b.store.GetThread(threadID)
	if err != nil {
		return Built{ThreadNotFound: true}, nil
	}

	effectiveBudget := tokenBudget
	if model != nil {
		modelCeiling := model.ContextWindowTokens - model.MaxOutputTokens - SafetyMarginTokens
		if modelCeiling < effectiveBudget {
			effectiveBudget = modelCeiling
		}
	}
	if effectiveBudget < 0 {
		effectiveBudget = 0
	}

	turns := th.Turns()

	seenFiles := make(map[string]struct{})
	embeddedFiles := make([]string, 0)
	selected := make([]store.Turn, 0, len(turns))

	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		cost := b.countTokens(turn.Content)

		newFiles := make([]string, 0)
		for _, f := range turn.FilesReferenced {
			if _, dup := seenFiles[f]; !dup {
				newFiles = append(newFiles, f)
			}
		}

		if used+cost > effectiveBudget && len(selected) > 0 {
			break
		}

		selected = append(selected, turn)
		used += cost
		for _, f := range newFiles {
			seenFiles[f] = struct{}{}
			embeddedFiles = append(embeddedFiles, f)
		}
	}

	messages := make([]provider.Message, 0, len(selected))
	for i := len(selected) - 1; i >= 0; i-- {
		t := selected[i]
		messages = append(messages, provider.Message{Role: t.Role, Content: t.Content})
	}

	return Built{Messages: messages, EmbeddedFiles: embeddedFiles, TokensUsed: used}, nil
}
