package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/envelope"
	"github.com/jukasdrj/zen-mcp-server/internal/provider"
	"github.com/jukasdrj/zen-mcp-server/internal/registry"
	"github.com/jukasdrj/zen-mcp-server/internal/store"
)

// WorkflowState is one node of the plan/investigate/validate step machine
// (spec §4.6).
type WorkflowState string

const (
	StatePlanning      WorkflowState = "PLANNING"
	StateInvestigating WorkflowState = "INVESTIGATING"
	StateValidating    WorkflowState = "VALIDATING"
	StateTerminal      WorkflowState = "TERMINAL"
)

// nextState computes the state a given step transitions to, following the
// transition table in spec §4.6 verbatim: only next_step_required and
// confidence drive state; step_number only distinguishes PLANNING from
// INVESTIGATING on the way in.
func nextState(w envelope.Workflow) WorkflowState {
	if w.NextStepRequired {
		if w.StepNumber == 1 {
			return StatePlanning
		}
		return StateInvestigating
	}
	if w.Confidence == envelope.ConfidenceCertain {
		return StateTerminal
	}
	return StateValidating
}

// ExpertCall describes the optional second provider call made from
// VALIDATING (spec §4.6 "Expert validation").
type ExpertCall struct {
	Model string // canonical model name; "" lets SelectAuto(reasoning) choose
}

// WorkflowResult is the output of one workflow step (spec §4.7 metadata
// fields plus the simple-tool response envelope shape).
type WorkflowResult struct {
	Content        string
	ContinuationID string
	State          WorkflowState
	ExpertInvoked  bool
	ExpertError    string
	Metadata       map[string]any
}

// DefaultFileTokenBudget bounds how many tokens INVESTIGATING may spend on
// embedded file bodies (spec §4.6 "honor token budget, evict oldest first
// if over").
const DefaultFileTokenBudget = 32_000

// WorkflowTool drives the multi-step investigation state machine described
// in spec §4.6. It shares the Registry/Store collaborators with SimpleTool
// but never calls History.BuildHistory: workflow context accumulates in the
// thread's own turns and the step's own file-embedding policy, not via the
// conversational history budget a chat-style tool uses.
type WorkflowTool struct {
	Name         string
	Category     capability.Category
	SystemPrompt string
	Expert       ExpertCall

	// FileTokenBudget bounds INVESTIGATING's file-body embedding; zero uses
	// DefaultFileTokenBudget.
	FileTokenBudget int

	Registry *registry.ProviderRegistry
	Store    *store.Store
}

func (t *WorkflowTool) fileTokenBudget() int {
	if t.FileTokenBudget > 0 {
		return t.FileTokenBudget
	}
	return DefaultFileTokenBudget
}

// Execute advances the workflow by one step. Intermediate provider failures
// are recoverable: the step is not appended, so the caller may retry with
// the same step_number (spec §4.6 "Failure semantics").
func (t *WorkflowTool) Execute(ctx context.Context, w envelope.Workflow) (WorkflowResult, error) {
	if err := w.Validate(); err != nil {
		return WorkflowResult{}, err
	}

	state := nextState(w)
	threadID, isNewThread := t.resolveThread(w)

	embedded := t.embedFiles(state, w, threadID)

	synthesisPrompt := t.composeStepPrompt(w, state, embedded)
	backend, canonical, err := t.resolveBackend(w.Model)
	if err != nil {
		return WorkflowResult{}, err
	}

	resp, err := backend.Generate(ctx, provider.GenerateRequest{
		Messages:     []provider.Message{{Role: "user", Content: synthesisPrompt}},
		Model:        canonical,
		SystemPrompt: t.SystemPrompt,
	})
	if err != nil {
		// Intermediate failure: no turn is appended, caller may retry.
		return WorkflowResult{}, err
	}

	metadata := map[string]any{
		"model_used":  canonical,
		"step_number": w.StepNumber,
		"total_steps": w.TotalSteps,
		"confidence":  string(w.Confidence),
		"state":       string(state),
	}

	content := resp.Content
	expertInvoked := false
	expertErrMsg := ""

	if state == StateValidating {
		expertContent, invoked, expertErr := t.runExpertValidation(ctx, w, embedded, resp.Content)
		expertInvoked = invoked
		if expertErr != nil {
			expertErrMsg = expertErr.Error()
			metadata["expert_error"] = expertErrMsg
		} else if invoked {
			content = resp.Content + "\n\n---\nExpert validation:\n" + expertContent
		}
	}
	metadata["expert_invoked"] = expertInvoked

	if isNewThread {
		th := t.Store.CreateThread(t.Name, map[string]any{"step": w.Step}, "")
		threadID = th.ThreadID
	}
	if err := t.Store.AppendTurn(threadID, store.Turn{
		Role:            "user",
		Content:         w.Step,
		ToolName:        t.Name,
		FilesReferenced: append(append([]string{}, w.FilesChecked...), w.RelevantFiles...),
	}); err != nil {
		return WorkflowResult{}, err
	}
	if err := t.Store.AppendTurn(threadID, store.Turn{
		Role:      "assistant",
		Content:   content,
		ToolName:  t.Name,
		ModelName: canonical,
	}); err != nil {
		return WorkflowResult{}, err
	}

	return WorkflowResult{
		Content:        content,
		ContinuationID: threadID,
		State:          state,
		ExpertInvoked:  expertInvoked,
		ExpertError:    expertErrMsg,
		Metadata:       metadata,
	}, nil
}

// resolveThread decides whether this step continues an existing thread or
// needs a fresh one, without creating it yet — creation is deferred until
// after Generate succeeds, matching the simple tool's "mutate only on
// success" discipline.
func (t *WorkflowTool) resolveThread(w envelope.Workflow) (threadID string, isNew bool) {
	if w.ContinuationID == "" || !store.LooksLikeThreadID(w.ContinuationID) {
		return "", true
	}
	if _, err := t.Store.GetThread(w.ContinuationID); err != nil {
		return "", true
	}
	return w.ContinuationID, false
}

func (t *WorkflowTool) resolveBackend(modelOrAuto string) (provider.Backend, string, error) {
	canonical := modelOrAuto
	if canonical == "auto" {
		var err error
		canonical, err = t.Registry.SelectAuto(t.Category)
		if err != nil {
			return nil, "", err
		}
	}
	backend, resolved, err := t.Registry.Resolve(canonical)
	if err != nil {
		return nil, "", err
	}
	return backend, resolved, nil
}

// embedFiles applies the per-phase file embedding policy from spec §4.6.
func (t *WorkflowTool) embedFiles(state WorkflowState, w envelope.Workflow, threadID string) string {
	switch state {
	case StatePlanning:
		refs := buildFileRefs(w.RelevantFiles)
		var b strings.Builder
		for _, r := range refs {
			fmt.Fprintf(&b, "- %s (%d bytes, %s)\n", r.Path, r.SizeBytes, r.LanguageHint)
		}
		return b.String()

	case StateInvestigating:
		alreadyEmbedded := t.filesEmbeddedSoFar(threadID)
		toEmbed := make([]string, 0, len(w.RelevantFiles))
		for _, f := range w.RelevantFiles {
			if _, ok := alreadyEmbedded[f]; !ok {
				toEmbed = append(toEmbed, f)
			}
		}
		bodies := evictOldestFirst(readFileBodies(toEmbed), t.fileTokenBudget())
		var b strings.Builder
		for _, body := range bodies {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", body.Path, body.Content)
		}
		return b.String()

	case StateValidating:
		bodies := readFileBodies(w.RelevantFiles)
		var b strings.Builder
		fmt.Fprintf(&b, "Findings so far:\n%s\n\n", w.Findings)
		for _, body := range bodies {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", body.Path, body.Content)
		}
		return b.String()

	default:
		return ""
	}
}

// filesEmbeddedSoFar collects every file path referenced in prior turns of
// threadID, so INVESTIGATING steps only embed newly-relevant files.
func (t *WorkflowTool) filesEmbeddedSoFar(threadID string) map[string]struct{} {
	seen := make(map[string]struct{})
	if threadID == "" {
		return seen
	}
	th, err := t.Store.GetThread(threadID)
	if err != nil {
		return seen
	}
	for _, turn := range th.Turns() {
		for _, f := range turn.FilesReferenced {
			seen[f] = struct{}{}
		}
	}
	return seen
}

func (t *WorkflowTool) composeStepPrompt(w envelope.Workflow, state WorkflowState, embedded string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d/%d (%s): %s\n", w.StepNumber, w.TotalSteps, state, w.Step)
	if w.Hypothesis != "" {
		fmt.Fprintf(&b, "Hypothesis: %s\n", w.Hypothesis)
	}
	fmt.Fprintf(&b, "Findings: %s\n", w.Findings)
	if embedded != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", embedded)
	}
	return b.String()
}

// runExpertValidation makes the optional second provider call described in
// spec §4.6. It degrades gracefully: an expert failure never fails the
// step, it's reported in metadata and the non-expert synthesis still wins.
func (t *WorkflowTool) runExpertValidation(ctx context.Context, w envelope.Workflow, trace, synthesis string) (content string, invoked bool, err error) {
	expertModel := t.Expert.Model
	var backend provider.Backend
	var canonical string

	if expertModel == "" {
		canonical, err = t.Registry.SelectAuto(capability.CategoryReasoning)
		if err != nil {
			return "", false, err
		}
	} else {
		canonical = expertModel
	}
	backend, canonical, err = t.Registry.Resolve(canonical)
	if err != nil {
		return "", false, err
	}

	prompt := fmt.Sprintf(
		"Review this investigation and its proposed conclusion. Approve, challenge, or extend it.\n\nTrace:\n%s\n\nFindings:\n%s\n\nProposed synthesis:\n%s",
		trace, w.Findings, synthesis,
	)

	resp, genErr := backend.Generate(ctx, provider.GenerateRequest{
		Messages: []provider.Message{{Role: "user", Content: prompt}},
		Model:    canonical,
	})
	if genErr != nil {
		return "", true, genErr
	}
	return resp.Content, true, nil
}
