// Package tool implements the Tool Base layer (spec §4.5/§4.6, C7/C8): the
// single-shot simple-tool algorithm and the multi-step workflow state
// machine every concrete tool (chat, debug, codereview, ...) is built on.
// The shape — resolve dependencies, hydrate state, call out, mutate state
// only after success — follows the teacher's agent-invocation flow in
// pkg/reasoning (see state.go's builder-pattern state object and its
// iterate-then-commit discipline).
package tool

import (
	"context"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
	"github.com/jukasdrj/zen-mcp-server/internal/envelope"
	"github.com/jukasdrj/zen-mcp-server/internal/history"
	"github.com/jukasdrj/zen-mcp-server/internal/provider"
	"github.com/jukasdrj/zen-mcp-server/internal/registry"
	"github.com/jukasdrj/zen-mcp-server/internal/store"
)

// TokenInfo reports input/output token usage for a single provider call.
type TokenInfo struct {
	Input  int
	Output int
}

// Result is the shared simple-tool output shape (spec §4.5).
type Result struct {
	Content        string
	ContinuationID string
	ModelUsed      string
	Tokens         TokenInfo
	Metadata       map[string]any
}

// DefaultHistoryTokenBudget bounds how much of the context window the
// History Builder may spend before the current turn's own tokens.
const DefaultHistoryTokenBudget = 64_000

// SimpleTool runs the single-shot algorithm described in spec §4.5: resolve
// a model, optionally hydrate history, call the provider once, and record
// the turn pair only on success.
type SimpleTool struct {
	Name         string
	Category     capability.Category
	SystemPrompt string

	Registry *registry.ProviderRegistry
	Store    *store.Store
	History  *history.Builder
}

// Execute runs the simple-tool algorithm against a bound, already-validated
// Base envelope.
func (t *SimpleTool) Execute(ctx context.Context, env envelope.Base) (Result, error) {
	if err := env.Validate(); err != nil {
		return Result{}, err
	}

	backend, canonical, descriptor, err := t.resolveModel(env.Model)
	if err != nil {
		return Result{}, err
	}

	metadata := map[string]any{"model_used": canonical, "provider": string(descriptor.ProviderType)}

	var hydrated history.Built
	threadNotFoundWarning := false
	if env.ContinuationID != "" {
		hydrated, err = t.History.BuildHistory(env.ContinuationID, DefaultHistoryTokenBudget, descriptor)
		if err != nil {
			return Result{}, err
		}
		threadNotFoundWarning = hydrated.ThreadNotFound
	}

	messages := make([]provider.Message, 0, len(hydrated.Messages)+1)
	messages = append(messages, hydrated.Messages...)
	messages = append(messages, provider.Message{Role: "user", Content: env.Prompt})

	req := provider.GenerateRequest{
		Messages:     messages,
		Model:        canonical,
		Temperature:  env.Temperature,
		SystemPrompt: t.SystemPrompt,
		Images:       toProviderImages(env.Images),
		ThinkingMode: provider.ThinkingMode(env.ThinkingMode),
	}

	resp, err := backend.Generate(ctx, req)
	if err != nil {
		return Result{}, err
	}

	threadID, err := t.commitTurns(env, resp, canonical)
	if err != nil {
		return Result{}, err
	}

	if threadNotFoundWarning {
		metadata["warning"] = "continuation_id was valid but unresolved; a new thread was started"
	}

	return Result{
		Content:        resp.Content,
		ContinuationID: threadID,
		ModelUsed:      canonical,
		Tokens:         TokenInfo{Input: resp.InputTokens, Output: resp.OutputTokens},
		Metadata:       metadata,
	}, nil
}

func (t *SimpleTool) resolveModel(modelOrAuto string) (provider.Backend, string, *capability.Descriptor, error) {
	var canonical string
	var err error

	if modelOrAuto == "auto" {
		canonical, err = t.Registry.SelectAuto(t.Category)
		if err != nil {
			return nil, "", nil, err
		}
	} else {
		canonical = modelOrAuto
	}

	backend, resolved, err := t.Registry.Resolve(canonical)
	if err != nil {
		return nil, "", nil, err
	}
	descriptor, ok := t.Registry.Descriptor(resolved)
	if !ok {
		return nil, "", nil, coreerr.NewUnknownModelError(resolved)
	}
	return backend, resolved, descriptor, nil
}

// commitTurns appends the user turn then the assistant turn, creating a
// fresh thread when the envelope carried no continuation_id (spec §4.5
// point 5). Turns are only written after Generate has already succeeded.
func (t *SimpleTool) commitTurns(env envelope.Base, resp *provider.NormalizedResponse, canonical string) (string, error) {
	threadID := env.ContinuationID
	if threadID == "" || !store.LooksLikeThreadID(threadID) {
		th := t.Store.CreateThread(t.Name, map[string]any{"prompt": env.Prompt}, "")
		threadID = th.ThreadID
	} else if _, err := t.Store.GetThread(threadID); err != nil {
		th := t.Store.CreateThread(t.Name, map[string]any{"prompt": env.Prompt}, "")
		threadID = th.ThreadID
	}

	if err := t.Store.AppendTurn(threadID, store.Turn{
		Role:            "user",
		Content:         env.Prompt,
		ToolName:        t.Name,
		FilesReferenced: env.AbsoluteFilePaths,
	}); err != nil {
		return "", err
	}
	if err := t.Store.AppendTurn(threadID, store.Turn{
		Role:      "assistant",
		Content:   resp.Content,
		ToolName:  t.Name,
		ModelName: canonical,
	}); err != nil {
		return "", err
	}
	return threadID, nil
}

func toProviderImages(imgs []envelope.ImageRef) []provider.Image {
	out := make([]provider.Image, 0, len(imgs))
	for _, i := range imgs {
		out = append(out, provider.Image{Path: i.Path, InlineData: i.InlineData, MediaType: i.MediaType})
	}
	return out
}
