package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/envelope"
	"github.com/jukasdrj/zen-mcp-server/internal/history"
	"github.com/jukasdrj/zen-mcp-server/internal/provider"
	"github.com/jukasdrj/zen-mcp-server/internal/registry"
	"github.com/jukasdrj/zen-mcp-server/internal/store"
)

func newSimpleToolFixture(t *testing.T) (*SimpleTool, *provider.MockBackend, *capability.Descriptor) {
	t.Helper()
	d, err := capability.New(capability.Options{
		ModelName:             "mock-model",
		ContextWindowTokens:   100_000,
		MaxOutputTokens:       8_000,
		IntelligenceScore:     12,
		SupportsTemperature:   true,
		SupportsSystemPrompts: true,
		ProviderType:          capability.ProviderGemini,
	})
	require.NoError(t, err)

	backend := provider.NewMockBackend(capability.ProviderGemini, d)
	r := registry.New()
	require.NoError(t, r.RegisterBackend(backend))

	s := store.New()
	hb, err := history.NewBuilder(s)
	require.NoError(t, err)

	st := &SimpleTool{
		Name:         "chat",
		Category:     capability.CategoryGeneral,
		SystemPrompt: "be terse",
		Registry:     r,
		Store:        s,
		History:      hb,
	}
	return st, backend, d
}

func TestSimpleTool_ExecuteCreatesNewThreadWhenNoContinuation(t *testing.T) {
	st, _, _ := newSimpleToolFixture(t)

	result, err := st.Execute(context.Background(), envelope.Base{
		Prompt:                       "2+2=?",
		Model:                        "mock-model",
		WorkingDirectoryAbsolutePath: "/tmp",
	})
	require.NoError(t, err)
	assert.True(t, store.LooksLikeThreadID(result.ContinuationID))
	assert.Equal(t, "mock-model", result.ModelUsed)
	assert.Contains(t, result.Content, "2+2=?")
	assert.Equal(t, 1, st.Store.Count())
}

func TestSimpleTool_ExecuteAppendsToExistingThread(t *testing.T) {
	st, _, _ := newSimpleToolFixture(t)

	first, err := st.Execute(context.Background(), envelope.Base{
		Prompt: "remember 7", Model: "mock-model", WorkingDirectoryAbsolutePath: "/tmp",
	})
	require.NoError(t, err)

	second, err := st.Execute(context.Background(), envelope.Base{
		Prompt: "what number?", Model: "mock-model", WorkingDirectoryAbsolutePath: "/tmp",
		ContinuationID: first.ContinuationID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ContinuationID, second.ContinuationID)

	th, err := st.Store.GetThread(first.ContinuationID)
	require.NoError(t, err)
	assert.Len(t, th.Turns(), 4) // two user/assistant pairs
}

func TestSimpleTool_ExecuteDowngradesUnknownContinuationID(t *testing.T) {
	st, _, _ := newSimpleToolFixture(t)

	result, err := st.Execute(context.Background(), envelope.Base{
		Prompt: "hi", Model: "mock-model", WorkingDirectoryAbsolutePath: "/tmp",
		ContinuationID: "00000000-0000-4000-8000-000000000000",
	})
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-4000-8000-000000000000", result.ContinuationID)
	assert.Contains(t, result.Metadata["warning"], "new thread was started")
}

func TestSimpleTool_ExecuteDoesNotMutateStoreOnGenerateFailure(t *testing.T) {
	st, backend, _ := newSimpleToolFixture(t)
	backend.SetErr(assertableErr{"upstream exploded"})

	before := st.Store.Count()
	_, err := st.Execute(context.Background(), envelope.Base{
		Prompt: "hi", Model: "mock-model", WorkingDirectoryAbsolutePath: "/tmp",
	})
	require.Error(t, err)
	assert.Equal(t, before, st.Store.Count())
}

func TestSimpleTool_ExecuteRejectsInvalidEnvelopeBeforeAnySideEffect(t *testing.T) {
	st, _, _ := newSimpleToolFixture(t)
	before := st.Store.Count()

	_, err := st.Execute(context.Background(), envelope.Base{
		Prompt: "hi", Model: "mock-model", WorkingDirectoryAbsolutePath: "relative",
	})
	require.Error(t, err)
	assert.Equal(t, before, st.Store.Count())
}

type assertableErr struct{ msg string }

func (e assertableErr) Error() string { return e.msg }
