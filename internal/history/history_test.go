package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
	"github.com/jukasdrj/zen-mcp-server/internal/store"
)

func TestBuildHistory_EmptyForUnknownThread(t *testing.T) {
	b, err := NewBuilder(store.New())
	require.NoError(t, err)

	built, err := b.BuildHistory("00000000-0000-4000-8000-000000000000", 10_000, nil)
	require.NoError(t, err)
	assert.Empty(t, built.Messages)
	assert.Empty(t, built.EmbeddedFiles)
	assert.True(t, built.ThreadNotFound)
}

func TestBuildHistory_ReturnsMessagesInChronologicalOrder(t *testing.T) {
	s := store.New()
	th := s.CreateThread("chat", nil, "")
	require.NoError(t, s.AppendTurn(th.ThreadID, store.Turn{Role: "user", Content: "first"}))
	require.NoError(t, s.AppendTurn(th.ThreadID, store.Turn{Role: "assistant", Content: "second"}))
	require.NoError(t, s.AppendTurn(th.ThreadID, store.Turn{Role: "user", Content: "third"}))

	b, err := NewBuilder(s)
	require.NoError(t, err)

	built, err := b.BuildHistory(th.ThreadID, 10_000, nil)
	require.NoError(t, err)
	require.Len(t, built.Messages, 3)
	assert.Equal(t, "first", built.Messages[0].Content)
	assert.Equal(t, "second", built.Messages[1].Content)
	assert.Equal(t, "third", built.Messages[2].Content)
}

func TestBuildHistory_DedupesFilesKeepingNewestReference(t *testing.T) {
	s := store.New()
	th := s.CreateThread("chat", nil, "")
	require.NoError(t, s.AppendTurn(th.ThreadID, store.Turn{
		Role: "user", Content: "look at main.go", FilesReferenced: []string{"/repo/main.go"},
	}))
	require.NoError(t, s.AppendTurn(th.ThreadID, store.Turn{
		Role: "assistant", Content: "ok", FilesReferenced: nil,
	}))
	require.NoError(t, s.AppendTurn(th.ThreadID, store.Turn{
		Role: "user", Content: "also see main.go and util.go", FilesReferenced: []string{"/repo/main.go", "/repo/util.go"},
	}))

	b, err := NewBuilder(s)
	require.NoError(t, err)

	built, err := b.BuildHistory(th.ThreadID, 10_000, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/repo/main.go", "/repo/util.go"}, built.EmbeddedFiles)

	count := 0
	for _, f := range built.EmbeddedFiles {
		if f == "/repo/main.go" {
			count++
		}
	}
	assert.Equal(t, 1, count, "main.go must appear only once, attributed to its newest reference")
}

func TestBuildHistory_RespectsModelContextCeiling(t *testing.T) {
	s := store.New()
	th := s.CreateThread("chat", nil, "")
	longContent := ""
	for i := 0; i < 2000; i++ {
		longContent += "word "
	}
	require.NoError(t, s.AppendTurn(th.ThreadID, store.Turn{Role: "user", Content: longContent}))
	require.NoError(t, s.AppendTurn(th.ThreadID, store.Turn{Role: "assistant", Content: longContent}))

	d, err := capability.New(capability.Options{
		ModelName:           "tiny-model",
		ContextWindowTokens: 2000,
		MaxOutputTokens:     500,
		IntelligenceScore:   5,
		ProviderType:        capability.ProviderOllama,
	})
	require.NoError(t, err)

	b, err := NewBuilder(s)
	require.NoError(t, err)

	built, err := b.BuildHistory(th.ThreadID, 1_000_000, d)
	require.NoError(t, err)
	assert.Len(t, built.Messages, 1, "the tight context ceiling should admit only the newest turn")
	assert.Equal(t, longContent, built.Messages[0].Content)
}
