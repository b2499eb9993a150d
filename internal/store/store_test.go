package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
)

func TestCreateThread_AssignsUUIDv4(t *testing.T) {
	s := New()
	th := s.CreateThread("chat", map[string]any{"prompt": "hi"}, "")
	assert.True(t, LooksLikeThreadID(th.ThreadID))
	assert.Equal(t, "chat", th.ToolNameFirst)
	assert.Empty(t, th.ParentThreadID)
}

func TestGetThread_RejectsMalformedID(t *testing.T) {
	s := New()
	_, err := s.GetThread("not-a-uuid")
	require.Error(t, err)
	kind, ok := coreerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.KindThreadNotFound, kind)
}

func TestGetThread_ReportsThreadNotFoundForAbsentButValidUUID(t *testing.T) {
	s := New()
	th := s.CreateThread("chat", nil, "")
	_, err := s.GetThread(th.ThreadID[:len(th.ThreadID)-1] + flipLastHexDigit(th.ThreadID))
	require.Error(t, err)
	kind, ok := coreerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.KindThreadNotFound, kind)
}

func flipLastHexDigit(uuid string) string {
	if uuid[len(uuid)-1] == '0' {
		return "1"
	}
	return "0"
}

func TestGetThread_UpdatesLastAccessedAt(t *testing.T) {
	s := New()
	th := s.CreateThread("chat", nil, "")
	before := th.LastAccessedAt

	s.now = func() time.Time { return before.Add(time.Hour) }
	got, err := s.GetThread(th.ThreadID)
	require.NoError(t, err)
	assert.True(t, got.LastAccessedAt.After(before))
}

func TestAppendTurn_CapsAtTwentyTurnsWithoutMutation(t *testing.T) {
	s := New()
	th := s.CreateThread("chat", nil, "")

	for i := 0; i < MaxTurnsPerThread; i++ {
		require.NoError(t, s.AppendTurn(th.ThreadID, Turn{Role: "user", Content: "msg"}))
	}
	assert.Equal(t, MaxTurnsPerThread, th.turnCount())

	err := s.AppendTurn(th.ThreadID, Turn{Role: "user", Content: "one too many"})
	require.Error(t, err)
	kind, ok := coreerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.KindThreadCapacityExceeded, kind)
	assert.Equal(t, MaxTurnsPerThread, th.turnCount(), "rejected turn must not mutate the thread")
}

func TestAppendTurn_OnUnknownThreadReturnsThreadNotFound(t *testing.T) {
	s := New()
	err := s.AppendTurn("00000000-0000-4000-8000-000000000000", Turn{Role: "user", Content: "x"})
	require.Error(t, err)
	kind, ok := coreerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.KindThreadNotFound, kind)
}

func TestSweep_RemovesThreadsPastTTL(t *testing.T) {
	s := New()
	stale := s.CreateThread("chat", nil, "")
	fresh := s.CreateThread("chat", nil, "")

	now := time.Now()
	s.threads[stale.ThreadID].LastAccessedAt = now.Add(-4 * time.Hour)
	s.threads[fresh.ThreadID].LastAccessedAt = now

	removed := s.Sweep(now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Count())

	_, err := s.GetThread(fresh.ThreadID)
	assert.NoError(t, err)
	_, err = s.GetThread(stale.ThreadID)
	assert.Error(t, err)
}

func TestCreateThread_RecordsParentForContinuation(t *testing.T) {
	s := New()
	parent := s.CreateThread("chat", nil, "")
	child := s.CreateThread("codereview", nil, parent.ThreadID)
	assert.Equal(t, parent.ThreadID, child.ParentThreadID)
}
