package coreerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoreError_IsMatchesOnKind(t *testing.T) {
	err := NewThreadNotFoundError("abc-123")
	assert.True(t, errors.Is(err, &CoreError{Kind: KindThreadNotFound}))
	assert.False(t, errors.Is(err, &CoreError{Kind: KindUnknownModel}))
}

func TestCoreError_UnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewUpstreamError("generate failed", true, cause)

	require.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
}

func TestCoreError_KindOf(t *testing.T) {
	kind, ok := KindOf(NewModelRestrictedError("gpt-9"))
	require.True(t, ok)
	assert.Equal(t, KindModelRestricted, kind)

	_, ok = KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestCoreError_InternalErrorCarriesCorrelationID(t *testing.T) {
	err := NewInternalError("corr-1", errors.New("boom"))
	assert.Equal(t, "corr-1", err.Details["correlation_id"])
	assert.Contains(t, err.Error(), "boom")
}
