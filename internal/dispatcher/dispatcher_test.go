package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
	"github.com/jukasdrj/zen-mcp-server/internal/envelope"
	"github.com/jukasdrj/zen-mcp-server/internal/tool"
)

type stubSimple struct {
	content        string
	continuationID string
	err            error
}

func (s stubSimple) Execute(ctx context.Context, env envelope.Base) (tool.Result, error) {
	if s.err != nil {
		return tool.Result{}, s.err
	}
	return tool.Result{
		Content:        s.content,
		ContinuationID: s.continuationID,
		ModelUsed:      "mock-model",
		Tokens:         tool.TokenInfo{Input: 10, Output: 5},
		Metadata:       map[string]any{"model_used": "mock-model"},
	}, nil
}

type stubWorkflow struct {
	content        string
	continuationID string
	err            error
}

func (s stubWorkflow) Execute(ctx context.Context, env envelope.Workflow) (tool.WorkflowResult, error) {
	if s.err != nil {
		return tool.WorkflowResult{}, s.err
	}
	return tool.WorkflowResult{
		Content:        s.content,
		ContinuationID: s.continuationID,
		State:          tool.StatePlanning,
		Metadata:       map[string]any{"state": "PLANNING"},
	}, nil
}

func chatBinder(args map[string]any) (any, error) {
	return envelope.Base{
		Prompt:                       args["prompt"].(string),
		Model:                        "mock-model",
		WorkingDirectoryAbsolutePath: "/tmp",
	}, nil
}

func debugBinder(args map[string]any) (any, error) {
	return envelope.Workflow{
		Base:             envelope.Base{Model: "mock-model", WorkingDirectoryAbsolutePath: "/tmp"},
		Step:             "x",
		StepNumber:       1,
		TotalSteps:       1,
		NextStepRequired: false,
		Confidence:       envelope.ConfidenceCertain,
	}, nil
}

func TestDispatch_UnknownToolReturnsError(t *testing.T) {
	d := New()
	resp := d.Dispatch(context.Background(), "nonexistent", map[string]any{})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(coreerr.KindUnknownTool), resp.Error.Kind)
}

func TestDispatch_SimpleToolHappyPath(t *testing.T) {
	d := New()
	d.RegisterSimple("chat", chatBinder, stubSimple{content: "4", continuationID: "cid-1"}, 0)

	resp := d.Dispatch(context.Background(), "chat", map[string]any{"prompt": "2+2=?"})
	assert.True(t, resp.Success)
	assert.Equal(t, "4", resp.Content)
	assert.Equal(t, "cid-1", resp.ContinuationID)
	assert.Equal(t, "mock-model", resp.Metadata["model_used"])
}

func TestDispatch_SimpleToolErrorSurfacesStructured(t *testing.T) {
	d := New()
	d.RegisterSimple("chat", chatBinder, stubSimple{err: coreerr.NewUnknownModelError("ghost-model")}, 0)

	resp := d.Dispatch(context.Background(), "chat", map[string]any{"prompt": "hi"})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(coreerr.KindUnknownModel), resp.Error.Kind)
}

func TestDispatch_WorkflowToolHappyPath(t *testing.T) {
	d := New()
	d.RegisterWorkflow("debug", debugBinder, stubWorkflow{content: "done", continuationID: "cid-2"}, 0)

	resp := d.Dispatch(context.Background(), "debug", map[string]any{})
	assert.True(t, resp.Success)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, "PLANNING", resp.Metadata["state"])
}

func TestDispatch_BinderErrorIsReportedWithoutInvokingHandler(t *testing.T) {
	d := New()
	calls := 0
	badBinder := func(args map[string]any) (any, error) {
		return nil, coreerr.NewValidationError("missing prompt")
	}
	d.RegisterSimple("chat", badBinder, countingSimple{&calls}, 0)

	resp := d.Dispatch(context.Background(), "chat", map[string]any{})
	assert.False(t, resp.Success)
	assert.Equal(t, 0, calls)
}

type countingSimple struct{ calls *int }

func (c countingSimple) Execute(ctx context.Context, env envelope.Base) (tool.Result, error) {
	*c.calls++
	return tool.Result{}, nil
}

func TestShutdown_DrainsInFlightThenStopsAcceptingNew(t *testing.T) {
	d := New()
	started := make(chan struct{})
	release := make(chan struct{})
	d.RegisterSimple("slow", chatBinder, blockingSimple{started, release}, 5*time.Second)

	done := make(chan Response)
	go func() {
		done <- d.Dispatch(context.Background(), "slow", map[string]any{"prompt": "hi"})
	}()
	<-started // the in-flight call has been accepted and is now blocking in the handler

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- d.Shutdown(context.Background())
	}()

	close(release)
	resp := <-done
	assert.True(t, resp.Success)
	require.NoError(t, <-shutdownDone)

	rejected := d.Dispatch(context.Background(), "slow", map[string]any{"prompt": "hi"})
	assert.False(t, rejected.Success)
}

type blockingSimple struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingSimple) Execute(ctx context.Context, env envelope.Base) (tool.Result, error) {
	close(b.started)
	<-b.release
	return tool.Result{Content: "ok", ContinuationID: "cid", ModelUsed: "mock-model", Tokens: tool.TokenInfo{Input: 1, Output: 1}, Metadata: map[string]any{}}, nil
}
