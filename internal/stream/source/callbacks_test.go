package source

import (
	"context"
	"errors"
	"testing"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
)

func TestCallbacksForwardToolRuns(t *testing.T) {
	rec := &recorder{}
	h := NewCallbacks(rec).Handler()
	ctx := WithUser(context.Background(), 42)
	info := &einocb.RunInfo{Name: "bash", Component: components.ComponentOfTool}

	h.OnStart(ctx, info, &tool.CallbackInput{ArgumentsInJSON: `{"command":"go test ./..."}`})
	h.OnEnd(ctx, info, &tool.CallbackOutput{Response: "ok"})
	h.OnStart(ctx, info, &tool.CallbackInput{ArgumentsInJSON: `{}`})
	h.OnError(ctx, info, errors.New("exit status 1"))

	require.Len(t, rec.events, 4)
	assert.Equal(t, []model.EventType{model.EventToolUse, model.EventToolResult, model.EventToolUse, model.EventToolResult}, rec.types())
	assert.Equal(t, map[string]any{"command": "go test ./..."}, rec.events[0].ToolInput)
	assert.Equal(t, "bash", rec.events[1].ToolName)
	assert.False(t, rec.events[1].IsError)
	assert.True(t, rec.events[3].IsError)
	assert.Equal(t, "exit status 1", rec.events[3].Error)
	for _, id := range rec.userIDs {
		assert.EqualValues(t, 42, id)
	}
}

func TestCallbacksWithoutUserAreDropped(t *testing.T) {
	rec := &recorder{}
	h := NewCallbacks(rec).Handler()

	h.OnStart(context.Background(), &einocb.RunInfo{Name: "read", Component: components.ComponentOfTool}, &tool.CallbackInput{})
	assert.Empty(t, rec.events)
}

func TestCallbacksAccumulateModelUsage(t *testing.T) {
	cb := NewCallbacks(&recorder{})
	h := cb.Handler()
	info := &einocb.RunInfo{Name: "gemini", Component: components.ComponentOfChatModel}
	ctx := WithUser(context.Background(), 42)

	h.OnEnd(ctx, info, &einomodel.CallbackOutput{TokenUsage: &einomodel.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 100_000, TotalTokens: 1_100_000}})
	h.OnEnd(ctx, info, &einomodel.CallbackOutput{TokenUsage: &einomodel.TokenUsage{PromptTokens: 0, CompletionTokens: 100_000, TotalTokens: 100_000}})
	h.OnEnd(WithUser(context.Background(), 7), info, &einomodel.CallbackOutput{})

	assert.InDelta(t, 0.30+0.50, cb.Cost(42, "gemini-2.5-flash"), 1e-9)
	assert.Zero(t, cb.TakeUsage(42).TotalTokens, "cost resets the accumulated usage")
	assert.Zero(t, cb.TakeUsage(7).TotalTokens)
}

func TestUserFrom(t *testing.T) {
	_, ok := UserFrom(context.Background())
	assert.False(t, ok)

	userID, ok := UserFrom(WithUser(context.Background(), 9))
	require.True(t, ok)
	assert.EqualValues(t, 9, userID)
}
