package source

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
)

type recorder struct {
	userIDs []int64
	events  []model.Event
}

func (r *recorder) HandleStreamUpdate(_ context.Context, userID int64, ev model.Event) {
	r.userIDs = append(r.userIDs, userID)
	r.events = append(r.events, ev)
}

func (r *recorder) types() []model.EventType {
	out := make([]model.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func intPtr(i int) *int { return &i }

func TestPumpConvertsToolRoundTrip(t *testing.T) {
	chunks := []*schema.Message{
		{Role: schema.Assistant, Content: "Let me check."},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			Index:    intPtr(0),
			ID:       "call_1",
			Function: schema.FunctionCall{Name: "bash", Arguments: `{"comm`},
		}}},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			Index:    intPtr(0),
			Function: schema.FunctionCall{Arguments: `and":"ls -la"}`},
		}}, ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 1000, CompletionTokens: 100, TotalTokens: 1100}}},
		{Role: schema.Tool, ToolCallID: "call_1", Content: "main.go"},
		{Role: schema.Assistant, Content: "Found main.go", Extra: map[string]any{ExtraProgress: "Summarizing"}},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 2000, CompletionTokens: 200, TotalTokens: 2200}}},
	}
	rec := &recorder{}

	res, err := Pump(context.Background(), rec, 42, schema.StreamReaderFromArray(chunks), Options{Model: "gemini-2.5-flash"})
	require.NoError(t, err)

	assert.Equal(t, []model.EventType{
		model.EventAssistant,
		model.EventToolUse,
		model.EventToolResult,
		model.EventAssistant,
		model.EventProgress,
	}, rec.types())
	for _, id := range rec.userIDs {
		assert.EqualValues(t, 42, id)
	}

	use := rec.events[1]
	assert.Equal(t, "call_1", use.ToolID)
	assert.Equal(t, "bash", use.ToolName)
	assert.Equal(t, map[string]any{"command": "ls -la"}, use.ToolInput)

	result := rec.events[2]
	assert.Equal(t, "call_1", result.ToolID)
	assert.Equal(t, "bash", result.ToolName)
	assert.False(t, result.IsError)

	assert.Equal(t, "Summarizing", rec.events[4].Content)

	assert.Equal(t, "Let me check.Found main.go", res.Content)
	assert.Equal(t, 3000, res.Usage.PromptTokens)
	assert.Equal(t, 300, res.Usage.CompletionTokens)
	assert.InDelta(t, 3000*0.30/1e6+300*2.50/1e6, res.Cost, 1e-12)
}

func TestPumpFlushesParallelCallsAtEOF(t *testing.T) {
	chunks := []*schema.Message{
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{ID: "a", Function: schema.FunctionCall{Name: "read", Arguments: `{"path":"a.go"}`}},
			{ID: "b", Function: schema.FunctionCall{Name: "read", Arguments: `not json`}},
		}},
	}
	rec := &recorder{}

	_, err := Pump(context.Background(), rec, 1, schema.StreamReaderFromArray(chunks), Options{})
	require.NoError(t, err)
	require.Len(t, rec.events, 2)
	assert.Equal(t, "a", rec.events[0].ToolID)
	assert.Equal(t, map[string]any{"path": "a.go"}, rec.events[0].ToolInput)
	assert.Equal(t, "b", rec.events[1].ToolID)
	assert.Nil(t, rec.events[1].ToolInput)
}

func TestPumpToolErrors(t *testing.T) {
	chunks := []*schema.Message{
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{ID: "x", Function: schema.FunctionCall{Name: "edit"}}}},
		{Role: schema.Tool, ToolCallID: "x", Content: "permission denied", Extra: map[string]any{ExtraIsError: true}},
		{Role: schema.Tool, ToolCallID: "y", Name: "bash", Content: "", Extra: map[string]any{ExtraIsError: true, ExtraError: "exit status 2"}},
	}
	rec := &recorder{}

	_, err := Pump(context.Background(), rec, 1, schema.StreamReaderFromArray(chunks), Options{})
	require.NoError(t, err)
	require.Len(t, rec.events, 3)

	assert.True(t, rec.events[1].IsError)
	assert.Equal(t, "edit", rec.events[1].ToolName)
	assert.Equal(t, "permission denied", rec.events[1].Error)

	assert.Equal(t, "bash", rec.events[2].ToolName)
	assert.Equal(t, "exit status 2", rec.events[2].Error)
}

func TestPumpReturnsStreamError(t *testing.T) {
	sr, sw := schema.Pipe[*schema.Message](4)
	sw.Send(&schema.Message{Role: schema.Assistant, Content: "partial"}, nil)
	sw.Send(nil, errors.New("connection reset"))
	sw.Close()
	rec := &recorder{}

	res, err := Pump(context.Background(), rec, 1, sr, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, "partial", res.Content)
	assert.Len(t, rec.events, 1)
}

func TestPumpStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}

	_, err := Pump(ctx, rec, 1, schema.StreamReaderFromArray([]*schema.Message{{Role: schema.Assistant, Content: "x"}}), Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.events)
}
