package source

import (
	"context"
	"sync"

	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
	logx "github.com/Chative-core-poc-v1/streaming/pkg/logger"
)

type userKey struct{}

// WithUser tags ctx with the user whose stream receives callback events.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func UserFrom(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userKey{}).(int64)
	return userID, ok
}

// Callbacks bridges eino graph callbacks into stream events: tool runs become
// tool_use/tool_result events and chat model usage is accumulated per user.
// Runs must carry the user via WithUser.
type Callbacks struct {
	handler Handler

	mu    sync.Mutex
	usage map[int64]schema.TokenUsage
}

func NewCallbacks(h Handler) *Callbacks {
	return &Callbacks{
		handler: h,
		usage:   make(map[int64]schema.TokenUsage),
	}
}

// Handler returns the eino handler. Attach it via compose.WithCallbacks(...)
// when invoking or streaming a graph.
func (c *Callbacks) Handler() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Tool(c.toolHandler()).
		ChatModel(c.modelHandler()).
		Handler()
}

// TakeUsage returns the usage accumulated for userID and resets it.
func (c *Callbacks) TakeUsage(userID int64) schema.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.usage[userID]
	delete(c.usage, userID)
	return u
}

// Cost prices and resets the usage accumulated for userID.
func (c *Callbacks) Cost(userID int64, modelName string) float64 {
	u := c.TakeUsage(userID)
	_, _, total := model.ComputeCost(&u, model.ResolvePricing(modelName))
	return total
}

func (c *Callbacks) emit(ctx context.Context, info *einocb.RunInfo, ev model.Event) {
	userID, ok := UserFrom(ctx)
	if !ok {
		logx.Debug().Str("component", info.Name).Str("update_type", string(ev.Type)).Msg("Callback without user, dropping event")
		return
	}
	c.handler.HandleStreamUpdate(ctx, userID, ev)
}

func (c *Callbacks) toolHandler() *callbackHelper.ToolCallbackHandler {
	return &callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *tool.CallbackInput) context.Context {
			ev := model.Event{Type: model.EventToolUse, ToolName: info.Name}
			if input != nil {
				userID, _ := UserFrom(ctx)
				ev.ToolInput = parseArguments(userID, info.Name, input.ArgumentsInJSON)
			}
			c.emit(ctx, info, ev)
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *tool.CallbackOutput) context.Context {
			ev := model.Event{Type: model.EventToolResult, ToolName: info.Name}
			if output != nil {
				ev.Content = output.Response
			}
			c.emit(ctx, info, ev)
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			c.emit(ctx, info, model.Event{
				Type:     model.EventToolResult,
				ToolName: info.Name,
				IsError:  true,
				Error:    err.Error(),
			})
			return ctx
		},
	}
}

func (c *Callbacks) modelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *einomodel.CallbackOutput) context.Context {
			userID, ok := UserFrom(ctx)
			if !ok || output == nil || output.TokenUsage == nil {
				return ctx
			}
			c.mu.Lock()
			u := c.usage[userID]
			u.PromptTokens += output.TokenUsage.PromptTokens
			u.CompletionTokens += output.TokenUsage.CompletionTokens
			u.TotalTokens += output.TokenUsage.TotalTokens
			c.usage[userID] = u
			c.mu.Unlock()

			logx.Debug().
				Int64("user_id", userID).
				Str("model", info.Name).
				Int("prompt_tokens", output.TokenUsage.PromptTokens).
				Int("completion_tokens", output.TokenUsage.CompletionTokens).
				Msg("LLM usage")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("model", info.Name).Msg("Chat model call failed")
			return ctx
		},
	}
}
