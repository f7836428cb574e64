package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
	logx "github.com/Chative-core-poc-v1/streaming/pkg/logger"
)

// Extra keys read from stream chunks.
const (
	ExtraProgress = "progress"
	ExtraIsError  = "is_error"
	ExtraError    = "error"
)

// Handler consumes stream events. *engine.Engine satisfies it.
type Handler interface {
	HandleStreamUpdate(ctx context.Context, userID int64, ev model.Event)
}

type Options struct {
	// Model selects the pricing applied to reported token usage.
	Model string
}

// Result is what Pump learned from a stream.
type Result struct {
	Content string
	Usage   schema.TokenUsage
	Cost    float64
}

// Pump reads an eino message stream to the end and forwards every chunk as a
// stream event for userID. The reader is always closed. The returned Result
// is valid even when an error is returned.
func Pump(ctx context.Context, h Handler, userID int64, reader *schema.StreamReader[*schema.Message], opts Options) (Result, error) {
	defer reader.Close()

	p := &pump{
		ctx:     ctx,
		handler: h,
		userID:  userID,
		byIndex: make(map[int]*pendingCall),
		names:   make(map[string]string),
	}
	for {
		if err := ctx.Err(); err != nil {
			p.finish()
			return p.result(opts.Model), err
		}

		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			p.finish()
			return p.result(opts.Model), nil
		}
		if err != nil {
			p.finish()
			return p.result(opts.Model), fmt.Errorf("receive stream chunk: %w", err)
		}
		if msg != nil {
			p.handle(msg)
		}
	}
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

type pump struct {
	ctx     context.Context
	handler Handler
	userID  int64

	content strings.Builder

	// Tool call fragments of the current assistant turn.
	calls   []*pendingCall
	byIndex map[int]*pendingCall
	// names resolves tool call ids of started tools.
	names map[string]string

	// Providers report usage once per model turn, possibly repeated on later chunks.
	turnUsage *schema.TokenUsage
	usage     schema.TokenUsage
}

func (p *pump) emit(ev model.Event) {
	p.handler.HandleStreamUpdate(p.ctx, p.userID, ev)
}

func (p *pump) handle(msg *schema.Message) {
	if msg.Role == schema.Tool {
		p.flushToolCalls()
		p.closeTurn()
		p.emitToolResult(msg)
		return
	}

	if msg.Content != "" {
		p.content.WriteString(msg.Content)
		p.emit(model.Event{Type: model.EventAssistant, Content: msg.Content})
	}

	if len(msg.ToolCalls) > 0 {
		for _, tc := range msg.ToolCalls {
			p.merge(tc)
		}
	} else {
		p.flushToolCalls()
	}

	if progress, ok := msg.Extra[ExtraProgress].(string); ok {
		p.emit(model.Event{Type: model.EventProgress, Content: progress})
	}

	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := *msg.ResponseMeta.Usage
		p.turnUsage = &u
	}
}

// merge folds a tool call fragment into the call it continues. Fragments are
// matched by index, then by id; anything else starts a new call.
func (p *pump) merge(tc schema.ToolCall) {
	var pc *pendingCall
	switch {
	case tc.Index != nil:
		pc = p.byIndex[*tc.Index]
	case tc.ID != "":
		for _, c := range p.calls {
			if c.id == tc.ID {
				pc = c
				break
			}
		}
	}
	if pc == nil {
		pc = &pendingCall{}
		p.calls = append(p.calls, pc)
		if tc.Index != nil {
			p.byIndex[*tc.Index] = pc
		}
	}

	if tc.ID != "" {
		pc.id = tc.ID
	}
	if tc.Function.Name != "" {
		pc.name = tc.Function.Name
	}
	pc.args.WriteString(tc.Function.Arguments)
}

func (p *pump) flushToolCalls() {
	if len(p.calls) == 0 {
		return
	}
	calls := p.calls
	p.calls = nil
	p.byIndex = make(map[int]*pendingCall)

	for _, pc := range calls {
		if pc.id != "" {
			p.names[pc.id] = pc.name
		}
		p.emit(model.Event{
			Type:      model.EventToolUse,
			ToolID:    pc.id,
			ToolName:  pc.name,
			ToolInput: parseArguments(p.userID, pc.name, pc.args.String()),
		})
	}
}

// parseArguments decodes JSON tool arguments. Anything but an object yields nil.
func parseArguments(userID int64, toolName, raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		logx.Debug().Err(err).
			Int64("user_id", userID).
			Str("tool_name", toolName).
			Msg("Tool arguments are not a JSON object")
		return nil
	}
	return input
}

func (p *pump) emitToolResult(msg *schema.Message) {
	name := p.names[msg.ToolCallID]
	if name == "" {
		name = msg.Name
	}

	ev := model.Event{
		Type:     model.EventToolResult,
		ToolID:   msg.ToolCallID,
		ToolName: name,
		Content:  msg.Content,
	}
	if isErr, _ := msg.Extra[ExtraIsError].(bool); isErr {
		ev.IsError = true
		ev.Error = msg.Content
		if text, ok := msg.Extra[ExtraError].(string); ok && text != "" {
			ev.Error = text
		}
	}
	p.emit(ev)
}

func (p *pump) closeTurn() {
	if p.turnUsage == nil {
		return
	}
	p.usage.PromptTokens += p.turnUsage.PromptTokens
	p.usage.CompletionTokens += p.turnUsage.CompletionTokens
	p.usage.TotalTokens += p.turnUsage.TotalTokens
	p.turnUsage = nil
}

func (p *pump) finish() {
	p.flushToolCalls()
	p.closeTurn()
}

func (p *pump) result(modelName string) Result {
	_, _, cost := model.ComputeCost(&p.usage, model.ResolvePricing(modelName))
	return Result{
		Content: p.content.String(),
		Usage:   p.usage,
		Cost:    cost,
	}
}
