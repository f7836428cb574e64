package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	errx "github.com/Chative-core-poc-v1/streaming/internal/core/error"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/ratelimit"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/render"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/transport"
	logx "github.com/Chative-core-poc-v1/streaming/pkg/logger"
)

const unknownToolName = "Unknown Tool"

var errSessionClosed = errors.New("session closed")

// Config holds everything the Engine needs. Transport is required.
type Config struct {
	Stream    model.StreamConfig
	Transport transport.Transport
	// Escaper defaults to render.MarkdownEscaper.
	Escaper render.Escaper
	// Summaries is optional; finalized sessions are recorded there when set.
	Summaries model.SummaryRepository
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// StartRequest describes a new stream.
type StartRequest struct {
	UserID    int64
	ChatID    int64
	SessionID string
	// ReplyToMessageID threads the header under the triggering user message.
	ReplyToMessageID int
}

// Engine turns stream events into chat messages for every active user.
// All exported methods are safe for concurrent use; events of one user are
// expected to arrive in stream order.
type Engine struct {
	cfg       model.StreamConfig
	transport transport.Transport
	renderer  *render.Renderer
	limiter   *ratelimit.Limiter
	summaries model.SummaryRepository
	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())

	mu      sync.Mutex
	streams map[int64]*stream
}

// stream is the engine's entry for one user: the session, its pending edits
// and the dispatcher draining them. mu guards session, queue and targets.
type stream struct {
	mu      sync.Mutex
	session *model.Session
	queue   []pendingEdit
	// targets holds the text a message will carry once its queued edits are applied.
	targets    map[model.MessageKey]string
	dispatcher *dispatcher
}

type pendingEdit struct {
	key  model.MessageKey
	text string
}

func New(cfg Config) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is nil")
	}
	if err := cfg.Stream.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	streamCfg := cfg.Stream.Normalize()

	return &Engine{
		cfg:       streamCfg,
		transport: cfg.Transport,
		renderer:  render.New(streamCfg.AssistantName, cfg.Escaper),
		limiter:   ratelimit.New(streamCfg.MinContentInterval, now),
		summaries: cfg.Summaries,
		now:       now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		streams: make(map[int64]*stream),
	}, nil
}

// StartStream opens a stream for the user, tearing down any previous one
// first, and renders the header message.
func (e *Engine) StartStream(ctx context.Context, req StartRequest) (*model.Session, error) {
	if !e.cfg.Enabled {
		return nil, errx.StreamingDisabled()
	}

	e.CleanupStream(req.UserID)

	st := &stream{
		session: model.NewSession(req.UserID, req.ChatID, req.SessionID, e.now),
		targets: make(map[model.MessageKey]string),
	}
	header := e.renderer.Header(req.SessionID)
	if _, err := e.send(ctx, st, model.KindHeader, header, transport.SendOptions{ReplyToMessageID: req.ReplyToMessageID}); err != nil {
		logx.Warn().Err(err).
			Int64("user_id", req.UserID).
			Int64("chat_id", req.ChatID).
			Msg("Failed to send header message")
		return nil, errx.TransportInit(err)
	}

	st.dispatcher = e.startDispatcher(st)

	e.mu.Lock()
	prev := e.streams[req.UserID]
	e.streams[req.UserID] = st
	e.mu.Unlock()
	if prev != nil {
		// A concurrent StartStream for the same user won the race; only one survives.
		e.teardown(prev)
	}

	logx.Info().
		Int64("user_id", req.UserID).
		Int64("chat_id", req.ChatID).
		Str("session_id", req.SessionID).
		Msg("Started streaming session")

	return e.snapshot(st), nil
}

// HandleStreamUpdate applies one stream event. It never fails: problems are
// logged and the stream carries on.
func (e *Engine) HandleStreamUpdate(ctx context.Context, userID int64, ev model.Event) {
	st := e.lookup(userID)
	if st == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logx.Error().
				Int64("user_id", userID).
				Str("update_type", string(ev.Type)).
				Interface("panic", r).
				Msg("Recovered while handling stream update")
		}
	}()

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.session.IsActive() {
		return
	}

	var err error
	switch ev.Type {
	case model.EventToolUse:
		err = e.handleToolStart(ctx, st, ev)
	case model.EventToolResult:
		e.handleToolComplete(st, ev)
	case model.EventAssistant:
		if ev.Content != "" {
			err = e.handleContent(ctx, st, ev.Content)
		}
	case model.EventProgress:
		progress := ev.Content
		if progress == "" {
			progress = "Working..."
		}
		logx.Debug().Int64("user_id", userID).Str("progress", progress).Msg("Progress update")
	default:
		logx.Debug().Int64("user_id", userID).Str("update_type", string(ev.Type)).Msg("Ignoring unknown stream update")
	}
	if err != nil {
		logx.Warn().Err(err).
			Int64("user_id", userID).
			Str("update_type", string(ev.Type)).
			Msg("Failed to handle stream update")
	}
}

func (e *Engine) handleToolStart(ctx context.Context, st *stream, ev model.Event) error {
	name := ev.ToolName
	if name == "" {
		name = unknownToolName
	}
	exec := st.session.StartToolCall(ev.ToolID, name)

	msg, err := e.send(ctx, st, model.KindTool, e.renderer.ToolStart(name, ev.ToolInput), transport.SendOptions{})
	if err != nil {
		return fmt.Errorf("send tool start message: %w", err)
	}
	exec.MessageID = msg.ID
	return nil
}

func (e *Engine) handleToolComplete(st *stream, ev model.Event) {
	success := !ev.IsError
	errText := ""
	if ev.IsError {
		errText = ev.Error
	}

	exec := st.session.CompleteToolCall(ev.ToolID, ev.ToolName, success, errText)
	if exec == nil {
		logx.Debug().
			Int64("user_id", st.session.UserID).
			Str("tool_id", ev.ToolID).
			Str("tool_name", ev.ToolName).
			Msg("Tool result without open execution")
		return
	}
	if exec.MessageID == 0 {
		return
	}

	duration, _ := exec.Duration()
	text := e.renderer.ToolDone(exec.Name, success, duration, errText)
	st.enqueue(model.MessageKey{Kind: model.KindTool, ID: exec.MessageID}, text)
}

func (e *Engine) handleContent(ctx context.Context, st *stream, content string) error {
	st.session.AppendContent(content)

	if !e.limiter.ShouldUpdateContent(st.session.UserID) {
		return nil
	}
	chunk, ok := st.session.GetBufferChunk(e.cfg.ChunkSize)
	if !ok {
		return nil
	}

	msg := st.session.GetMessage(model.KindContent, 0)
	if msg != nil {
		st.enqueue(msg.Key(), st.target(msg)+chunk)
		return nil
	}
	if _, err := e.send(ctx, st, model.KindContent, e.renderer.ContentPrefix()+chunk, transport.SendOptions{}); err != nil {
		st.session.RestoreContent(chunk)
		return fmt.Errorf("create content message: %w", err)
	}
	return nil
}

// FinalizeStream drains pending edits, flushes the buffered content, renders
// the completion status and tears the stream down. It never fails.
func (e *Engine) FinalizeStream(ctx context.Context, userID int64, cost float64, followUps []string) {
	st := e.lookup(userID)
	if st == nil {
		return
	}
	defer e.removeStream(userID, st)
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Int64("user_id", userID).Interface("panic", r).Msg("Recovered while finalizing stream")
		}
	}()

	// The dispatcher must be gone before the drain so edits keep their order.
	st.dispatcher.stop()

	summary, ok := e.finish(ctx, st, cost, followUps)
	if !ok {
		return
	}

	logx.Info().
		Int64("user_id", userID).
		Str("session_id", summary.SessionID).
		Dur("duration", summary.Duration).
		Int("total_messages", summary.TotalMessages).
		Int("tools_used", summary.ToolsUsed).
		Float64("total_cost", summary.TotalCost).
		Msg("Finalized streaming session")

	if e.summaries != nil {
		if err := e.summaries.SaveSummary(ctx, summary); err != nil {
			logx.Warn().Err(err).Int64("user_id", userID).Msg("Failed to save session summary")
		}
	}
}

func (e *Engine) finish(ctx context.Context, st *stream, cost float64, followUps []string) (model.Summary, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.session.IsActive() {
		return model.Summary{}, false
	}

	e.drain(ctx, st)
	if remaining := st.session.FlushBuffer(); remaining != "" {
		e.flushContent(ctx, st, remaining)
	}
	st.session.TotalCost = cost
	e.sendStatus(ctx, st, cost, followUps)
	st.session.Cleanup()
	return st.session.Summary(e.now()), true
}

func (e *Engine) drain(ctx context.Context, st *stream) {
	pending := st.queue
	st.queue = nil
	for _, edit := range pending {
		msg := st.session.GetMessage(edit.key.Kind, edit.key.ID)
		if msg == nil || msg.Handle == nil {
			continue
		}
		if e.edit(ctx, st.session.UserID, *msg.Handle, edit) {
			msg.UpdateContent(edit.text, e.now())
		}
	}
}

func (e *Engine) flushContent(ctx context.Context, st *stream, remaining string) {
	msg := st.session.GetMessage(model.KindContent, 0)
	if msg == nil {
		if _, err := e.send(ctx, st, model.KindContent, e.renderer.ContentPrefix()+remaining, transport.SendOptions{}); err != nil {
			logx.Warn().Err(err).
				Int64("user_id", st.session.UserID).
				Int("lost_chars", len([]rune(remaining))).
				Msg("Failed to send final content")
		}
		return
	}

	edit := pendingEdit{key: msg.Key(), text: st.target(msg) + remaining}
	st.targets[edit.key] = edit.text
	if msg.Handle != nil && e.edit(ctx, st.session.UserID, *msg.Handle, edit) {
		msg.UpdateContent(edit.text, e.now())
	}
}

func (e *Engine) sendStatus(ctx context.Context, st *stream, cost float64, followUps []string) {
	elapsed := e.now().Sub(st.session.StartTime)
	text := e.renderer.Status(cost, elapsed, st.session.ToolCount(), len(followUps) > 0)
	if _, err := e.send(ctx, st, model.KindStatus, text, transport.SendOptions{Suggestions: followUps}); err != nil {
		logx.Warn().Err(err).Int64("user_id", st.session.UserID).Msg("Failed to send completion message")
	}
}

// HandleError renders a visible error message and tears the stream down.
func (e *Engine) HandleError(ctx context.Context, userID int64, message string) {
	st := e.lookup(userID)
	if st == nil {
		return
	}
	defer e.removeStream(userID, st)
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Int64("user_id", userID).Interface("panic", r).Msg("Recovered while reporting stream error")
		}
	}()

	st.dispatcher.stop()

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.session.IsActive() {
		return
	}
	if _, err := e.send(ctx, st, model.KindError, e.renderer.Error(message), transport.SendOptions{}); err != nil {
		logx.Warn().Err(err).Int64("user_id", userID).Msg("Failed to send error message")
	}
}

// CleanupStream discards the user's stream, its dispatcher and queued edits.
// Absent streams are ignored.
func (e *Engine) CleanupStream(userID int64) {
	e.mu.Lock()
	st := e.streams[userID]
	delete(e.streams, userID)
	e.mu.Unlock()

	e.limiter.CleanupUser(userID)
	if st == nil {
		return
	}
	e.teardown(st)
	logx.Debug().Int64("user_id", userID).Msg("Cleaned up streaming session")
}

// removeStream is CleanupStream restricted to st, so a stream that replaced it
// in the meantime survives.
func (e *Engine) removeStream(userID int64, st *stream) {
	e.mu.Lock()
	owned := e.streams[userID] == st
	if owned {
		delete(e.streams, userID)
	}
	e.mu.Unlock()

	e.teardown(st)
	if owned {
		e.limiter.CleanupUser(userID)
		logx.Debug().Int64("user_id", userID).Msg("Cleaned up streaming session")
	}
}

func (e *Engine) teardown(st *stream) {
	if st.dispatcher != nil {
		st.dispatcher.stop()
	}
	st.mu.Lock()
	st.session.Cleanup()
	st.queue = nil
	st.targets = make(map[model.MessageKey]string)
	st.mu.Unlock()
}

// GetStreamContext returns a copy of the user's active session, or nil.
func (e *Engine) GetStreamContext(userID int64) *model.Session {
	st := e.lookup(userID)
	if st == nil {
		return nil
	}
	return e.snapshot(st)
}

// ActiveStreams returns the number of users with an open stream.
func (e *Engine) ActiveStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}

// Shutdown tears down every stream without rendering anything.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	users := make([]int64, 0, len(e.streams))
	for userID := range e.streams {
		users = append(users, userID)
	}
	e.mu.Unlock()

	for _, userID := range users {
		e.CleanupStream(userID)
	}
}

func (e *Engine) lookup(userID int64) *stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams[userID]
}

func (e *Engine) snapshot(st *stream) *model.Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.Snapshot()
}

// send delivers a new message, retrying once as plain text when the markup is
// rejected, and records it on the session. Caller holds st.mu or owns st.
func (e *Engine) send(ctx context.Context, st *stream, kind model.MessageKind, text string, opts transport.SendOptions) (*model.RenderedMessage, error) {
	if !st.session.IsActive() {
		return nil, errSessionClosed
	}
	handle, err := e.transport.Send(ctx, st.session.ChatID, text, transport.FormatMarkdown, opts)
	if errors.Is(err, transport.ErrFormatRejected) {
		logx.Warn().Err(err).
			Int64("user_id", st.session.UserID).
			Str("message_kind", string(kind)).
			Msg("Markdown parsing failed, sending as plain text")
		handle, err = e.transport.Send(ctx, st.session.ChatID, text, transport.FormatPlain, opts)
	}
	if err != nil {
		return nil, errx.WrapTransport(err)
	}

	msg := st.session.AddMessage(kind, text, &handle)
	if msg == nil {
		return nil, errSessionClosed
	}
	logx.Debug().
		Int64("user_id", st.session.UserID).
		Str("message_kind", string(kind)).
		Int("message_id", handle.MessageID).
		Msg("Sent stream message")
	return msg, nil
}

// edit performs one queued edit with the single plain-text fallback. It
// reports whether the message content should be recorded. A panicking
// transport drops the edit.
func (e *Engine) edit(ctx context.Context, userID int64, handle model.MessageHandle, edit pendingEdit) (applied bool) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().
				Int64("user_id", userID).
				Str("message_kind", string(edit.key.Kind)).
				Int("message_id", handle.MessageID).
				Interface("panic", r).
				Msg("Recovered while updating message")
			applied = false
		}
	}()

	err := e.transport.Edit(ctx, handle, edit.text, transport.FormatMarkdown)
	if errors.Is(err, transport.ErrFormatRejected) {
		logx.Warn().Err(err).
			Int64("user_id", userID).
			Int("message_id", handle.MessageID).
			Msg("Markdown parsing failed in update, trying plain text")
		err = e.transport.Edit(ctx, handle, edit.text, transport.FormatPlain)
	}

	switch {
	case err == nil:
		return true
	case errors.Is(err, transport.ErrNotModified):
		return false
	default:
		logx.Warn().Err(err).
			Int64("user_id", userID).
			Str("message_kind", string(edit.key.Kind)).
			Int("message_id", handle.MessageID).
			Msg("Failed to update message")
		return false
	}
}

func (st *stream) enqueue(key model.MessageKey, text string) {
	st.queue = append(st.queue, pendingEdit{key: key, text: text})
	st.targets[key] = text
}

// target is the text msg will hold after every queued edit.
func (st *stream) target(msg *model.RenderedMessage) string {
	if text, ok := st.targets[msg.Key()]; ok {
		return text
	}
	return msg.Content
}

func (st *stream) pop() (pendingEdit, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.queue) == 0 {
		return pendingEdit{}, false
	}
	edit := st.queue[0]
	st.queue = st.queue[1:]
	return edit, true
}
