package model

import (
	"time"
)

// Session holds the streaming state of one user's active response.
//
// Concurrency model:
//   - Session performs no locking. The engine guards every session with the
//     mutex of the stream that owns it; nothing else may touch it.
//   - External callers only ever receive copies made by Snapshot.
type Session struct {
	UserID    int64
	ChatID    int64
	SessionID string

	TotalCost float64
	StartTime time.Time

	messages map[MessageKey]*RenderedMessage
	order    []MessageKey
	latest   map[MessageKind]int
	nextID   int

	tools     map[string]*ToolExecution
	toolOrder []string

	buffer string
	active bool
	now    func() time.Time
}

// NewSession creates an active session. A nil clock falls back to time.Now.
func NewSession(userID, chatID int64, sessionID string, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		UserID:    userID,
		ChatID:    chatID,
		SessionID: sessionID,
		StartTime: now(),
		messages:  make(map[MessageKey]*RenderedMessage),
		latest:    make(map[MessageKind]int),
		tools:     make(map[string]*ToolExecution),
		active:    true,
		now:       now,
	}
}

// IsActive reports whether cleanup has not run yet.
func (s *Session) IsActive() bool {
	return s.active
}

// Now exposes the session clock.
func (s *Session) Now() time.Time {
	return s.now()
}

// AddMessage stores a new rendered message under the next sequence number.
// It returns nil once the session has been cleaned up.
func (s *Session) AddMessage(kind MessageKind, content string, handle *MessageHandle) *RenderedMessage {
	if !s.active {
		return nil
	}
	s.nextID++
	at := s.now()
	msg := &RenderedMessage{
		ID:        s.nextID,
		Kind:      kind,
		Content:   content,
		Handle:    handle,
		CreatedAt: at,
		UpdatedAt: at,
	}
	key := msg.Key()
	s.messages[key] = msg
	s.order = append(s.order, key)
	s.latest[kind] = msg.ID
	return msg
}

// GetMessage returns the message of kind with the given id, or the most
// recently added message of that kind when id is 0.
func (s *Session) GetMessage(kind MessageKind, id int) *RenderedMessage {
	if id == 0 {
		latest, ok := s.latest[kind]
		if !ok {
			return nil
		}
		id = latest
	}
	return s.messages[MessageKey{Kind: kind, ID: id}]
}

// HeaderMessageID returns 0 when no header was rendered.
func (s *Session) HeaderMessageID() int {
	return s.latest[KindHeader]
}

func (s *Session) ContentMessageID() int {
	return s.latest[KindContent]
}

func (s *Session) StatusMessageID() int {
	return s.latest[KindStatus]
}

// Messages returns the session's messages in creation order.
func (s *Session) Messages() []*RenderedMessage {
	out := make([]*RenderedMessage, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.messages[key])
	}
	return out
}

// StartTool starts tracking an execution keyed by tool name. A second start
// for the same name replaces the previous record.
func (s *Session) StartTool(name string) *ToolExecution {
	return s.StartToolCall("", name)
}

// StartToolCall starts tracking an execution keyed by the upstream invocation
// id, or by name when id is empty.
func (s *Session) StartToolCall(id, name string) *ToolExecution {
	key := id
	if key == "" {
		key = name
	}
	exec := &ToolExecution{
		Key:       key,
		Name:      name,
		Status:    ToolStarted,
		StartTime: s.now(),
	}
	if _, exists := s.tools[key]; !exists {
		s.toolOrder = append(s.toolOrder, key)
	}
	s.tools[key] = exec
	return exec
}

// CompleteTool completes the execution started under name. It returns nil when
// no such execution is open.
func (s *Session) CompleteTool(name string, success bool, errText string) *ToolExecution {
	return s.CompleteToolCall("", name, success, errText)
}

// CompleteToolCall resolves the execution by invocation id first, then by name
// (the name key, else the newest open execution carrying that name).
// Unknown or already finished executions yield nil.
func (s *Session) CompleteToolCall(id, name string, success bool, errText string) *ToolExecution {
	exec := s.lookupTool(id, name)
	if exec == nil || exec.Status.Terminal() {
		return nil
	}
	exec.complete(success, errText, s.now())
	return exec
}

func (s *Session) lookupTool(id, name string) *ToolExecution {
	if id != "" {
		if exec, ok := s.tools[id]; ok {
			return exec
		}
	}
	if name == "" {
		return nil
	}
	if exec, ok := s.tools[name]; ok && !exec.Status.Terminal() {
		return exec
	}
	for i := len(s.toolOrder) - 1; i >= 0; i-- {
		exec := s.tools[s.toolOrder[i]]
		if exec.Name == name && !exec.Status.Terminal() {
			return exec
		}
	}
	return nil
}

// Tool returns the execution stored under key.
func (s *Session) Tool(key string) *ToolExecution {
	return s.tools[key]
}

// ToolCount is the number of tracked executions.
func (s *Session) ToolCount() int {
	return len(s.tools)
}

// AppendContent adds text to the content buffer.
func (s *Session) AppendContent(text string) {
	s.buffer += text
}

// RestoreContent puts text that could not be rendered back in front of the buffer.
func (s *Session) RestoreContent(text string) {
	s.buffer = text + s.buffer
}

// Buffer returns the buffered, not yet rendered content.
func (s *Session) Buffer() string {
	return s.buffer
}

// GetBufferChunk removes and returns the first n characters of the buffer.
// Nothing is returned while fewer than n characters are buffered.
func (s *Session) GetBufferChunk(n int) (string, bool) {
	if n <= 0 {
		return "", false
	}
	count := 0
	cut := -1
	for i := range s.buffer {
		if count == n {
			cut = i
			break
		}
		count++
	}
	if cut < 0 {
		if count < n {
			return "", false
		}
		cut = len(s.buffer)
	}
	chunk := s.buffer[:cut]
	s.buffer = s.buffer[cut:]
	return chunk, true
}

// FlushBuffer drains the whole buffer.
func (s *Session) FlushBuffer() string {
	content := s.buffer
	s.buffer = ""
	return content
}

// Cleanup deactivates the session and marks every message final. Calling it
// again has no effect.
func (s *Session) Cleanup() {
	if !s.active {
		return
	}
	s.active = false
	for _, msg := range s.messages {
		msg.IsFinal = true
	}
}

// Summary describes the session at the given instant.
func (s *Session) Summary(at time.Time) Summary {
	return Summary{
		SessionID:     s.SessionID,
		UserID:        s.UserID,
		ChatID:        s.ChatID,
		StartedAt:     s.StartTime,
		Duration:      at.Sub(s.StartTime),
		TotalMessages: len(s.messages),
		ToolsUsed:     len(s.tools),
		TotalCost:     s.TotalCost,
		IsActive:      s.active,
	}
}

// Snapshot returns a deep copy that is safe to read without the owner's lock.
func (s *Session) Snapshot() *Session {
	cp := &Session{
		UserID:    s.UserID,
		ChatID:    s.ChatID,
		SessionID: s.SessionID,
		TotalCost: s.TotalCost,
		StartTime: s.StartTime,
		messages:  make(map[MessageKey]*RenderedMessage, len(s.messages)),
		order:     append([]MessageKey(nil), s.order...),
		latest:    make(map[MessageKind]int, len(s.latest)),
		nextID:    s.nextID,
		tools:     make(map[string]*ToolExecution, len(s.tools)),
		toolOrder: append([]string(nil), s.toolOrder...),
		buffer:    s.buffer,
		active:    s.active,
		now:       s.now,
	}
	for key, msg := range s.messages {
		m := *msg
		if msg.Handle != nil {
			h := *msg.Handle
			m.Handle = &h
		}
		cp.messages[key] = &m
	}
	for kind, id := range s.latest {
		cp.latest[kind] = id
	}
	for key, exec := range s.tools {
		e := *exec
		cp.tools[key] = &e
	}
	return cp
}
