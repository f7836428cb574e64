package model

import "time"

// MessageKind classifies a rendered chat message.
type MessageKind string

const (
	KindHeader  MessageKind = "header"
	KindContent MessageKind = "content"
	KindTool    MessageKind = "tool"
	KindStatus  MessageKind = "status"
	KindError   MessageKind = "error"
)

// MessageKey identifies a rendered message inside a session.
type MessageKey struct {
	Kind MessageKind
	ID   int
}

// MessageHandle points at a message that was delivered to the chat platform.
type MessageHandle struct {
	ChatID    int64
	MessageID int
}

// RenderedMessage is one visible chat message owned by a streaming session.
type RenderedMessage struct {
	ID        int
	Kind      MessageKind
	Content   string
	Handle    *MessageHandle // nil until the send succeeded
	CreatedAt time.Time
	UpdatedAt time.Time
	IsFinal   bool
}

// Key returns the composite key the session stores this message under.
func (m *RenderedMessage) Key() MessageKey {
	return MessageKey{Kind: m.Kind, ID: m.ID}
}

// UpdateContent records confirmed content. Final messages are left untouched.
func (m *RenderedMessage) UpdateContent(content string, at time.Time) bool {
	if m.IsFinal {
		return false
	}
	m.Content = content
	m.UpdatedAt = at
	return true
}
