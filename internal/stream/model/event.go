package model

// EventType identifies the payload of a stream event.
type EventType string

const (
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventAssistant  EventType = "assistant"
	EventProgress   EventType = "progress"
)

// Event is one typed update coming from the assistant response stream.
type Event struct {
	Type EventType

	// Content carries the assistant delta or the progress note.
	Content string

	// ToolID is the upstream invocation id, empty when the source has none.
	ToolID    string
	ToolName  string
	ToolInput map[string]any

	// IsError and Error describe a failed tool_result.
	IsError bool
	Error   string
}
