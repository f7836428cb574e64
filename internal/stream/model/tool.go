package model

import "time"

// ToolStatus is the lifecycle state of a tool execution.
type ToolStatus string

const (
	ToolStarted    ToolStatus = "started"
	ToolInProgress ToolStatus = "in_progress"
	ToolCompleted  ToolStatus = "completed"
	ToolError      ToolStatus = "error"
)

// Terminal reports whether no further transition is possible.
func (s ToolStatus) Terminal() bool {
	return s == ToolCompleted || s == ToolError
}

// ToolExecution tracks a single tool invocation inside a session.
type ToolExecution struct {
	// Key is the invocation id when the upstream provided one, the tool name otherwise.
	Key       string
	Name      string
	Status    ToolStatus
	StartTime time.Time
	EndTime   time.Time // zero while open
	Error     string
	// MessageID links the execution to its tool render; 0 when none was sent.
	MessageID int
}

// Ended reports whether the execution reached a terminal status.
func (t *ToolExecution) Ended() bool {
	return !t.EndTime.IsZero()
}

// Duration is only defined once the execution ended.
func (t *ToolExecution) Duration() (time.Duration, bool) {
	if !t.Ended() {
		return 0, false
	}
	return t.EndTime.Sub(t.StartTime), true
}

func (t *ToolExecution) complete(success bool, errText string, at time.Time) {
	if at.Before(t.StartTime) {
		at = t.StartTime
	}
	t.EndTime = at
	if success {
		t.Status = ToolCompleted
	} else {
		t.Status = ToolError
	}
	if errText != "" {
		t.Error = errText
	}
}
