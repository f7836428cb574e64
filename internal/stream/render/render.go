package render

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxCommandPreview caps shell commands shown in tool renders.
	MaxCommandPreview = 50
	// MaxErrorPreview caps tool error excerpts.
	MaxErrorPreview = 100
	// Ellipsis marks truncated text.
	Ellipsis = "..."
	// SessionPrefixLen is how much of a session id the header shows.
	SessionPrefixLen = 8
)

// Escaper makes user- or tool-controlled text safe to embed in markup.
type Escaper interface {
	Escape(text string) string
}

// MarkdownEscaper backslash-escapes every markup-significant character.
type MarkdownEscaper struct{}

var markdownReplacer = strings.NewReplacer(
	`*`, `\*`, `_`, `\_`, "`", "\\`", `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`,
	`~`, `\~`, `>`, `\>`, `#`, `\#`, `+`, `\+`, `-`, `\-`, `=`, `\=`, `|`, `\|`,
	`{`, `\{`, `}`, `\}`, `.`, `\.`, `!`, `\!`,
)

func (MarkdownEscaper) Escape(text string) string {
	return markdownReplacer.Replace(text)
}

// Truncate keeps the first max characters of s and appends Ellipsis when
// anything was cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + Ellipsis
}

// Renderer builds the text of every message kind a session produces.
type Renderer struct {
	AssistantName string
	Escaper       Escaper
}

func New(assistantName string, esc Escaper) *Renderer {
	if esc == nil {
		esc = MarkdownEscaper{}
	}
	return &Renderer{AssistantName: assistantName, Escaper: esc}
}

func (r *Renderer) Header(sessionID string) string {
	info := "New session"
	if sessionID != "" {
		prefix := sessionID
		if utf8.RuneCountInString(prefix) > SessionPrefixLen {
			prefix = string([]rune(prefix)[:SessionPrefixLen])
		}
		info = "Session: " + r.Escaper.Escape(prefix) + Ellipsis
	}
	return fmt.Sprintf("🚀 *%s Session Started* • %s", r.AssistantName, info)
}

// ToolStart renders a started tool; known tools get a summary of their input.
func (r *Renderer) ToolStart(name string, input map[string]any) string {
	text := fmt.Sprintf("🔧 *Using %s*", r.Escaper.Escape(name))
	if info := ToolInputSummary(name, input); info != "" {
		text += ": " + info
	}
	return text
}

// ToolInputSummary describes the input of file and shell tools. Other tools
// yield an empty string.
func ToolInputSummary(name string, input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	switch strings.ToLower(name) {
	case "read", "write", "edit":
		path := stringField(input, "file_path")
		if path == "" {
			path = stringField(input, "path")
		}
		if path != "" {
			return "`" + path + "`"
		}
	case "bash":
		if command := stringField(input, "command"); command != "" {
			return "`" + Truncate(command, MaxCommandPreview) + "`"
		}
	}
	return ""
}

func stringField(input map[string]any, key string) string {
	v, ok := input[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ToolDone renders the completion of a tool. duration is omitted when zero.
func (r *Renderer) ToolDone(name string, success bool, duration time.Duration, errText string) string {
	durationText := ""
	if ms := duration.Milliseconds(); ms > 0 {
		durationText = fmt.Sprintf(" (%dms)", ms)
	}
	escaped := r.Escaper.Escape(name)
	if success {
		return fmt.Sprintf("✅ *%s complete*%s", escaped, durationText)
	}
	text := fmt.Sprintf("❌ *%s failed*%s", escaped, durationText)
	if errText != "" {
		text += "\n`" + r.Escaper.Escape(Truncate(errText, MaxErrorPreview)) + "`"
	}
	return text
}

// ContentPrefix opens the content message.
func (r *Renderer) ContentPrefix() string {
	return fmt.Sprintf("🤖 *%s Response:*\n\n", r.AssistantName)
}

// Status renders the terminal summary of a session.
func (r *Renderer) Status(cost float64, elapsed time.Duration, tools int, hasFollowUps bool) string {
	var b strings.Builder
	b.WriteString("✅ *Session Complete*")
	fmt.Fprintf(&b, "\n💰 Cost: $%.4f", cost)
	fmt.Fprintf(&b, "\n⏱️ Duration: %.1fs", elapsed.Seconds())
	fmt.Fprintf(&b, "\n🔧 Tools used: %d", tools)
	if hasFollowUps {
		b.WriteString("\n\n💡 *What would you like to do next?*")
	}
	return b.String()
}

// Error renders the visible failure of a stream.
func (r *Renderer) Error(message string) string {
	return "❌ *Streaming Error*\n\n`" + r.Escaper.Escape(message) + "`"
}
