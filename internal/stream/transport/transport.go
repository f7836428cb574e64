package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
)

// FormatMode selects how the chat platform parses message text.
type FormatMode string

const (
	FormatMarkdown FormatMode = "Markdown"
	FormatPlain    FormatMode = ""
)

var (
	// ErrNotModified reports an edit whose text equals the current message text.
	ErrNotModified = errors.New("message is not modified")
	// ErrFormatRejected reports text the platform could not parse in the requested mode.
	ErrFormatRejected = errors.New("can't parse entities")
)

// SendOptions carries optional reply metadata for Send.
type SendOptions struct {
	// ReplyToMessageID threads the new message under an existing one; 0 disables.
	ReplyToMessageID int
	// Suggestions are rendered by the platform as quick-reply choices.
	Suggestions []string
}

// Transport is the outbound chat platform. Implementations own retries and
// timeouts of individual calls.
type Transport interface {
	// Send posts a new message. Errors wrap ErrFormatRejected or describe a
	// generic transport failure.
	Send(ctx context.Context, chatID int64, text string, mode FormatMode, opts SendOptions) (model.MessageHandle, error)

	// Edit replaces the text of a delivered message. Errors wrap
	// ErrNotModified, ErrFormatRejected, or describe a generic failure.
	Edit(ctx context.Context, handle model.MessageHandle, text string, mode FormatMode) error
}

// Classify maps a platform error description onto the transport sentinels.
// Unrecognised descriptions become plain errors.
func Classify(description string) error {
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "not modified"):
		return fmt.Errorf("%w: %s", ErrNotModified, description)
	case strings.Contains(lower, "can't parse entities"), strings.Contains(lower, "can't find end of the entity"):
		return fmt.Errorf("%w: %s", ErrFormatRejected, description)
	default:
		return errors.New(description)
	}
}
