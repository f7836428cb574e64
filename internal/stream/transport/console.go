package transport

import (
	"context"
	"sync"

	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
	logx "github.com/Chative-core-poc-v1/streaming/pkg/logger"
)

// Console is an in-memory Transport that logs every call. It assigns message
// ids per chat and answers identical edits with ErrNotModified the way a real
// chat platform does.
type Console struct {
	mu     sync.Mutex
	nextID map[int64]int
	texts  map[model.MessageHandle]string
}

func NewConsole() *Console {
	return &Console{
		nextID: make(map[int64]int),
		texts:  make(map[model.MessageHandle]string),
	}
}

func (c *Console) Send(ctx context.Context, chatID int64, text string, mode FormatMode, opts SendOptions) (model.MessageHandle, error) {
	if err := ctx.Err(); err != nil {
		return model.MessageHandle{}, err
	}
	c.mu.Lock()
	c.nextID[chatID]++
	handle := model.MessageHandle{ChatID: chatID, MessageID: c.nextID[chatID]}
	c.texts[handle] = text
	c.mu.Unlock()

	logx.Info().
		Int64("chat_id", chatID).
		Int("message_id", handle.MessageID).
		Int("reply_to", opts.ReplyToMessageID).
		Strs("suggestions", opts.Suggestions).
		Str("mode", string(mode)).
		Msg("send: " + text)
	return handle, nil
}

func (c *Console) Edit(ctx context.Context, handle model.MessageHandle, text string, mode FormatMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	current, ok := c.texts[handle]
	if ok && current == text {
		c.mu.Unlock()
		return ErrNotModified
	}
	if !ok {
		c.mu.Unlock()
		return Classify("Bad Request: message to edit not found")
	}
	c.texts[handle] = text
	c.mu.Unlock()

	logx.Info().
		Int64("chat_id", handle.ChatID).
		Int("message_id", handle.MessageID).
		Str("mode", string(mode)).
		Msg("edit: " + text)
	return nil
}

// Text returns the current text of a delivered message.
func (c *Console) Text(handle model.MessageHandle) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.texts[handle]
	return text, ok
}

var _ Transport = (*Console)(nil)
