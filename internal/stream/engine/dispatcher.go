package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
	logx "github.com/Chative-core-poc-v1/streaming/pkg/logger"
)

// dispatcher applies the queued edits of one stream, at most one per tick.
type dispatcher struct {
	engine *Engine
	st     *stream
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (e *Engine) startDispatcher(st *stream) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		engine: e,
		st:     st,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ticks, stopTicker := e.newTicker(e.cfg.UpdateInterval)
	go d.run(ctx, ticks, stopTicker)
	return d
}

func (d *dispatcher) run(ctx context.Context, ticks <-chan time.Time, stopTicker func()) {
	defer close(d.done)
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			logx.Debug().Int64("user_id", d.st.session.UserID).Msg("Update dispatcher stopped")
			return
		case <-ticks:
		}
		if ctx.Err() != nil {
			continue
		}

		edit, ok := d.st.pop()
		if !ok {
			continue
		}
		// A started edit runs to completion even when the stream is stopped.
		d.apply(context.WithoutCancel(ctx), edit)
	}
}

// apply performs one edit. A panic drops the edit and keeps the loop alive.
func (d *dispatcher) apply(ctx context.Context, edit pendingEdit) {
	e := d.engine
	userID := d.st.session.UserID
	defer func() {
		if r := recover(); r != nil {
			logx.Error().
				Int64("user_id", userID).
				Str("message_kind", string(edit.key.Kind)).
				Interface("panic", r).
				Msg("Recovered while applying queued update")
		}
	}()

	msg, handle, ok := d.resolve(edit)
	if !ok {
		return
	}
	if !e.edit(ctx, userID, handle, edit) {
		return
	}

	d.st.mu.Lock()
	defer d.st.mu.Unlock()
	msg.UpdateContent(edit.text, e.now())
}

// resolve finds the live message an edit targets.
func (d *dispatcher) resolve(edit pendingEdit) (*model.RenderedMessage, model.MessageHandle, bool) {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()
	msg := d.st.session.GetMessage(edit.key.Kind, edit.key.ID)
	if msg == nil || msg.Handle == nil || msg.IsFinal {
		return nil, model.MessageHandle{}, false
	}
	return msg, *msg.Handle, true
}

// stop cancels the dispatcher and waits for it to exit. Safe to call more
// than once and on a nil dispatcher.
func (d *dispatcher) stop() {
	if d == nil {
		return
	}
	d.once.Do(d.cancel)
	<-d.done
}
