package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/transport"
)

const waitFor = 2 * time.Second

func contentOf(h *harness) string {
	snap := h.engine.GetStreamContext(testUser)
	if snap == nil {
		return ""
	}
	msg := snap.GetMessage(model.KindContent, 0)
	if msg == nil {
		return ""
	}
	return msg.Content
}

// queueTwoEdits renders "Hello" and then queues two content edits.
func queueTwoEdits(h *harness) {
	h.content("Hello")
	h.clock.Advance(time.Second)
	h.content("abcde")
	h.clock.Advance(time.Second)
	h.content("fghij")
}

func TestDispatcherAppliesOneEditPerTick(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	queueTwoEdits(h)
	assert.Empty(t, h.tr.ops("edit"), "edits wait for the dispatcher")

	h.tick()
	require.Eventually(t, func() bool { return contentOf(h) == prefix+"Helloabcde" }, waitFor, time.Millisecond)
	assert.Len(t, h.tr.ops("edit"), 1)

	h.tick()
	require.Eventually(t, func() bool { return contentOf(h) == prefix+"Helloabcdefghij" }, waitFor, time.Millisecond)

	edits := h.tr.ops("edit")
	require.Len(t, edits, 2)
	assert.Equal(t, prefix+"Helloabcde", edits[0].text)
	assert.Equal(t, prefix+"Helloabcdefghij", edits[1].text)

	// Empty queue: the tick is a no-op.
	h.tick()
	h.engine.FinalizeStream(context.Background(), testUser, 0, nil)
	assert.Len(t, h.tr.ops("edit"), 2)
}

func TestFinalizeDrainsRemainingEditsInOrder(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	queueTwoEdits(h)

	h.tick()
	require.Eventually(t, func() bool { return len(h.tr.ops("edit")) == 1 }, waitFor, time.Millisecond)

	h.engine.FinalizeStream(context.Background(), testUser, 0, nil)
	edits := h.tr.ops("edit")
	require.Len(t, edits, 2)
	assert.Equal(t, prefix+"Helloabcde", edits[0].text)
	assert.Equal(t, prefix+"Helloabcdefghij", edits[1].text)
}

func TestNotModifiedIsSilent(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	h.tr.setEditErr(func(model.MessageHandle, string, transport.FormatMode) error {
		return transport.Classify("Bad Request: message is not modified")
	})
	h.content("Hello")
	h.clock.Advance(time.Second)
	h.content("abcde")

	h.tick()
	// The second tick is only taken once the first edit has been handled.
	h.tick()

	assert.Len(t, h.tr.ops("edit"), 1, "not modified is never retried")
	assert.Equal(t, prefix+"Hello", contentOf(h))
}

func TestRejectedMarkupRetriesOnceAsPlainText(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	h.tr.setEditErr(func(_ model.MessageHandle, _ string, mode transport.FormatMode) error {
		if mode == transport.FormatMarkdown {
			return transport.Classify("Bad Request: can't parse entities")
		}
		return nil
	})
	h.content("Hello")
	h.clock.Advance(time.Second)
	h.content("abcde")

	h.tick()
	require.Eventually(t, func() bool { return contentOf(h) == prefix+"Helloabcde" }, waitFor, time.Millisecond)

	edits := h.tr.ops("edit")
	require.Len(t, edits, 2)
	assert.Equal(t, transport.FormatMarkdown, edits[0].mode)
	assert.Equal(t, transport.FormatPlain, edits[1].mode)
}

func TestEditDroppedWhenPlainTextAlsoFails(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	h.tr.setEditErr(func(_ model.MessageHandle, _ string, mode transport.FormatMode) error {
		if mode == transport.FormatMarkdown {
			return transport.Classify("Bad Request: can't parse entities")
		}
		return transport.Classify("Bad Request: message to edit not found")
	})
	h.content("Hello")
	h.clock.Advance(time.Second)
	h.content("abcde")

	h.tick()
	h.tick()

	assert.Len(t, h.tr.ops("edit"), 2)
	assert.Equal(t, prefix+"Hello", contentOf(h))
}

func TestCleanupStopsDispatcher(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	queueTwoEdits(h)

	h.engine.CleanupStream(testUser)

	h.mu.Lock()
	ch := h.tickers[len(h.tickers)-1]
	h.mu.Unlock()
	select {
	case ch <- time.Time{}:
		t.Fatal("dispatcher still running after cleanup")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, h.tr.ops("edit"), "queued edits are discarded")
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	st := &stream{
		session: model.NewSession(testUser, testChat, "s", h.clock.Now),
		targets: make(map[model.MessageKey]string),
	}
	d := h.engine.startDispatcher(st)
	d.stop()
	d.stop()

	var nilDispatcher *dispatcher
	assert.NotPanics(t, nilDispatcher.stop)
}

func panickingEdit(model.MessageHandle, string, transport.FormatMode) error {
	panic("edit exploded")
}

func TestDispatcherSurvivesPanickingEdit(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	h.tr.setEditErr(panickingEdit)
	queueTwoEdits(h)

	h.tick()
	h.tick()
	require.Eventually(t, func() bool { return len(h.tr.ops("edit")) == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, prefix+"Hello", contentOf(h), "dropped edits leave the content unchanged")

	h.tr.setEditErr(nil)
	h.clock.Advance(time.Second)
	h.content("klmno")
	h.tick()
	require.Eventually(t, func() bool { return contentOf(h) == prefix+"Helloabcdefghijklmno" }, waitFor, time.Millisecond)
}

func TestFinalizeSurvivesPanickingEdit(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	queueTwoEdits(h)
	h.tr.setEditErr(panickingEdit)

	h.engine.FinalizeStream(context.Background(), testUser, 0, nil)

	assert.Len(t, h.tr.ops("edit"), 2, "every queued edit is attempted")
	sends := h.tr.ops("send")
	require.Len(t, sends, 3)
	assert.Contains(t, sends[2].text, "Session Complete")
	assert.Zero(t, h.engine.ActiveStreams())
}

func TestStopWaitsForInFlightEdit(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	h.tr.setEditErr(func(model.MessageHandle, string, transport.FormatMode) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	queueTwoEdits(h)

	h.tick()
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("edit never started")
	}

	done := make(chan struct{})
	go func() {
		h.engine.CleanupStream(testUser)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("cleanup returned while an edit was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	unblock()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("cleanup did not return after the edit finished")
	}

	assert.Len(t, h.tr.ops("edit"), 1, "no edit starts after stop")
	assert.Nil(t, h.engine.GetStreamContext(testUser))
}

// queueMixedEdits renders a tool and a content message, then queues a content
// edit, the tool completion and a second content edit.
func queueMixedEdits(t *testing.T, h *harness) (toolID, contentID int) {
	t.Helper()
	ctx := context.Background()
	h.engine.HandleStreamUpdate(ctx, testUser, model.Event{Type: model.EventToolUse, ToolID: "call_1", ToolName: "bash"})
	h.content("Hello")
	h.clock.Advance(time.Second)
	h.content("abcde")
	h.engine.HandleStreamUpdate(ctx, testUser, model.Event{Type: model.EventToolResult, ToolID: "call_1", ToolName: "bash"})
	h.clock.Advance(time.Second)
	h.content("fghij")

	snap := h.engine.GetStreamContext(testUser)
	require.NotNil(t, snap)
	exec := snap.Tool("call_1")
	require.NotNil(t, exec)
	return exec.MessageID, snap.ContentMessageID()
}

func assertMixedOrder(t *testing.T, edits []call, toolID, contentID int) {
	t.Helper()
	require.Len(t, edits, 3)
	ids := []int{edits[0].handle.MessageID, edits[1].handle.MessageID, edits[2].handle.MessageID}
	assert.Equal(t, []int{contentID, toolID, contentID}, ids)
	assert.Equal(t, prefix+"Helloabcde", edits[0].text)
	assert.Contains(t, edits[1].text, "bash")
	assert.Equal(t, prefix+"Helloabcdefghij", edits[2].text)
}

func TestDispatcherKeepsEnqueueOrderAcrossKinds(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	toolID, contentID := queueMixedEdits(t, h)
	require.NotEqual(t, toolID, contentID)

	h.tick()
	h.tick()
	h.tick()
	require.Eventually(t, func() bool { return len(h.tr.ops("edit")) == 3 }, waitFor, time.Millisecond)

	assertMixedOrder(t, h.tr.ops("edit"), toolID, contentID)
}

func TestFinalizeDrainKeepsEnqueueOrderAcrossKinds(t *testing.T) {
	h := newHarness(t)
	h.start("s")
	toolID, contentID := queueMixedEdits(t, h)

	h.engine.FinalizeStream(context.Background(), testUser, 0, nil)

	assertMixedOrder(t, h.tr.ops("edit"), toolID, contentID)
}
