// Package messaging provides the per-subscriber debounce buffer.
package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coachflow/coachflow/internal/models"
)

// DefaultDebounceWindow is how long the buffer waits after a subscriber's
// first message before draining their batch. Chat clients deliver rapid-fire
// bursts; one LLM call per burst, not per message.
const DefaultDebounceWindow = 20 * time.Second

// DrainFunc processes one drained batch for a subscriber.
type DrainFunc func(ctx context.Context, subscriberID string, batch models.MessageBatch)

type bufferEntry struct {
	messages  models.MessageBatch
	scheduled bool
}

// MessageBuffer batches rapid-fire inbound messages per subscriber.
//
// The first message inside a window schedules a single drain; later messages
// append without rescheduling. When the drain fires it atomically swaps the
// whole list out, so a burst arriving after a drain began starts a fresh
// batch with its own drain. There is no ordering across subscribers.
type MessageBuffer struct {
	mu      sync.Mutex
	entries map[string]*bufferEntry
	window  time.Duration
	drain   DrainFunc
	wg      sync.WaitGroup
}

// NewMessageBuffer creates a buffer that hands drained batches to drain after
// window elapses. A non-positive window falls back to the default.
func NewMessageBuffer(window time.Duration, drain DrainFunc) *MessageBuffer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &MessageBuffer{
		entries: make(map[string]*bufferEntry),
		window:  window,
		drain:   drain,
	}
}

// Add appends a message to the subscriber's pending batch, scheduling a drain
// if none is pending for them.
func (b *MessageBuffer) Add(msg models.IncomingMessage) {
	b.mu.Lock()
	entry, exists := b.entries[msg.SubscriberID]
	if !exists {
		entry = &bufferEntry{}
		b.entries[msg.SubscriberID] = entry
	}
	entry.messages = append(entry.messages, msg)
	schedule := !entry.scheduled
	if schedule {
		entry.scheduled = true
		b.wg.Add(1)
	}
	pending := len(entry.messages)
	b.mu.Unlock()

	slog.Debug("MessageBuffer.Add: message buffered", "subscriberID", msg.SubscriberID, "pending", pending, "scheduled", schedule)

	if schedule {
		time.AfterFunc(b.window, func() {
			defer b.wg.Done()
			b.drainSubscriber(msg.SubscriberID)
		})
	}
}

// drainSubscriber atomically removes the subscriber's batch and processes it.
func (b *MessageBuffer) drainSubscriber(subscriberID string) {
	b.mu.Lock()
	entry, exists := b.entries[subscriberID]
	if !exists {
		b.mu.Unlock()
		return
	}
	batch := entry.messages
	delete(b.entries, subscriberID)
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	slog.Debug("MessageBuffer.drainSubscriber: draining batch", "subscriberID", subscriberID, "messages", len(batch))
	b.drain(context.Background(), subscriberID, batch)
}

// PendingCount reports how many messages are buffered for a subscriber.
func (b *MessageBuffer) PendingCount(subscriberID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, exists := b.entries[subscriberID]; exists {
		return len(entry.messages)
	}
	return 0
}

// Flush waits for all scheduled drains to fire. Used in shutdown and tests.
func (b *MessageBuffer) Flush() {
	b.wg.Wait()
}
