package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coachflow/coachflow/internal/models"
)

// BatchProcessor handles a drained batch when no hook claims the subscriber.
// The flow dispatcher implements this.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, subscriberID string, batch models.MessageBatch) error
}

// ResponseHook receives a drained batch for a subscriber with a pending flow.
// Returning true consumes the batch; returning false passes it to the
// default processor.
type ResponseHook func(ctx context.Context, subscriberID string, batch models.MessageBatch) bool

// ResponseHandler routes drained batches: a registered hook for the
// subscriber takes priority over the default batch processor. Hooks are
// registered when a flow starts waiting on the subscriber's next message,
// for example a form check waiting for a video.
type ResponseHandler struct {
	mu        sync.RWMutex
	hooks     map[string]ResponseHook
	processor BatchProcessor
	buffer    *MessageBuffer
	timeout   time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// DefaultProcessTimeout bounds how long one batch may take end to end,
// including LLM calls.
const DefaultProcessTimeout = 2 * time.Minute

// NewResponseHandler creates a handler that debounces inbound messages with
// the given window before routing each batch.
func NewResponseHandler(processor BatchProcessor, window time.Duration) *ResponseHandler {
	h := &ResponseHandler{
		hooks:     make(map[string]ResponseHook),
		processor: processor,
		timeout:   DefaultProcessTimeout,
		stopCh:    make(chan struct{}),
	}
	h.buffer = NewMessageBuffer(window, h.dispatch)
	return h
}

// SetProcessor installs the default batch processor. The processor takes the
// handler as its hook registry, so it is constructed after the handler and
// attached here.
func (h *ResponseHandler) SetProcessor(processor BatchProcessor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processor = processor
}

// RegisterHook gives hook priority over the default processor for the
// subscriber's next batches. A second registration replaces the first.
func (h *ResponseHandler) RegisterHook(subscriberID string, hook ResponseHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.hooks[subscriberID]; exists {
		slog.Warn("ResponseHandler.RegisterHook: replacing existing hook", "subscriberID", subscriberID)
	}
	h.hooks[subscriberID] = hook
	slog.Debug("ResponseHandler.RegisterHook: hook registered", "subscriberID", subscriberID, "totalHooks", len(h.hooks))
}

// UnregisterHook removes the subscriber's hook if one is registered.
func (h *ResponseHandler) UnregisterHook(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.hooks, subscriberID)
	slog.Debug("ResponseHandler.UnregisterHook: hook removed", "subscriberID", subscriberID, "totalHooks", len(h.hooks))
}

// IsHookRegistered reports whether a hook exists for the subscriber.
func (h *ResponseHandler) IsHookRegistered(subscriberID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.hooks[subscriberID]
	return exists
}

// GetHookCount returns the number of registered hooks.
func (h *ResponseHandler) GetHookCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hooks)
}

// ListRegisteredSubscribers returns the subscriber IDs with active hooks.
func (h *ResponseHandler) ListRegisteredSubscribers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.hooks))
	for id := range h.hooks {
		ids = append(ids, id)
	}
	return ids
}

// Receive buffers one inbound message for debounced processing.
func (h *ResponseHandler) Receive(msg models.IncomingMessage) {
	h.buffer.Add(msg)
}

// Start consumes the service's inbound message channel until Stop is called
// or the channel closes. Runs in its own goroutine.
func (h *ResponseHandler) Start(messages <-chan models.IncomingMessage) {
	go func() {
		for {
			select {
			case <-h.stopCh:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				h.Receive(msg)
			}
		}
	}()
}

// Stop halts the consume loop and waits for in-flight drains.
func (h *ResponseHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.buffer.Flush()
}

// dispatch routes a drained batch to the subscriber's hook or, failing that,
// the default processor.
func (h *ResponseHandler) dispatch(ctx context.Context, subscriberID string, batch models.MessageBatch) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	hook, hasHook := h.hooks[subscriberID]
	processor := h.processor
	h.mu.RUnlock()

	if hasHook {
		if hook(ctx, subscriberID, batch) {
			slog.Debug("ResponseHandler.dispatch: batch consumed by hook", "subscriberID", subscriberID)
			return
		}
		slog.Debug("ResponseHandler.dispatch: hook declined batch", "subscriberID", subscriberID)
	}

	if processor == nil {
		slog.Warn("ResponseHandler.dispatch: no processor configured, dropping batch", "subscriberID", subscriberID, "messages", len(batch))
		return
	}
	if err := processor.ProcessBatch(ctx, subscriberID, batch); err != nil {
		slog.Error("ResponseHandler.dispatch: batch processing failed", "subscriberID", subscriberID, "error", err)
	}
}
