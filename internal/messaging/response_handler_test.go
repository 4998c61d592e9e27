package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coachflow/coachflow/internal/models"
)

// recordingProcessor implements BatchProcessor and records what it receives.
type recordingProcessor struct {
	mu      sync.Mutex
	batches []models.MessageBatch
	ids     []string
}

func (p *recordingProcessor) ProcessBatch(_ context.Context, subscriberID string, batch models.MessageBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, subscriberID)
	p.batches = append(p.batches, batch)
	return nil
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func TestResponseHandlerRoutesToProcessorByDefault(t *testing.T) {
	proc := &recordingProcessor{}
	h := NewResponseHandler(proc, 30*time.Millisecond)

	h.Receive(msg("1001", "hello"))
	h.buffer.Flush()

	if proc.count() != 1 {
		t.Fatalf("expected processor to receive 1 batch, got %d", proc.count())
	}
	if proc.ids[0] != "1001" {
		t.Errorf("expected subscriber 1001, got %s", proc.ids[0])
	}
}

func TestResponseHandlerHookTakesPriority(t *testing.T) {
	proc := &recordingProcessor{}
	h := NewResponseHandler(proc, 30*time.Millisecond)

	var hookBatch models.MessageBatch
	var hookMu sync.Mutex
	h.RegisterHook("1001", func(_ context.Context, _ string, batch models.MessageBatch) bool {
		hookMu.Lock()
		hookBatch = batch
		hookMu.Unlock()
		return true
	})

	h.Receive(msg("1001", "here is the video"))
	h.buffer.Flush()

	if proc.count() != 0 {
		t.Errorf("expected processor bypassed when hook consumes, got %d batches", proc.count())
	}
	hookMu.Lock()
	defer hookMu.Unlock()
	if hookBatch.Combined() != "here is the video" {
		t.Errorf("hook did not receive batch, got %q", hookBatch.Combined())
	}
}

func TestResponseHandlerDecliningHookFallsThrough(t *testing.T) {
	proc := &recordingProcessor{}
	h := NewResponseHandler(proc, 30*time.Millisecond)

	h.RegisterHook("1001", func(context.Context, string, models.MessageBatch) bool {
		return false
	})

	h.Receive(msg("1001", "unrelated question"))
	h.buffer.Flush()

	if proc.count() != 1 {
		t.Fatalf("expected declined batch to reach processor, got %d", proc.count())
	}
}

func TestResponseHandlerHookRegistry(t *testing.T) {
	h := NewResponseHandler(&recordingProcessor{}, time.Minute)

	noop := func(context.Context, string, models.MessageBatch) bool { return true }
	h.RegisterHook("1001", noop)
	h.RegisterHook("2002", noop)

	if !h.IsHookRegistered("1001") {
		t.Error("expected hook registered for 1001")
	}
	if h.GetHookCount() != 2 {
		t.Errorf("expected 2 hooks, got %d", h.GetHookCount())
	}
	if got := len(h.ListRegisteredSubscribers()); got != 2 {
		t.Errorf("expected 2 registered subscribers, got %d", got)
	}

	h.UnregisterHook("1001")
	if h.IsHookRegistered("1001") {
		t.Error("expected hook removed for 1001")
	}
	if h.GetHookCount() != 1 {
		t.Errorf("expected 1 hook after unregister, got %d", h.GetHookCount())
	}
}

func TestResponseHandlerStartConsumesChannel(t *testing.T) {
	proc := &recordingProcessor{}
	h := NewResponseHandler(proc, 30*time.Millisecond)

	ch := make(chan models.IncomingMessage, 4)
	h.Start(ch)
	ch <- msg("1001", "via channel")
	close(ch)

	deadline := time.Now().Add(2 * time.Second)
	for proc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	h.Stop()

	if proc.count() != 1 {
		t.Fatalf("expected 1 batch from channel, got %d", proc.count())
	}
	if proc.batches[0].Combined() != "via channel" {
		t.Errorf("wrong batch content: %q", proc.batches[0].Combined())
	}
}
