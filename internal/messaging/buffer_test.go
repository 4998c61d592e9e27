package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coachflow/coachflow/internal/models"
)

// batchRecorder captures drained batches for assertions.
type batchRecorder struct {
	mu      sync.Mutex
	batches map[string][]models.MessageBatch
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{batches: make(map[string][]models.MessageBatch)}
}

func (r *batchRecorder) drain(_ context.Context, subscriberID string, batch models.MessageBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[subscriberID] = append(r.batches[subscriberID], batch)
}

func (r *batchRecorder) batchesFor(subscriberID string) []models.MessageBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[subscriberID]
}

func msg(subscriberID, text string) models.IncomingMessage {
	return models.IncomingMessage{SubscriberID: subscriberID, Text: text, ReceivedAt: time.Now()}
}

func TestMessageBufferBatchesBurstIntoOneDrain(t *testing.T) {
	rec := newBatchRecorder()
	buf := NewMessageBuffer(50*time.Millisecond, rec.drain)

	buf.Add(msg("1001", "hey"))
	buf.Add(msg("1001", "quick question"))
	buf.Add(msg("1001", "about my squat"))
	buf.Flush()

	batches := rec.batchesFor("1001")
	if len(batches) != 1 {
		t.Fatalf("expected exactly 1 drain, got %d", len(batches))
	}
	if got := batches[0].Combined(); got != "hey\nquick question\nabout my squat" {
		t.Errorf("expected messages concatenated in arrival order, got %q", got)
	}
}

func TestMessageBufferSecondBurstIsIndependent(t *testing.T) {
	rec := newBatchRecorder()
	buf := NewMessageBuffer(40*time.Millisecond, rec.drain)

	buf.Add(msg("1001", "first burst"))
	buf.Flush()

	buf.Add(msg("1001", "second burst"))
	buf.Flush()

	batches := rec.batchesFor("1001")
	if len(batches) != 2 {
		t.Fatalf("expected 2 independent drains, got %d", len(batches))
	}
	if batches[0].Combined() != "first burst" || batches[1].Combined() != "second burst" {
		t.Errorf("bursts mixed across batches: %q / %q", batches[0].Combined(), batches[1].Combined())
	}
}

func TestMessageBufferIsolatesSubscribers(t *testing.T) {
	rec := newBatchRecorder()
	buf := NewMessageBuffer(40*time.Millisecond, rec.drain)

	buf.Add(msg("1001", "alice one"))
	buf.Add(msg("2002", "bob one"))
	buf.Add(msg("1001", "alice two"))
	buf.Flush()

	alice := rec.batchesFor("1001")
	bob := rec.batchesFor("2002")
	if len(alice) != 1 || len(bob) != 1 {
		t.Fatalf("expected one drain per subscriber, got alice=%d bob=%d", len(alice), len(bob))
	}
	if alice[0].Combined() != "alice one\nalice two" {
		t.Errorf("alice batch wrong: %q", alice[0].Combined())
	}
	if bob[0].Combined() != "bob one" {
		t.Errorf("bob batch wrong: %q", bob[0].Combined())
	}
}

func TestMessageBufferPendingCount(t *testing.T) {
	rec := newBatchRecorder()
	buf := NewMessageBuffer(time.Minute, rec.drain)

	if got := buf.PendingCount("1001"); got != 0 {
		t.Errorf("expected 0 pending before any message, got %d", got)
	}
	buf.Add(msg("1001", "a"))
	buf.Add(msg("1001", "b"))
	if got := buf.PendingCount("1001"); got != 2 {
		t.Errorf("expected 2 pending, got %d", got)
	}
}

func TestMessageBufferConcurrentAdds(t *testing.T) {
	rec := newBatchRecorder()
	buf := NewMessageBuffer(60*time.Millisecond, rec.drain)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.Add(msg("1001", "m"))
		}()
	}
	wg.Wait()
	buf.Flush()

	batches := rec.batchesFor("1001")
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != 20 {
		t.Errorf("expected all 20 messages drained, got %d across %d batches", total, len(batches))
	}
}
