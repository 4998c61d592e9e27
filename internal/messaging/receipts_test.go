package messaging

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coachflow/coachflow/internal/models"
)

// receiptSink records persisted receipts.
type receiptSink struct {
	mu       sync.Mutex
	receipts []models.Receipt
	err      error
}

func (s *receiptSink) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *receiptSink) all() []models.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Receipt(nil), s.receipts...)
}

func TestRecordReceiptsPersistsUntilClose(t *testing.T) {
	ch := make(chan models.Receipt, 4)
	ch <- models.Receipt{To: "1001", Status: models.MessageStatusSent, Time: time.Now().Unix()}
	ch <- models.Receipt{To: "1002", Status: models.MessageStatusFailed, Time: time.Now().Unix()}
	close(ch)

	sink := &receiptSink{}
	RecordReceipts(ch, sink)

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 receipts persisted, got %d", len(got))
	}
	if got[0].To != "1001" || got[0].Status != models.MessageStatusSent {
		t.Errorf("unexpected first receipt: %+v", got[0])
	}
	if got[1].To != "1002" || got[1].Status != models.MessageStatusFailed {
		t.Errorf("unexpected second receipt: %+v", got[1])
	}
}

func TestRecordReceiptsSurvivesStoreErrors(t *testing.T) {
	ch := make(chan models.Receipt, 2)
	ch <- models.Receipt{To: "1001", Status: models.MessageStatusSent}
	ch <- models.Receipt{To: "1002", Status: models.MessageStatusSent}
	close(ch)

	sink := &receiptSink{err: errors.New("disk full")}
	// Must drain the whole channel and return despite the failures.
	RecordReceipts(ch, sink)

	if got := sink.all(); len(got) != 0 {
		t.Errorf("expected no receipts persisted, got %d", len(got))
	}
}

func TestRecordReceiptsFromServiceDelivery(t *testing.T) {
	svc, _ := newTestManyChat(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if err := svc.SendMessage(context.Background(), "1001", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	// Stop closes the receipt channel so the recorder drains and returns.
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	sink := &receiptSink{}
	RecordReceipts(svc.Receipts(), sink)

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 receipt from the send, got %d", len(got))
	}
	if got[0].To != "1001" || got[0].Status != models.MessageStatusSent {
		t.Errorf("unexpected receipt: %+v", got[0])
	}
}
