package messaging

import (
	"log/slog"

	"github.com/coachflow/coachflow/internal/models"
)

// ReceiptStore persists delivery receipts. The store package implements it.
type ReceiptStore interface {
	AddReceipt(r models.Receipt) error
}

// RecordReceipts drains a receipt channel into the store until the channel
// closes. Run it in its own goroutine alongside the transport; the transport's
// Stop closes the channel and ends the loop.
func RecordReceipts(receipts <-chan models.Receipt, store ReceiptStore) {
	for r := range receipts {
		if err := store.AddReceipt(r); err != nil {
			slog.Error("RecordReceipts: failed to persist receipt", "error", err, "to", r.To, "status", r.Status)
		}
	}
	slog.Debug("RecordReceipts: receipt channel closed")
}
