// Package messaging provides the transport and inbound-processing layer for
// CoachFlow: the pluggable delivery service, the per-subscriber debounce
// buffer, and the response hook registry.
package messaging

import (
	"context"

	"github.com/coachflow/coachflow/internal/models"
)

// DefaultChannelBufferSize is the buffer size for event channels.
const DefaultChannelBufferSize = 100

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// subscriber identifier, returning the canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage delivers a reply to a subscriber.
	SendMessage(ctx context.Context, to string, body string) error

	// SendFields pushes arbitrary custom field updates for a subscriber
	// (reply text, automation trigger labels).
	SendFields(ctx context.Context, to string, fields []models.CustomField) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of delivery receipt events.
	Receipts() <-chan models.Receipt

	// Messages returns a channel of inbound subscriber messages.
	Messages() <-chan models.IncomingMessage
}
