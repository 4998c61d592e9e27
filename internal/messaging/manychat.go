// Package messaging provides the ManyChat transport implementation.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/coachflow/coachflow/internal/models"
)

// ManyChat field names and endpoint defaults.
const (
	DefaultManyChatBaseURL   = "https://api.manychat.com"
	DefaultReplyField        = "o1 Response"
	DefaultResponseTimeField = "response time"
	setCustomFieldsPath      = "/fb/subscriber/setCustomFields"
)

// subscriberIDRegex matches ManyChat's numeric subscriber ids.
var subscriberIDRegex = regexp.MustCompile(`[^0-9]`)

// Opts holds configuration options for the ManyChat service.
type Opts struct {
	APIKey            string
	BaseURL           string
	ReplyField        string
	ResponseTimeField string
	Timeout           time.Duration
}

// Option defines a configuration option for the ManyChat service.
type Option func(*Opts)

// WithAPIKey sets the ManyChat API token.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the ManyChat API base URL (used by tests).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithReplyField sets the custom field that carries reply text.
func WithReplyField(name string) Option {
	return func(o *Opts) { o.ReplyField = name }
}

// WithResponseTimeField sets the custom field that carries the response-time
// bucket label.
func WithResponseTimeField(name string) Option {
	return func(o *Opts) { o.ResponseTimeField = name }
}

// ManyChatService implements Service against the ManyChat subscriber-fields
// API. Replies are not sent as messages: ManyChat automation rules watch the
// custom fields this service sets and surface them to the subscriber.
type ManyChatService struct {
	apiKey            string
	baseURL           string
	replyField        string
	responseTimeField string
	httpClient        *http.Client

	receipts chan models.Receipt
	messages chan models.IncomingMessage
	done     chan struct{}
	mu       sync.Mutex
	stopped  bool
}

// NewManyChatService creates a ManyChat service. The API key falls back to
// the MANYCHAT_API_KEY environment variable.
func NewManyChatService(opts ...Option) (*ManyChatService, error) {
	cfg := Opts{
		BaseURL:           DefaultManyChatBaseURL,
		ReplyField:        DefaultReplyField,
		ResponseTimeField: DefaultResponseTimeField,
		Timeout:           30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("MANYCHAT_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ManyChat API key must be provided")
	}

	return &ManyChatService{
		apiKey:            cfg.APIKey,
		baseURL:           cfg.BaseURL,
		replyField:        cfg.ReplyField,
		responseTimeField: cfg.ResponseTimeField,
		httpClient:        &http.Client{Timeout: cfg.Timeout},
		receipts:          make(chan models.Receipt, DefaultChannelBufferSize),
		messages:          make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:              make(chan struct{}),
	}, nil
}

// ValidateAndCanonicalizeRecipient strips non-digits and requires a numeric
// ManyChat subscriber id.
func (s *ManyChatService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := subscriberIDRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid subscriber id: no digits found in %q", recipient)
	}
	if recipient != canonical {
		slog.Debug("ManyChatService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendMessage delivers a reply by setting the reply custom field.
func (s *ManyChatService) SendMessage(ctx context.Context, to string, body string) error {
	return s.SendFields(ctx, to, []models.CustomField{
		{FieldName: s.replyField, FieldValue: body},
	})
}

// setFieldsRequest is the ManyChat setCustomFields request body.
type setFieldsRequest struct {
	SubscriberID string               `json:"subscriber_id"`
	Fields       []models.CustomField `json:"fields"`
}

// SendFields pushes custom field updates for a subscriber and records a
// delivery receipt.
func (s *ManyChatService) SendFields(ctx context.Context, to string, fields []models.CustomField) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("no fields to send")
	}

	body, err := json.Marshal(setFieldsRequest{SubscriberID: canonical, Fields: fields})
	if err != nil {
		return fmt.Errorf("failed to marshal field update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+setCustomFieldsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusFailed, Time: time.Now().Unix()})
		slog.Error("ManyChatService.SendFields: request failed", "error", err, "to", canonical)
		return fmt.Errorf("manychat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusFailed, Time: time.Now().Unix()})
		slog.Error("ManyChatService.SendFields: API error", "status", resp.StatusCode, "body", string(respBody), "to", canonical)
		return fmt.Errorf("manychat API error (status %d)", resp.StatusCode)
	}

	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Debug("ManyChatService.SendFields: fields sent", "to", canonical, "fields", len(fields))
	return nil
}

// ResponseTimeField returns the configured response-time field name.
func (s *ManyChatService) ResponseTimeField() string {
	return s.responseTimeField
}

// ResponseTimeBucket maps elapsed wall-clock time to the coarse label
// ManyChat automation rules key on.
func ResponseTimeBucket(elapsed time.Duration) string {
	switch {
	case elapsed <= 2*time.Minute:
		return "response time is lightning"
	case elapsed <= 10*time.Minute:
		return "response time is quick"
	case elapsed <= time.Hour:
		return "response time is steady"
	case elapsed <= 12*time.Hour:
		return "response time is slow"
	default:
		return "response time is patient"
	}
}

// EnqueueInbound validates an inbound webhook payload and pushes it onto the
// messages channel for the buffer to pick up.
func (s *ManyChatService) EnqueueInbound(payload models.WebhookPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(payload.SubscriberID)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	msg := models.IncomingMessage{
		SubscriberID: canonical,
		IGUsername:   payload.IGUsername,
		FirstName:    payload.FirstName,
		LastName:     payload.LastName,
		Text:         payload.TextContent(),
		MediaURLs:    payload.MediaURLs,
		ReceivedAt:   time.Now(),
	}

	select {
	case s.messages <- msg:
		slog.Debug("ManyChatService.EnqueueInbound: message queued", "subscriberID", canonical)
		return nil
	default:
		slog.Error("ManyChatService.EnqueueInbound: inbound channel full, dropping message", "subscriberID", canonical)
		return fmt.Errorf("inbound message channel full")
	}
}

// Start is a no-op for ManyChat; inbound traffic arrives via the webhook.
func (s *ManyChatService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *ManyChatService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.receipts)
	close(s.messages)
	slog.Debug("ManyChatService stopped")
	return nil
}

// Receipts returns the delivery receipt channel.
func (s *ManyChatService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Messages returns the inbound message channel.
func (s *ManyChatService) Messages() <-chan models.IncomingMessage {
	return s.messages
}

func (s *ManyChatService) emitReceipt(r models.Receipt) {
	select {
	case s.receipts <- r:
	default:
		slog.Debug("ManyChatService receipt channel full, dropping receipt", "to", r.To)
	}
}
