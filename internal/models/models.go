// Package models defines the core data structures for CoachFlow.
//
// It includes the inbound ManyChat webhook payload, outbound custom field
// updates, and the API response envelope shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum accepted length for a single inbound message body
	MaxMessageLength = 8192
	// MaxMediaURLs defines the maximum number of attachment URLs accepted per message
	MaxMediaURLs = 10
)

// Error variables for better error handling and testability
var (
	ErrEmptySubscriberID = errors.New("subscriber id cannot be empty")
	ErrEmptyMessage      = errors.New("message has no textual or media content")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrTooManyMediaURLs  = errors.New("too many media attachments")
)

// WebhookPayload is the inbound request body ManyChat posts to /webhook/manychat.
// ManyChat relays Instagram DMs with the subscriber identity and whatever
// content forms the message carried (text, an audio transcript, media URLs).
type WebhookPayload struct {
	SubscriberID    string   `json:"subscriber_id"`
	IGUsername      string   `json:"ig_username"`
	FirstName       string   `json:"first_name,omitempty"`
	LastName        string   `json:"last_name,omitempty"`
	Text            string   `json:"last_input_text,omitempty"`
	AudioTranscript string   `json:"audio_transcript,omitempty"`
	MediaURLs       []string `json:"media_urls,omitempty"`
}

// Validate performs validation on an inbound webhook payload.
func (p *WebhookPayload) Validate() error {
	if strings.TrimSpace(p.SubscriberID) == "" {
		return ErrEmptySubscriberID
	}
	if p.Text == "" && p.AudioTranscript == "" && len(p.MediaURLs) == 0 {
		return ErrEmptyMessage
	}
	if len(p.Text) > MaxMessageLength || len(p.AudioTranscript) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if len(p.MediaURLs) > MaxMediaURLs {
		return ErrTooManyMediaURLs
	}
	return nil
}

// TextContent flattens the payload into a single text form, covering plain
// text, voice-note transcripts, and media attachments.
func (p *WebhookPayload) TextContent() string {
	var parts []string
	if p.Text != "" {
		parts = append(parts, p.Text)
	}
	if p.AudioTranscript != "" {
		parts = append(parts, "(voice note) "+p.AudioTranscript)
	}
	for _, u := range p.MediaURLs {
		parts = append(parts, "(attachment) "+u)
	}
	return strings.Join(parts, "\n")
}

// IncomingMessage is one parsed inbound message flowing from the transport
// to the message buffer.
type IncomingMessage struct {
	SubscriberID string    `json:"subscriber_id"`
	IGUsername   string    `json:"ig_username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Text         string    `json:"text"`
	MediaURLs    []string  `json:"media_urls,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// MessageBatch is the set of messages drained from one debounce window,
// in arrival order.
type MessageBatch []IncomingMessage

// Combined concatenates the textual content of every message in arrival order.
func (b MessageBatch) Combined() string {
	parts := make([]string, 0, len(b))
	for _, m := range b {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// MediaURLs returns every attachment URL across the batch in arrival order.
func (b MessageBatch) MediaURLs() []string {
	var urls []string
	for _, m := range b {
		urls = append(urls, m.MediaURLs...)
	}
	return urls
}

// First returns the earliest message of the batch.
func (b MessageBatch) First() IncomingMessage {
	if len(b) == 0 {
		return IncomingMessage{}
	}
	return b[0]
}

// CustomField is one ManyChat subscriber field update. ManyChat displays bot
// replies and automation trigger labels through these fields.
type CustomField struct {
	FieldName  string `json:"field_name"`
	FieldValue string `json:"field_value"`
}

// MessageStatus values for delivery receipts.
const (
	MessageStatusSent   = "sent"
	MessageStatusFailed = "failed"
)

// Receipt records one outbound delivery attempt.
type Receipt struct {
	To     string `json:"to"`
	Status string `json:"status"`
	Time   int64  `json:"time"`
}

// APIResponse is the uniform JSON envelope for API endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success builds a success envelope carrying a result.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// SuccessWithMessage builds a success envelope with a human-readable message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: "ok", Message: message, Result: result}
}

// Error builds an error envelope.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}
