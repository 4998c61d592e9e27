package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coachflow/coachflow/internal/models"
)

func newTestManyChat(t *testing.T, handler http.HandlerFunc) (*ManyChatService, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc, err := NewManyChatService(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc, srv
}

func TestManyChatSendFields(t *testing.T) {
	var got setFieldsRequest
	var auth string
	svc, _ := newTestManyChat(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != setCustomFieldsPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	err := svc.SendFields(context.Background(), "1001", []models.CustomField{
		{FieldName: "o1 Response", FieldValue: "hello"},
	})
	if err != nil {
		t.Fatalf("SendFields failed: %v", err)
	}
	if auth != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", auth)
	}
	if got.SubscriberID != "1001" {
		t.Errorf("expected subscriber 1001, got %s", got.SubscriberID)
	}
	if len(got.Fields) != 1 || got.Fields[0].FieldValue != "hello" {
		t.Errorf("unexpected fields payload: %+v", got.Fields)
	}

	select {
	case r := <-svc.Receipts():
		if r.Status != models.MessageStatusSent {
			t.Errorf("expected sent receipt, got %s", r.Status)
		}
	default:
		t.Error("expected a delivery receipt")
	}
}

func TestManyChatSendFieldsAPIError(t *testing.T) {
	svc, _ := newTestManyChat(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := svc.SendMessage(context.Background(), "1001", "hello")
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}

	select {
	case r := <-svc.Receipts():
		if r.Status != models.MessageStatusFailed {
			t.Errorf("expected failed receipt, got %s", r.Status)
		}
	default:
		t.Error("expected a failure receipt")
	}
}

func TestManyChatValidateAndCanonicalizeRecipient(t *testing.T) {
	svc, _ := newTestManyChat(t, func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "numeric id unchanged", in: "123456789", want: "123456789"},
		{name: "strips non-digits", in: "user:123456789", want: "123456789"},
		{name: "empty rejected", in: "", wantErr: true},
		{name: "no digits rejected", in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestManyChatEnqueueInbound(t *testing.T) {
	svc, _ := newTestManyChat(t, func(w http.ResponseWriter, r *http.Request) {})

	payload := models.WebhookPayload{
		SubscriberID: "1001",
		IGUsername:   "fit_alice",
		FirstName:    "Alice",
		Text:         "what should I eat today",
	}
	if err := svc.EnqueueInbound(payload); err != nil {
		t.Fatalf("EnqueueInbound failed: %v", err)
	}

	select {
	case m := <-svc.Messages():
		if m.SubscriberID != "1001" || m.Text != "what should I eat today" {
			t.Errorf("unexpected inbound message: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("expected message on inbound channel")
	}
}

func TestManyChatEnqueueInboundRejectsInvalidPayload(t *testing.T) {
	svc, _ := newTestManyChat(t, func(w http.ResponseWriter, r *http.Request) {})

	if err := svc.EnqueueInbound(models.WebhookPayload{Text: "no sender"}); err == nil {
		t.Error("expected error for payload without subscriber id")
	}
}

func TestManyChatStopIsIdempotent(t *testing.T) {
	svc, _ := newTestManyChat(t, func(w http.ResponseWriter, r *http.Request) {})

	if err := svc.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestResponseTimeBucket(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    string
	}{
		{30 * time.Second, "response time is lightning"},
		{5 * time.Minute, "response time is quick"},
		{45 * time.Minute, "response time is steady"},
		{6 * time.Hour, "response time is slow"},
		{2 * 24 * time.Hour, "response time is patient"},
	}
	for _, tt := range tests {
		if got := ResponseTimeBucket(tt.elapsed); got != tt.want {
			t.Errorf("ResponseTimeBucket(%v) = %q, want %q", tt.elapsed, got, tt.want)
		}
	}
}
