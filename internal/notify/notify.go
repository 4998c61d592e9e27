// Package notify sends SMS alerts to the coach when automation needs a
// human follow-up.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Notifier delivers out-of-band alerts to the coach.
type Notifier interface {
	AlertCoach(ctx context.Context, message string) error
}

// Opts holds configuration options for the Twilio SMS notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	CoachPhone string
}

// Option defines a configuration option for the Twilio SMS notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithCoachPhone sets the coach's phone number.
func WithCoachPhone(phone string) Option {
	return func(o *Opts) { o.CoachPhone = phone }
}

// TwilioNotifier sends coach alerts as SMS through the Twilio REST API.
type TwilioNotifier struct {
	client     *twilio.RestClient
	from       string
	coachPhone string
}

// NewTwilioNotifier creates a Twilio-backed notifier. Credentials fall back
// to the TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and
// COACH_PHONE_NUMBER environment variables.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.CoachPhone == "" {
		cfg.CoachPhone = os.Getenv("COACH_PHONE_NUMBER")
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.CoachPhone == "" {
		return nil, fmt.Errorf("from and coach phone numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioNotifier{
		client:     client,
		from:       cfg.From,
		coachPhone: cfg.CoachPhone,
	}, nil
}

// AlertCoach sends one SMS to the coach.
func (n *TwilioNotifier) AlertCoach(ctx context.Context, message string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.coachPhone)
	params.SetFrom(n.from)
	params.SetBody(message)

	if _, err := n.client.Api.CreateMessage(params); err != nil {
		slog.Error("TwilioNotifier.AlertCoach failed", "error", err)
		return fmt.Errorf("failed to alert coach: %w", err)
	}
	slog.Info("TwilioNotifier.AlertCoach: alert sent")
	return nil
}

// NoopNotifier discards alerts. Used when Twilio credentials are not
// configured so the rest of the service still runs.
type NoopNotifier struct{}

func (NoopNotifier) AlertCoach(ctx context.Context, message string) error {
	slog.Warn("NoopNotifier.AlertCoach: alert dropped, Twilio not configured", "message", message)
	return nil
}

// MockNotifier records alerts for tests.
type MockNotifier struct {
	mu     sync.Mutex
	Alerts []string
}

func (m *MockNotifier) AlertCoach(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, message)
	return nil
}

// AlertCount returns how many alerts have been recorded.
func (m *MockNotifier) AlertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}
