// Package api provides the CoachFlow webhook server.
//
// It exposes the ManyChat webhook endpoint plus operational endpoints for
// health, subscribers, stats, coach to-dos and timers. Reply delivery is
// out-of-band: the webhook acks immediately and the debounce buffer drives
// the actual processing.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coachflow/coachflow/internal/messaging"
	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/report"
	"github.com/coachflow/coachflow/internal/store"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// WebhookSecretHeader carries the shared secret ManyChat is configured to
// send with every webhook call.
const WebhookSecretHeader = "X-Webhook-Secret"

// InboundEnqueuer accepts validated webhook payloads for buffering. The
// ManyChat service implements it.
type InboundEnqueuer interface {
	EnqueueInbound(payload models.WebhookPayload) error
}

// ReviewBuilder assembles a check-in review for one subscriber. The report
// package implements it.
type ReviewBuilder interface {
	Build(ctx context.Context, subscriberID string) (*report.Review, error)
}

// Opts holds configuration options for the server.
type Opts struct {
	Addr          string
	WebhookSecret string
}

// Option defines a configuration option for the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhookSecret sets the shared secret required on webhook calls. An
// empty secret disables the check.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) { o.WebhookSecret = secret }
}

// Server is the CoachFlow HTTP server.
type Server struct {
	store         store.Store
	inbound       InboundEnqueuer
	respHandler   *messaging.ResponseHandler
	timer         models.Timer
	reviews       ReviewBuilder
	webhookSecret string

	httpServer *http.Server
}

// NewServer creates the server with its collaborators. timer may be nil,
// which disables the /timers endpoints; a nil reviews builder disables
// /reviews the same way.
func NewServer(st store.Store, inbound InboundEnqueuer, respHandler *messaging.ResponseHandler, timer models.Timer, reviews ReviewBuilder, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		store:         st,
		inbound:       inbound,
		respHandler:   respHandler,
		timer:         timer,
		reviews:       reviews,
		webhookSecret: cfg.WebhookSecret,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/manychat", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/subscribers", s.subscribersHandler)
	mux.HandleFunc("/subscribers/", s.subscriberHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/hooks", s.hooksHandler)
	mux.HandleFunc("/todos", s.todosHandler)
	mux.HandleFunc("/reviews/", s.reviewHandler)
	mux.HandleFunc("/timers", s.timersHandler)
	mux.HandleFunc("/timers/", s.timerHandler)
	return mux
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	slog.Info("Server starting", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
