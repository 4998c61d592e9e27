package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/coachflow/coachflow/internal/genai"
	"github.com/coachflow/coachflow/internal/messaging"
	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/notify"
	"github.com/coachflow/coachflow/internal/store"
	"github.com/coachflow/coachflow/internal/tracker"
	"github.com/coachflow/coachflow/internal/trainerize"
)

// apologyReply goes out when every model in the fallback chain failed.
const apologyReply = "Sorry, I'm having a bit of trouble right now. I'll get back to you shortly!"

// historyLimit bounds how many past turns feed the conversational prompt.
const historyLimit = 40

// DefaultPendingFlowTTL is how long a parked two-step flow waits for its
// follow-up before it is abandoned.
const DefaultPendingFlowTTL = 24 * time.Hour

// chatSystemPrompt drives the general conversational reply when no intent
// branch claims the batch.
const chatSystemPrompt = `You are the assistant coach for a personal training business, replying to a client over Instagram DM.
Be warm, brief and practical. Use the conversation history for context.
Never invent training data or calorie numbers you were not given.`

// HookRegistry is the slice of the response handler the dispatcher needs to
// manage pending-flow priority hooks.
type HookRegistry interface {
	RegisterHook(subscriberID string, hook messaging.ResponseHook)
	UnregisterHook(subscriberID string)
	IsHookRegistered(subscriberID string) bool
}

// Dispatcher routes drained message batches: intent classification first,
// then the matching branch, falling through to a conversational reply. It is
// the messaging package's BatchProcessor.
type Dispatcher struct {
	store    store.Store
	gen      Generator
	detector *IntentDetector
	states   StateManager
	hooks    HookRegistry
	pool     *trainerize.Pool
	tracker  *tracker.Tracker
	notifier notify.Notifier
	service  messaging.Service
	timer    models.Timer

	replyField        string
	responseTimeField string
	pendingTTL        time.Duration
}

// DispatcherOpts holds configuration options for the dispatcher.
type DispatcherOpts struct {
	ReplyField        string
	ResponseTimeField string
	Timer             models.Timer
	PendingFlowTTL    time.Duration
}

// DispatcherOption defines a configuration option for the dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithReplyField sets the ManyChat custom field carrying reply text.
func WithReplyField(name string) DispatcherOption {
	return func(o *DispatcherOpts) { o.ReplyField = name }
}

// WithResponseTimeField sets the ManyChat custom field carrying the
// response-time bucket label.
func WithResponseTimeField(name string) DispatcherOption {
	return func(o *DispatcherOpts) { o.ResponseTimeField = name }
}

// WithTimer enables pending-flow expiry on the given timer. Without a timer
// parked flows wait until restart recovery or the next request clears them.
func WithTimer(timer models.Timer) DispatcherOption {
	return func(o *DispatcherOpts) { o.Timer = timer }
}

// WithPendingFlowTTL overrides how long a parked flow waits for its follow-up.
func WithPendingFlowTTL(ttl time.Duration) DispatcherOption {
	return func(o *DispatcherOpts) { o.PendingFlowTTL = ttl }
}

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(st store.Store, gen Generator, states StateManager, hooks HookRegistry,
	pool *trainerize.Pool, tr *tracker.Tracker, notifier notify.Notifier,
	service messaging.Service, opts ...DispatcherOption) *Dispatcher {

	cfg := DispatcherOpts{
		ReplyField:        messaging.DefaultReplyField,
		ResponseTimeField: messaging.DefaultResponseTimeField,
		PendingFlowTTL:    DefaultPendingFlowTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}

	return &Dispatcher{
		store:             st,
		gen:               gen,
		detector:          NewIntentDetector(gen),
		states:            states,
		hooks:             hooks,
		pool:              pool,
		tracker:           tr,
		notifier:          notifier,
		service:           service,
		timer:             cfg.Timer,
		replyField:        cfg.ReplyField,
		responseTimeField: cfg.ResponseTimeField,
		pendingTTL:        cfg.PendingFlowTTL,
	}
}

// ProcessBatch handles one drained batch end to end: persist the inbound
// turns, classify, run the matching branch or fall through to the
// conversational reply, then deliver the reply with its response-time label.
func (d *Dispatcher) ProcessBatch(ctx context.Context, subscriberID string, batch models.MessageBatch) error {
	if len(batch) == 0 {
		return nil
	}
	sub, err := d.ensureSubscriber(ctx, batch.First())
	if err != nil {
		return fmt.Errorf("failed to load subscriber: %w", err)
	}

	for _, m := range batch {
		if err := d.store.AddConversationTurn(models.ConversationTurn{
			SubscriberID: subscriberID,
			Role:         models.TurnRoleUser,
			Text:         m.Text,
			Timestamp:    m.ReceivedAt,
		}); err != nil {
			slog.Error("Dispatcher.ProcessBatch: failed to record user turn", "error", err, "subscriberID", subscriberID)
		}
	}

	combined := batch.Combined()
	slog.Info("Dispatcher.ProcessBatch: processing batch", "subscriberID", subscriberID, "messages", len(batch), "length", len(combined))

	reply, err := d.respond(ctx, sub, combined, batch)
	if err != nil {
		slog.Error("Dispatcher.ProcessBatch: all response paths failed", "error", err, "subscriberID", subscriberID)
		reply = apologyReply
	}
	if reply == "" {
		return nil
	}
	return d.Reply(ctx, sub.ID, reply, batch.First().ReceivedAt)
}

// respond classifies the batch and produces the reply text. An empty reply
// with a nil error means a branch already delivered its own reply.
func (d *Dispatcher) respond(ctx context.Context, sub *models.Subscriber, combined string, batch models.MessageBatch) (string, error) {
	intent, err := d.detector.Detect(ctx, combined)
	if err != nil {
		slog.Warn("Dispatcher.respond: intent detection unavailable, falling back to chat", "error", err, "subscriberID", sub.ID)
		intent = nil
	}

	if intent != nil && intent.AnyIntent() {
		if intent.IsWorkoutRequest && len(intent.Actions) > 0 {
			return d.handleWorkoutRequest(ctx, sub, intent.Actions)
		}
		if intent.Confidence >= ConfidenceThreshold {
			switch {
			case intent.IsWorkoutRequest:
				return "Happy to tweak your program! Which exercise do you want changed, and in which workout?", nil
			case intent.IsFormCheckRequest:
				return d.handleFormCheckRequest(ctx, sub, batch)
			case intent.IsFoodAnalysisRequest:
				return d.handleFoodAnalysisRequest(ctx, sub, batch)
			case intent.IsCalorieTrackingRequest:
				return d.handleCalorieTrackingRequest(ctx, sub)
			}
		}
	}

	return d.conversationalReply(ctx, sub, combined)
}

// Reply delivers text to the subscriber along with the response-time bucket
// label, and records the AI turn.
func (d *Dispatcher) Reply(ctx context.Context, subscriberID, text string, receivedAt time.Time) error {
	fields := []models.CustomField{
		{FieldName: d.replyField, FieldValue: text},
	}
	if !receivedAt.IsZero() {
		fields = append(fields, models.CustomField{
			FieldName:  d.responseTimeField,
			FieldValue: messaging.ResponseTimeBucket(time.Since(receivedAt)),
		})
	}
	if err := d.service.SendFields(ctx, subscriberID, fields); err != nil {
		return fmt.Errorf("failed to deliver reply: %w", err)
	}

	if err := d.store.AddConversationTurn(models.ConversationTurn{
		SubscriberID: subscriberID,
		Role:         models.TurnRoleAI,
		Text:         text,
		Timestamp:    time.Now(),
	}); err != nil {
		slog.Error("Dispatcher.Reply: failed to record AI turn", "error", err, "subscriberID", subscriberID)
	}
	return nil
}

// conversationalReply produces the general chat response from recent history.
func (d *Dispatcher) conversationalReply(ctx context.Context, sub *models.Subscriber, combined string) (string, error) {
	history, err := d.store.GetConversationHistory(sub.ID, historyLimit)
	if err != nil {
		slog.Error("Dispatcher.conversationalReply: failed to load history", "error", err, "subscriberID", sub.ID)
		history = nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s\n\nConversation so far:\n", sub.FullName())
	for _, turn := range history {
		role := "Client"
		if turn.Role == models.TurnRoleAI {
			role = "Coach"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, turn.Text)
	}
	fmt.Fprintf(&b, "\nLatest from the client:\n%s", combined)

	return d.gen.Generate(ctx, genai.Request{
		SystemPrompt:    chatSystemPrompt,
		UserPrompt:      b.String(),
		Temperature:     0.7,
		MaxOutputTokens: 512,
	})
}

// ensureSubscriber loads the subscriber record, creating one from webhook
// metadata the first time a subscriber messages in.
func (d *Dispatcher) ensureSubscriber(ctx context.Context, first models.IncomingMessage) (*models.Subscriber, error) {
	sub, err := d.store.GetSubscriber(first.SubscriberID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return sub, nil
	}

	now := time.Now()
	created := models.Subscriber{
		ID:           first.SubscriberID,
		IGUsername:   first.IGUsername,
		FirstName:    first.FirstName,
		LastName:     first.LastName,
		JourneyStage: models.JourneyStageLead,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.store.SaveSubscriber(created); err != nil {
		return nil, err
	}
	slog.Info("Dispatcher.ensureSubscriber: new subscriber created", "subscriberID", created.ID, "igUsername", created.IGUsername)
	return &created, nil
}

// mediaURLRegex picks attachment links out of message text; ManyChat relays
// some attachments as bare CDN URLs in the text body.
var mediaURLRegex = regexp.MustCompile(`https?://[^\s]+`)

// extractMediaURLs returns attachment URLs from both the structured media
// list and any links embedded in the text.
func extractMediaURLs(batch models.MessageBatch) []string {
	urls := batch.MediaURLs()
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		seen[u] = true
	}
	for _, m := range batch {
		for _, u := range mediaURLRegex.FindAllString(m.Text, -1) {
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}
	return urls
}
