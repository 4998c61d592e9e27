// Package report assembles weekly check-in review documents for clients
// from harvested training data plus LLM analysis.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coachflow/coachflow/internal/genai"
	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/store"
	"github.com/coachflow/coachflow/internal/trainerize"
)

// analysisPrompt turns a week of harvested data into the written review.
const analysisPrompt = `You are a personal trainer writing the weekly check-in review for a client.
Using only the data below, write a short, encouraging review: wins first, then one or two focus points for next week.
Keep it under 250 words and address the client by first name.

%s`

// Review is one assembled check-in document ready to render.
type Review struct {
	ID           string
	SubscriberID string
	ClientName   string
	Date         time.Time
	DocumentName string
	Progress     *trainerize.ProgressSummary
	SetHistory   []trainerize.SetRecord
	Calories     *models.CalorieTracking
	Analysis     string
}

// Renderer turns an assembled review into a document. PDF drawing lives
// behind this interface.
type Renderer interface {
	Render(ctx context.Context, review *Review) error
}

// SheetPublisher records review status in the coach's tracking sheet.
type SheetPublisher interface {
	PublishStatus(ctx context.Context, clientName, documentName, status string) error
}

// Generator is the slice of the LLM gateway the report package needs.
type Generator interface {
	Generate(ctx context.Context, req genai.Request) (string, error)
}

// Builder assembles check-in reviews.
type Builder struct {
	store     store.Store
	gen       Generator
	client    trainerize.Client
	renderer  Renderer
	publisher SheetPublisher
}

// NewBuilder wires the review builder to its collaborators. Renderer and
// publisher may be nil; the corresponding steps are skipped.
func NewBuilder(st store.Store, gen Generator, client trainerize.Client, renderer Renderer, publisher SheetPublisher) *Builder {
	return &Builder{store: st, gen: gen, client: client, renderer: renderer, publisher: publisher}
}

// DocumentName builds the canonical review file name,
// e.g. "alice_smith_2026-08-29_check_in_review".
func DocumentName(clientName string, date time.Time) string {
	slug := strings.ToLower(strings.Join(strings.Fields(clientName), "_"))
	return fmt.Sprintf("%s_%s_check_in_review", slug, date.Format("2006-01-02"))
}

// Build assembles, analyzes, renders and publishes one client's review.
func (b *Builder) Build(ctx context.Context, subscriberID string) (*Review, error) {
	sub, err := b.store.GetSubscriber(subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("unknown subscriber %s", subscriberID)
	}

	clientName := sub.FullName()
	now := time.Now()
	review := &Review{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		ClientName:   clientName,
		Date:         now,
		DocumentName: DocumentName(clientName, now),
	}

	review.Progress, err = b.client.FetchProgressSummary(ctx, clientName)
	if err != nil {
		return nil, fmt.Errorf("failed to harvest progress data: %w", err)
	}
	review.SetHistory, err = b.client.FetchSetHistory(ctx, clientName, "")
	if err != nil {
		slog.Warn("Builder.Build: set history unavailable", "error", err, "subscriberID", subscriberID)
	}
	review.Calories, err = b.store.GetCalorieTracking(subscriberID)
	if err != nil {
		slog.Warn("Builder.Build: calorie data unavailable", "error", err, "subscriberID", subscriberID)
	}

	review.Analysis, err = b.gen.Generate(ctx, genai.Request{
		UserPrompt:      fmt.Sprintf(analysisPrompt, b.describe(sub, review)),
		Temperature:     0.6,
		MaxOutputTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate review analysis: %w", err)
	}

	if b.renderer != nil {
		if err := b.renderer.Render(ctx, review); err != nil {
			return nil, fmt.Errorf("failed to render review: %w", err)
		}
	}
	if b.publisher != nil {
		if err := b.publisher.PublishStatus(ctx, clientName, review.DocumentName, "complete"); err != nil {
			slog.Error("Builder.Build: failed to publish status", "error", err, "subscriberID", subscriberID)
		}
	}

	slog.Info("Builder.Build: review assembled", "subscriberID", subscriberID, "document", review.DocumentName)
	return review, nil
}

// describe flattens the harvested data into prompt text.
func (b *Builder) describe(sub *models.Subscriber, review *Review) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Client: %s (first name %s)\n", review.ClientName, sub.FirstName)

	if p := review.Progress; p != nil {
		fmt.Fprintf(&sb, "Workouts per week: %.1f\n", p.WorkoutsPerWeek)
		fmt.Fprintf(&sb, "Current weight: %.1f (change %.1f)\n", p.CurrentWeight, p.WeightChange)
		for _, h := range p.Highlights {
			fmt.Fprintf(&sb, "Highlight: %s\n", h)
		}
	}
	for _, s := range review.SetHistory {
		fmt.Fprintf(&sb, "Set: %s %s %.1f x %d\n", s.Date, s.Exercise, s.Weight, s.Reps)
	}
	if c := review.Calories; c != nil {
		fmt.Fprintf(&sb, "Calorie target %d, consumed today %d\n", c.DailyTarget.Calories, c.Consumed.Calories)
	}
	return sb.String()
}
