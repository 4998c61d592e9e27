package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coachflow/coachflow/internal/genai"
	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/store"
	"github.com/coachflow/coachflow/internal/trainerize"
)

type stubGen struct {
	response string
	err      error
	prompt   string
}

func (s *stubGen) Generate(_ context.Context, req genai.Request) (string, error) {
	s.prompt = req.UserPrompt
	return s.response, s.err
}

type recordingRenderer struct {
	rendered []*Review
	err      error
}

func (r *recordingRenderer) Render(_ context.Context, review *Review) error {
	r.rendered = append(r.rendered, review)
	return r.err
}

type recordingPublisher struct {
	statuses []string
}

func (p *recordingPublisher) PublishStatus(_ context.Context, clientName, documentName, status string) error {
	p.statuses = append(p.statuses, clientName+"/"+documentName+"/"+status)
	return nil
}

func seedStore(t *testing.T) store.Store {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.SaveSubscriber(models.Subscriber{
		ID: "1001", FirstName: "Alice", LastName: "Smith",
		Targets: models.MacroTargets{Calories: 2200},
	}); err != nil {
		t.Fatalf("failed to seed subscriber: %v", err)
	}
	return st
}

func TestDocumentName(t *testing.T) {
	date := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if got := DocumentName("Alice Smith", date); got != "alice_smith_2026-08-29_check_in_review" {
		t.Errorf("unexpected document name: %s", got)
	}
	if got := DocumentName("Bob", date); got != "bob_2026-08-29_check_in_review" {
		t.Errorf("unexpected single-name document name: %s", got)
	}
}

func TestBuildAssemblesReview(t *testing.T) {
	st := seedStore(t)
	gen := &stubGen{response: "Great week Alice! Squats are moving well."}
	client := trainerize.NewMockClient()
	client.Summary = &trainerize.ProgressSummary{
		ClientName: "Alice Smith", WorkoutsPerWeek: 4, CurrentWeight: 64.2, WeightChange: -0.4,
		Highlights: []string{"new squat PR"},
	}
	client.History = []trainerize.SetRecord{{Exercise: "squat", Date: "2026-08-27", Weight: 80, Reps: 5}}
	renderer := &recordingRenderer{}
	publisher := &recordingPublisher{}

	b := NewBuilder(st, gen, client, renderer, publisher)
	review, err := b.Build(context.Background(), "1001")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !strings.HasPrefix(review.DocumentName, "alice_smith_") || !strings.HasSuffix(review.DocumentName, "_check_in_review") {
		t.Errorf("unexpected document name: %s", review.DocumentName)
	}
	if review.Analysis != "Great week Alice! Squats are moving well." {
		t.Errorf("unexpected analysis: %q", review.Analysis)
	}
	if !strings.Contains(gen.prompt, "new squat PR") {
		t.Error("expected harvested highlights in the analysis prompt")
	}
	if !strings.Contains(gen.prompt, "squat 80.0 x 5") {
		t.Errorf("expected set history in the analysis prompt: %q", gen.prompt)
	}
	if len(renderer.rendered) != 1 {
		t.Errorf("expected review rendered once, got %d", len(renderer.rendered))
	}
	if len(publisher.statuses) != 1 || !strings.HasSuffix(publisher.statuses[0], "/complete") {
		t.Errorf("expected complete status published, got %v", publisher.statuses)
	}
}

func TestBuildUnknownSubscriber(t *testing.T) {
	b := NewBuilder(store.NewInMemoryStore(), &stubGen{response: "x"}, trainerize.NewMockClient(), nil, nil)
	if _, err := b.Build(context.Background(), "9999"); err == nil {
		t.Error("expected error for unknown subscriber")
	}
}

func TestBuildHarvestFailure(t *testing.T) {
	st := seedStore(t)
	client := trainerize.NewMockClient()
	client.SummaryErr = errors.New("session expired")

	b := NewBuilder(st, &stubGen{response: "x"}, client, nil, nil)
	if _, err := b.Build(context.Background(), "1001"); err == nil {
		t.Error("expected error when harvesting fails")
	}
}

func TestBuildRenderFailure(t *testing.T) {
	st := seedStore(t)
	client := trainerize.NewMockClient()
	client.Summary = &trainerize.ProgressSummary{ClientName: "Alice Smith"}
	renderer := &recordingRenderer{err: errors.New("disk full")}

	b := NewBuilder(st, &stubGen{response: "x"}, client, renderer, nil)
	if _, err := b.Build(context.Background(), "1001"); err == nil {
		t.Error("expected render error to propagate")
	}
}
