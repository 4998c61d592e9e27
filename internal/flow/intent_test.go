package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/coachflow/coachflow/internal/genai"
)

// stubGenerator returns scripted responses in order.
type stubGenerator struct {
	responses []string
	err       error
	prompts   []genai.Request
}

func (s *stubGenerator) Generate(_ context.Context, req genai.Request) (string, error) {
	s.prompts = append(s.prompts, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func TestDetectParsesCleanJSON(t *testing.T) {
	gen := &stubGenerator{responses: []string{
		`{"is_workout_request": true, "confidence": 90, "actions": [{"action": "add", "exercise": "barbell row", "workout_type": "back day", "sets": 4, "reps": 8}]}`,
	}}
	d := NewIntentDetector(gen)

	result, err := d.Detect(context.Background(), "can you add barbell rows to my back day, 4x8")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
	if !result.IsWorkoutRequest || result.Confidence != 90 {
		t.Errorf("unexpected classification: %+v", result)
	}
	if len(result.Actions) != 1 || result.Actions[0].Exercise != "barbell row" {
		t.Errorf("unexpected actions: %+v", result.Actions)
	}
	if !gen.prompts[0].JSONResponse {
		t.Error("expected JSON response mode for the intent call")
	}
}

func TestDetectStripsMarkdownFences(t *testing.T) {
	gen := &stubGenerator{responses: []string{
		"```json\n{\"is_form_check_request\": true, \"confidence\": 85}\n```",
	}}
	d := NewIntentDetector(gen)

	result, err := d.Detect(context.Background(), "can you check my squat form")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if result == nil || !result.IsFormCheckRequest {
		t.Errorf("expected form check intent, got %+v", result)
	}
}

func TestDetectRepairsTrailingCommas(t *testing.T) {
	gen := &stubGenerator{responses: []string{
		`{"is_food_analysis_request": true, "confidence": 80,}`,
	}}
	d := NewIntentDetector(gen)

	result, err := d.Detect(context.Background(), "how many calories in this")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if result == nil || !result.IsFoodAnalysisRequest {
		t.Errorf("expected food analysis intent, got %+v", result)
	}
}

func TestDetectExtractsEmbeddedObject(t *testing.T) {
	gen := &stubGenerator{responses: []string{
		`Here is the classification you asked for: {"is_workout_request": false, "confidence": 20} hope that helps!`,
	}}
	d := NewIntentDetector(gen)

	result, err := d.Detect(context.Background(), "hey how's it going")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result from embedded JSON")
	}
	if result.AnyIntent() {
		t.Errorf("expected no intent, got %+v", result)
	}
}

func TestDetectNonJSONIsUnhandled(t *testing.T) {
	gen := &stubGenerator{responses: []string{"I'm not sure what you mean."}}
	d := NewIntentDetector(gen)

	result, err := d.Detect(context.Background(), "random message")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for non-JSON response, got %+v", result)
	}
}

func TestDetectPropagatesGeneratorError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("all models exhausted")}
	d := NewIntentDetector(gen)

	if _, err := d.Detect(context.Background(), "anything"); err == nil {
		t.Error("expected error when generation fails")
	}
}

func TestCleanLLMJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain object", in: `{"a": 1}`, want: `{"a": 1}`},
		{name: "fenced", in: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "trailing comma in array", in: `{"a": [1, 2,]}`, want: `{"a": [1, 2]}`},
		{name: "surrounding prose", in: `Sure! {"a": 1} Done.`, want: `{"a": 1}`},
		{name: "no object", in: "nothing here", want: ""},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanLLMJSON(tt.in); got != tt.want {
				t.Errorf("cleanLLMJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
