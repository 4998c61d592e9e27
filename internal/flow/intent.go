package flow

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/coachflow/coachflow/internal/genai"
	"github.com/coachflow/coachflow/internal/models"
)

// ConfidenceThreshold gates every intent branch. Below it the batch falls
// through to the conversational reply.
const ConfidenceThreshold = 70

// intentSystemPrompt instructs the model to classify a client message batch
// into the request types the dispatcher knows how to act on.
const intentSystemPrompt = `You are an intent classifier for a personal training coaching business.
You receive a batch of Instagram DM messages from one client, concatenated in arrival order.
Classify the batch and respond with ONLY a JSON object, no prose, in this exact shape:
{
  "is_workout_request": bool,       // client asks to add or remove exercises in their program
  "is_form_check_request": bool,    // client wants exercise form reviewed from a video
  "is_food_analysis_request": bool, // client wants a meal photo analyzed for calories and macros
  "is_calorie_tracking_request": bool, // client says exactly that they want to track calories for a meal
  "confidence": int,                // 0-100
  "actions": [                      // only for workout requests, one entry per edit
    {"action": "add"|"remove", "exercise": string, "workout_type": string, "sets": int, "reps": int}
  ]
}
Leave "actions" empty unless the client named concrete program edits.
If nothing matches, set every flag false.`

// Generator is the slice of the LLM gateway the flow package needs.
type Generator interface {
	Generate(ctx context.Context, req genai.Request) (string, error)
}

// IntentDetector classifies combined batch text with one structured LLM call.
type IntentDetector struct {
	gen Generator
}

// NewIntentDetector creates an intent detector backed by the given generator.
func NewIntentDetector(gen Generator) *IntentDetector {
	return &IntentDetector{gen: gen}
}

// Detect classifies the combined text of one message batch. A nil result
// with a nil error means the response could not be interpreted and the
// caller should treat the batch as unhandled.
func (d *IntentDetector) Detect(ctx context.Context, combined string) (*models.IntentResult, error) {
	raw, err := d.gen.Generate(ctx, genai.Request{
		SystemPrompt:    intentSystemPrompt,
		UserPrompt:      combined,
		Temperature:     0.1,
		MaxOutputTokens: 1024,
		JSONResponse:    true,
	})
	if err != nil {
		return nil, err
	}

	cleaned := cleanLLMJSON(raw)
	if cleaned == "" {
		slog.Warn("IntentDetector.Detect: no JSON object in response", "rawLength", len(raw))
		return nil, nil
	}

	var result models.IntentResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		slog.Warn("IntentDetector.Detect: failed to decode intent JSON", "error", err)
		return nil, nil
	}

	slog.Debug("IntentDetector.Detect: classified batch",
		"workout", result.IsWorkoutRequest, "formCheck", result.IsFormCheckRequest,
		"foodAnalysis", result.IsFoodAnalysisRequest, "calorieTracking", result.IsCalorieTrackingRequest,
		"confidence", result.Confidence, "actions", len(result.Actions))
	return &result, nil
}

// trailingCommaRegex matches a comma followed only by whitespace before a
// closing brace or bracket. Models emit these often enough to repair.
var trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)

// cleanLLMJSON extracts a parseable JSON object from model output. Strips
// markdown code fences, takes the outermost {...} span, and repairs trailing
// commas. Returns "" when no object can be located.
func cleanLLMJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	s = s[start : end+1]

	return trailingCommaRegex.ReplaceAllString(s, "$1")
}
