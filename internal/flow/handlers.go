package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coachflow/coachflow/internal/genai"
	"github.com/coachflow/coachflow/internal/messaging"
	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/tracker"
	"github.com/coachflow/coachflow/internal/trainerize"
)

// Canned replies for the two-step flows.
const (
	askForVideoReply   = "Happy to check your form! Send the video over and I'll take a look."
	askForPhotoReply   = "Sure thing! Send me a photo of the meal and I'll work out the calories and macros."
	resendPhotoReply   = "Hmm, I couldn't make out the details from that photo. Could you send a clearer one?"
	workoutPendingMsg  = "I'll sort that for you and get back to you once it's done!"
	workoutSuccessMsg  = "Done! Your program is updated. Anything else?"
	formCheckPromptFmt = `You are an experienced strength coach reviewing a client's exercise form from a video.
Video URL: %s
Give two or three specific, encouraging coaching cues. Keep it under 120 words.`
	foodPromptFmt = `You are a nutrition coach analyzing a photo of a client's meal.
Photo URL: %s
Describe what you see, then end with exactly one line in this format:
Calories = N, Fats = Ng, Carbohydrates = Ng, Protein = Ng`
)

// handleWorkoutRequest validates the extracted program edits and runs them
// through the Trainerize pool, one job per action.
func (d *Dispatcher) handleWorkoutRequest(ctx context.Context, sub *models.Subscriber, actions []models.WorkoutAction) (string, error) {
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			slog.Debug("Dispatcher.handleWorkoutRequest: incomplete action", "error", err, "subscriberID", sub.ID)
			return clarificationFor(a, err), nil
		}
	}

	if d.pool == nil {
		return workoutPendingMsg, nil
	}

	type pending struct {
		action models.WorkoutAction
		future *trainerize.Future
	}
	submitted := make([]pending, 0, len(actions))
	var failed []models.WorkoutAction

	clientName := sub.FullName()
	for _, a := range actions {
		a := a
		future, err := d.pool.Submit(func(jobCtx context.Context, client trainerize.Client) error {
			switch a.Action {
			case models.WorkoutActionAdd:
				return client.AddExercise(jobCtx, clientName, a.WorkoutType, a.Exercise, a.Sets, a.Reps)
			case models.WorkoutActionRemove:
				return client.RemoveExercise(jobCtx, clientName, a.WorkoutType, a.Exercise)
			default:
				return models.ErrUnknownAction
			}
		})
		if err != nil {
			slog.Error("Dispatcher.handleWorkoutRequest: submit failed", "error", err, "subscriberID", sub.ID, "exercise", a.Exercise)
			failed = append(failed, a)
			continue
		}
		submitted = append(submitted, pending{action: a, future: future})
	}

	for _, p := range submitted {
		if err := p.future.Await(ctx); err != nil {
			slog.Error("Dispatcher.handleWorkoutRequest: action failed", "error", err, "subscriberID", sub.ID, "exercise", p.action.Exercise)
			failed = append(failed, p.action)
		}
	}

	if len(failed) > 0 {
		d.recordWorkoutFailure(ctx, sub, failed)
		return workoutPendingMsg, nil
	}
	return workoutSuccessMsg, nil
}

// recordWorkoutFailure logs a coach to-do and fires an SMS alert so a human
// finishes what the automation could not.
func (d *Dispatcher) recordWorkoutFailure(ctx context.Context, sub *models.Subscriber, failed []models.WorkoutAction) {
	parts := make([]string, 0, len(failed))
	for _, a := range failed {
		parts = append(parts, fmt.Sprintf("%s %s (%s)", a.Action, a.Exercise, a.WorkoutType))
	}
	description := fmt.Sprintf("Trainerize edit failed for %s: %s", sub.FullName(), strings.Join(parts, ", "))

	if err := d.store.AddTodo(models.TodoItem{
		ID:           uuid.NewString(),
		SubscriberID: sub.ID,
		Description:  description,
		Status:       models.TodoStatusOpen,
		CreatedAt:    time.Now(),
	}); err != nil {
		slog.Error("Dispatcher.recordWorkoutFailure: failed to save to-do", "error", err, "subscriberID", sub.ID)
	}
	if err := d.notifier.AlertCoach(ctx, description); err != nil {
		slog.Error("Dispatcher.recordWorkoutFailure: coach alert failed", "error", err, "subscriberID", sub.ID)
	}
}

// clarificationFor asks for the specific missing detail in a workout action.
func clarificationFor(a models.WorkoutAction, err error) string {
	switch err {
	case models.ErrMissingExercise:
		return "Which exercise would you like me to change?"
	case models.ErrMissingWorkoutType:
		exercise := a.Exercise
		if exercise == "" {
			exercise = "that"
		}
		return fmt.Sprintf("Which workout should I put %s in?", exercise)
	default:
		return "Just to double-check, do you want me to add or remove an exercise? Let me know which one and in which workout."
	}
}

// handleFormCheckRequest analyzes immediately when the batch already carries
// a video URL; otherwise it parks the flow and asks for one.
func (d *Dispatcher) handleFormCheckRequest(ctx context.Context, sub *models.Subscriber, batch models.MessageBatch) (string, error) {
	if urls := extractMediaURLs(batch); len(urls) > 0 {
		return d.analyzeFormVideo(ctx, urls[0])
	}

	if err := d.armPendingFlow(ctx, sub.ID, models.FlowTypeFormCheck, models.StateAwaitingVideo, d.CreateFormCheckHook(sub.ID)); err != nil {
		return "", err
	}
	return askForVideoReply, nil
}

// analyzeFormVideo runs the form review prompt over a video URL.
func (d *Dispatcher) analyzeFormVideo(ctx context.Context, url string) (string, error) {
	return d.gen.Generate(ctx, genai.Request{
		UserPrompt:      fmt.Sprintf(formCheckPromptFmt, url),
		Temperature:     0.5,
		MaxOutputTokens: 512,
	})
}

// CreateFormCheckHook builds the priority hook for a subscriber awaiting a
// form video. A follow-up carrying a URL is analyzed and clears the pending
// state; anything else falls through to normal processing with the state
// left set.
func (d *Dispatcher) CreateFormCheckHook(subscriberID string) messaging.ResponseHook {
	return func(ctx context.Context, _ string, batch models.MessageBatch) bool {
		urls := extractMediaURLs(batch)
		if len(urls) == 0 {
			return false
		}

		reply, err := d.analyzeFormVideo(ctx, urls[0])
		if err != nil {
			slog.Error("Dispatcher form check hook: analysis failed", "error", err, "subscriberID", subscriberID)
			reply = apologyReply
		} else {
			d.clearPendingFlow(ctx, subscriberID, models.FlowTypeFormCheck)
		}

		if err := d.Reply(ctx, subscriberID, reply, batch.First().ReceivedAt); err != nil {
			slog.Error("Dispatcher form check hook: reply failed", "error", err, "subscriberID", subscriberID)
		}
		return true
	}
}

// handleFoodAnalysisRequest mirrors the form-check shape for meal photos.
func (d *Dispatcher) handleFoodAnalysisRequest(ctx context.Context, sub *models.Subscriber, batch models.MessageBatch) (string, error) {
	if urls := extractMediaURLs(batch); len(urls) > 0 {
		return d.analyzeFoodPhoto(ctx, sub.ID, urls[0])
	}

	if err := d.armPendingFlow(ctx, sub.ID, models.FlowTypeFoodAnalysis, models.StateAwaitingPhoto, d.CreateFoodPhotoHook(sub.ID)); err != nil {
		return "", err
	}
	return askForPhotoReply, nil
}

// handleCalorieTrackingRequest parks the food-photo flow on the narrow
// exact-phrase trigger and asks for the photo.
func (d *Dispatcher) handleCalorieTrackingRequest(ctx context.Context, sub *models.Subscriber) (string, error) {
	if err := d.armPendingFlow(ctx, sub.ID, models.FlowTypeFoodAnalysis, models.StateAwaitingPhoto, d.CreateFoodPhotoHook(sub.ID)); err != nil {
		return "", err
	}
	return askForPhotoReply, nil
}

// analyzeFoodPhoto runs the nutrition prompt over a photo URL and, when the
// analysis yields a parseable summary line, logs the meal so daily totals
// update. An unparseable analysis asks for a clearer photo.
func (d *Dispatcher) analyzeFoodPhoto(ctx context.Context, subscriberID, url string) (string, error) {
	analysis, err := d.gen.Generate(ctx, genai.Request{
		UserPrompt:      fmt.Sprintf(foodPromptFmt, url),
		Temperature:     0.3,
		MaxOutputTokens: 512,
	})
	if err != nil {
		return "", err
	}

	meal := tracker.ParseMealFromAnalysis(analysis)
	if meal == nil {
		slog.Warn("Dispatcher.analyzeFoodPhoto: analysis missing macro summary", "subscriberID", subscriberID)
		return resendPhotoReply, nil
	}
	meal.Description = url

	ct, err := d.tracker.LogMeal(ctx, subscriberID, *meal)
	if err != nil {
		slog.Error("Dispatcher.analyzeFoodPhoto: failed to log meal", "error", err, "subscriberID", subscriberID)
		return analysis, nil
	}
	return analysis + "\n\n" + tracker.Summary(ct), nil
}

// CreateFoodPhotoHook builds the priority hook for a subscriber awaiting a
// meal photo. The pending state clears only once a photo parses into a meal.
func (d *Dispatcher) CreateFoodPhotoHook(subscriberID string) messaging.ResponseHook {
	return func(ctx context.Context, _ string, batch models.MessageBatch) bool {
		urls := extractMediaURLs(batch)
		if len(urls) == 0 {
			return false
		}

		reply, err := d.analyzeFoodPhoto(ctx, subscriberID, urls[0])
		if err != nil {
			slog.Error("Dispatcher food photo hook: analysis failed", "error", err, "subscriberID", subscriberID)
			reply = apologyReply
		} else if reply != resendPhotoReply {
			d.clearPendingFlow(ctx, subscriberID, models.FlowTypeFoodAnalysis)
		}

		if err := d.Reply(ctx, subscriberID, reply, batch.First().ReceivedAt); err != nil {
			slog.Error("Dispatcher food photo hook: reply failed", "error", err, "subscriberID", subscriberID)
		}
		return true
	}
}

// pendingFlowTypes are the two-step flows that park a subscriber behind a
// priority hook.
var pendingFlowTypes = []models.FlowType{models.FlowTypeFormCheck, models.FlowTypeFoodAnalysis}

// armPendingFlow parks the subscriber in a two-step flow. A subscriber holds
// one priority hook at a time, so any other pending flow is cleared first to
// keep the stored states and the hook slot in step. The state record, its
// asked-at stamp, the expiry timer and the hook are all set together.
func (d *Dispatcher) armPendingFlow(ctx context.Context, subscriberID string, flowType models.FlowType, state models.StateType, hook messaging.ResponseHook) error {
	for _, other := range pendingFlowTypes {
		if other == flowType {
			continue
		}
		current, err := d.states.GetCurrentState(ctx, subscriberID, other)
		if err != nil {
			slog.Error("Dispatcher.armPendingFlow: failed to check sibling flow", "error", err, "subscriberID", subscriberID, "flowType", other)
			continue
		}
		if current != "" {
			slog.Info("Dispatcher.armPendingFlow: replacing pending flow", "subscriberID", subscriberID, "old", other, "new", flowType)
			d.clearPendingFlow(ctx, subscriberID, other)
		}
	}

	if err := d.states.SetCurrentState(ctx, subscriberID, flowType, state); err != nil {
		return err
	}
	if err := d.states.SetStateData(ctx, subscriberID, flowType, models.DataKeyAskedAt, time.Now().Format(time.RFC3339)); err != nil {
		slog.Error("Dispatcher.armPendingFlow: failed to stamp state", "error", err, "subscriberID", subscriberID, "flowType", flowType)
	}

	if d.timer != nil {
		timerID, err := d.timer.ScheduleAfter(d.pendingTTL, func() {
			d.expirePendingFlow(subscriberID, flowType)
		})
		if err != nil {
			slog.Error("Dispatcher.armPendingFlow: failed to schedule expiry", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		} else if err := d.states.SetStateData(ctx, subscriberID, flowType, models.DataKeyExpiryTimer, timerID); err != nil {
			slog.Error("Dispatcher.armPendingFlow: failed to record expiry timer", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		}
	}

	d.hooks.RegisterHook(subscriberID, hook)
	return nil
}

// expirePendingFlow abandons a parked flow whose follow-up never arrived.
func (d *Dispatcher) expirePendingFlow(subscriberID string, flowType models.FlowType) {
	ctx := context.Background()
	current, err := d.states.GetCurrentState(ctx, subscriberID, flowType)
	if err != nil {
		slog.Error("Dispatcher.expirePendingFlow: failed to load state", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		return
	}
	if current == "" {
		return
	}
	askedAt, err := d.states.GetStateData(ctx, subscriberID, flowType, models.DataKeyAskedAt)
	if err != nil {
		askedAt = ""
	}
	slog.Info("Dispatcher.expirePendingFlow: abandoning stale flow", "subscriberID", subscriberID, "flowType", flowType, "askedAt", askedAt)
	d.clearPendingFlow(ctx, subscriberID, flowType)
}

// clearPendingFlow cancels the expiry timer, resets the stored state and
// unregisters the hook.
func (d *Dispatcher) clearPendingFlow(ctx context.Context, subscriberID string, flowType models.FlowType) {
	if d.timer != nil {
		timerID, err := d.states.GetStateData(ctx, subscriberID, flowType, models.DataKeyExpiryTimer)
		if err == nil && timerID != "" {
			if err := d.timer.Cancel(timerID); err != nil {
				slog.Error("Dispatcher.clearPendingFlow: failed to cancel expiry timer", "error", err, "subscriberID", subscriberID, "timerID", timerID)
			}
		}
	}
	if err := d.states.ResetState(ctx, subscriberID, flowType); err != nil {
		slog.Error("Dispatcher.clearPendingFlow: failed to reset state", "error", err, "subscriberID", subscriberID, "flowType", flowType)
	}
	d.hooks.UnregisterHook(subscriberID)
}
