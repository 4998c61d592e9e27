// Package models defines the intent classification structures for CoachFlow.
package models

import "errors"

// Workout action verbs the intent classifier may emit.
const (
	WorkoutActionAdd    = "add"
	WorkoutActionRemove = "remove"
)

var (
	ErrMissingExercise    = errors.New("workout action is missing the exercise name")
	ErrMissingWorkoutType = errors.New("workout action is missing the workout type")
	ErrUnknownAction      = errors.New("unknown workout action")
)

// WorkoutAction is one structured program edit extracted from a message,
// e.g. "add barbell rows to my back day, 4 sets of 8".
type WorkoutAction struct {
	Action      string `json:"action"`
	Exercise    string `json:"exercise"`
	WorkoutType string `json:"workout_type"`
	Sets        int    `json:"sets,omitempty"`
	Reps        int    `json:"reps,omitempty"`
}

// Validate checks an action carries enough detail to execute without guessing.
func (a *WorkoutAction) Validate() error {
	switch a.Action {
	case WorkoutActionAdd, WorkoutActionRemove:
	default:
		return ErrUnknownAction
	}
	if a.Exercise == "" {
		return ErrMissingExercise
	}
	if a.WorkoutType == "" {
		return ErrMissingWorkoutType
	}
	return nil
}

// IntentResult is the structured classification the LLM returns for one
// combined message batch.
type IntentResult struct {
	IsWorkoutRequest         bool            `json:"is_workout_request"`
	IsFormCheckRequest       bool            `json:"is_form_check_request"`
	IsFoodAnalysisRequest    bool            `json:"is_food_analysis_request"`
	IsCalorieTrackingRequest bool            `json:"is_calorie_tracking_request"`
	Confidence               int             `json:"confidence"`
	Actions                  []WorkoutAction `json:"actions,omitempty"`
}

// AnyIntent reports whether any request-type flag is set.
func (r *IntentResult) AnyIntent() bool {
	return r.IsWorkoutRequest || r.IsFormCheckRequest || r.IsFoodAnalysisRequest || r.IsCalorieTrackingRequest
}
