// Package models defines state management structures for CoachFlow flows.
package models

import "time"

// FlowType identifies a pending two-step flow a subscriber can be in.
type FlowType string

const (
	// FlowTypeFormCheck tracks "asked for a form video, awaiting it".
	FlowTypeFormCheck FlowType = "form_check"
	// FlowTypeFoodAnalysis tracks "asked for a food photo, awaiting it".
	FlowTypeFoodAnalysis FlowType = "food_analysis"
	// FlowTypeOnboarding tracks a subscriber working through intake questions.
	FlowTypeOnboarding FlowType = "onboarding"
)

// StateType is a named state within a flow.
type StateType string

const (
	StateAwaitingVideo    StateType = "AWAITING_VIDEO"
	StateAwaitingPhoto    StateType = "AWAITING_PHOTO"
	StateOnboardingActive StateType = "ONBOARDING_ACTIVE"
)

// DataKey names an entry in a flow state's auxiliary data map.
type DataKey string

const (
	DataKeyAskedAt     DataKey = "asked_at"
	DataKeyExercise    DataKey = "exercise"
	DataKeyMealContext DataKey = "meal_context"
	// DataKeyExpiryTimer holds the timer id that abandons the flow if the
	// follow-up never arrives.
	DataKeyExpiryTimer DataKey = "expiry_timer"
)

// FlowState represents the current state of a subscriber in a flow.
// Persisting these is what lets pending two-step requests survive restarts.
type FlowState struct {
	SubscriberID string             `json:"subscriber_id"`
	FlowType     FlowType           `json:"flow_type"`
	CurrentState StateType          `json:"current_state"`
	StateData    map[DataKey]string `json:"state_data,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// TimerInfo describes an active scheduled timer for the /timers endpoints.
type TimerInfo struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
	Description string    `json:"description"`
}

// Timer abstracts one-shot scheduled callbacks so components can share a
// single timer implementation and tests can substitute their own.
type Timer interface {
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	ScheduleAt(when time.Time, fn func()) (string, error)
	Cancel(id string) error
	Stop()
	ListActive() []TimerInfo
	GetTimer(id string) (*TimerInfo, error)
}
