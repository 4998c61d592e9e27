// Package models defines the durable per-subscriber records for CoachFlow.
package models

import "time"

// JourneyStage labels where a subscriber sits in the coaching funnel.
type JourneyStage string

const (
	JourneyStageLead    JourneyStage = "lead"
	JourneyStageTrial   JourneyStage = "trial"
	JourneyStagePaying  JourneyStage = "paying"
	JourneyStageAlumni  JourneyStage = "alumni"
	JourneyStageUnknown JourneyStage = "unknown"
)

// MacroTargets holds calories plus the three tracked macros. The same shape
// serves as daily target, consumed total, and remaining allowance.
type MacroTargets struct {
	Calories int     `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
}

// Subscriber is the durable record for one Instagram subscriber, keyed by the
// ManyChat subscriber id.
type Subscriber struct {
	ID           string       `json:"id"`
	IGUsername   string       `json:"ig_username"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	JourneyStage JourneyStage `json:"journey_stage"`
	IsOnboarding bool         `json:"is_onboarding"`
	IsTrial      bool         `json:"is_trial"`
	Targets      MacroTargets `json:"targets"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// FullName returns the subscriber's display name, falling back to the IG handle.
func (s *Subscriber) FullName() string {
	switch {
	case s.FirstName != "" && s.LastName != "":
		return s.FirstName + " " + s.LastName
	case s.FirstName != "":
		return s.FirstName
	default:
		return s.IGUsername
	}
}

// TurnRole marks who produced a conversation turn.
type TurnRole string

const (
	TurnRoleUser TurnRole = "user"
	TurnRoleAI   TurnRole = "ai"
)

// ConversationTurn is one entry of a subscriber's ordered conversation history.
type ConversationTurn struct {
	SubscriberID string    `json:"subscriber_id"`
	Role         TurnRole  `json:"role"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
}

// Meal is one logged meal inside a day's calorie tracking.
type Meal struct {
	Description string    `json:"description"`
	Calories    int       `json:"calories"`
	Protein     float64   `json:"protein"`
	Carbs       float64   `json:"carbs"`
	Fats        float64   `json:"fats"`
	LoggedAt    time.Time `json:"logged_at"`
}

// CalorieTracking is the daily calorie/macro ledger for one subscriber.
// Consumed and Remaining reset at local midnight; DailyTarget survives resets.
type CalorieTracking struct {
	SubscriberID string       `json:"subscriber_id"`
	DailyTarget  MacroTargets `json:"daily_target"`
	Consumed     MacroTargets `json:"consumed"`
	Remaining    MacroTargets `json:"remaining"`
	Meals        []Meal       `json:"meals,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TodoStatus values for coach to-do items.
type TodoStatus string

const (
	TodoStatusOpen TodoStatus = "open"
	TodoStatusDone TodoStatus = "done"
)

// TodoItem is a follow-up task surfaced to the human coach when automation
// could not complete an action on its own.
type TodoItem struct {
	ID           string     `json:"id"`
	SubscriberID string     `json:"subscriber_id"`
	Description  string     `json:"description"`
	Status       TodoStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}
