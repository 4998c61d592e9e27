// Package trainerize runs Trainerize program edits and data harvesting
// through a worker pool, keeping the slow browser automation off the
// webhook handler path.
package trainerize

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ProgressSummary is the harvested overview of a client's recent training.
type ProgressSummary struct {
	ClientName      string   `json:"client_name"`
	WorkoutsPerWeek float64  `json:"workouts_per_week"`
	CurrentWeight   float64  `json:"current_weight"`
	WeightChange    float64  `json:"weight_change"`
	Highlights      []string `json:"highlights"`
}

// SetRecord is one logged set for an exercise.
type SetRecord struct {
	Exercise string  `json:"exercise"`
	Date     string  `json:"date"`
	Weight   float64 `json:"weight"`
	Reps     int     `json:"reps"`
}

// Client performs operations against a client's Trainerize account. The
// production implementation drives a browser session; it sits behind this
// interface so the rest of the service never touches automation details.
type Client interface {
	AddExercise(ctx context.Context, clientName, workoutType, exercise string, sets, reps int) error
	RemoveExercise(ctx context.Context, clientName, workoutType, exercise string) error
	FetchProgressSummary(ctx context.Context, clientName string) (*ProgressSummary, error)
	FetchSetHistory(ctx context.Context, clientName, exercise string) ([]SetRecord, error)
}

// UnavailableClient fails every operation. Used when no automation backend
// is configured so workout edits degrade to a coach to-do instead of
// crashing the dispatcher.
type UnavailableClient struct{}

var errAutomationUnavailable = errors.New("trainerize automation is not configured")

func (UnavailableClient) AddExercise(context.Context, string, string, string, int, int) error {
	return errAutomationUnavailable
}

func (UnavailableClient) RemoveExercise(context.Context, string, string, string) error {
	return errAutomationUnavailable
}

func (UnavailableClient) FetchProgressSummary(context.Context, string) (*ProgressSummary, error) {
	return nil, errAutomationUnavailable
}

func (UnavailableClient) FetchSetHistory(context.Context, string, string) ([]SetRecord, error) {
	return nil, errAutomationUnavailable
}

// MockClient is a test double recording calls and returning scripted results.
type MockClient struct {
	mu sync.Mutex

	AddCalls    []string
	RemoveCalls []string

	AddErr     error
	RemoveErr  error
	Summary    *ProgressSummary
	SummaryErr error
	History    []SetRecord
	HistoryErr error
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) AddExercise(_ context.Context, clientName, workoutType, exercise string, sets, reps int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls = append(m.AddCalls, fmt.Sprintf("%s/%s/%s %dx%d", clientName, workoutType, exercise, sets, reps))
	return m.AddErr
}

func (m *MockClient) RemoveExercise(_ context.Context, clientName, workoutType, exercise string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveCalls = append(m.RemoveCalls, fmt.Sprintf("%s/%s/%s", clientName, workoutType, exercise))
	return m.RemoveErr
}

func (m *MockClient) FetchProgressSummary(_ context.Context, clientName string) (*ProgressSummary, error) {
	return m.Summary, m.SummaryErr
}

func (m *MockClient) FetchSetHistory(_ context.Context, clientName, exercise string) ([]SetRecord, error) {
	return m.History, m.HistoryErr
}
