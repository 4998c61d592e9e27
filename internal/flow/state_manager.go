// Package flow implements intent classification and the per-subscriber
// conversation flows built on top of it.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/store"
)

// StateManager manages per-subscriber flow state. Pending two-step flows
// (waiting on a form video or food photo) live here rather than in process
// memory so restarts do not drop them.
type StateManager interface {
	GetCurrentState(ctx context.Context, subscriberID string, flowType models.FlowType) (models.StateType, error)
	SetCurrentState(ctx context.Context, subscriberID string, flowType models.FlowType, state models.StateType) error
	ResetState(ctx context.Context, subscriberID string, flowType models.FlowType) error
	GetStateData(ctx context.Context, subscriberID string, flowType models.FlowType, key models.DataKey) (string, error)
	SetStateData(ctx context.Context, subscriberID string, flowType models.FlowType, key models.DataKey, value string) error
}

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
}

// NewStoreBasedStateManager creates a StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// GetCurrentState retrieves the current state for a subscriber in a flow.
// Returns the empty state when the subscriber has no record for the flow.
func (sm *StoreBasedStateManager) GetCurrentState(ctx context.Context, subscriberID string, flowType models.FlowType) (models.StateType, error) {
	flowState, err := sm.store.GetFlowState(subscriberID, flowType)
	if err != nil {
		slog.Error("StateManager.GetCurrentState error", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		return "", err
	}
	if flowState == nil {
		return "", nil
	}
	return flowState.CurrentState, nil
}

// SetCurrentState updates the current state for a subscriber in a flow,
// creating the flow state record if none exists.
func (sm *StoreBasedStateManager) SetCurrentState(ctx context.Context, subscriberID string, flowType models.FlowType, state models.StateType) error {
	flowState, err := sm.store.GetFlowState(subscriberID, flowType)
	if err != nil {
		slog.Error("StateManager.SetCurrentState get error", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		return err
	}

	now := time.Now()
	if flowState == nil {
		flowState = &models.FlowState{
			SubscriberID: subscriberID,
			FlowType:     flowType,
			CurrentState: state,
			StateData:    make(map[models.DataKey]string),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	} else {
		flowState.CurrentState = state
		flowState.UpdatedAt = now
	}

	if err := sm.store.SaveFlowState(*flowState); err != nil {
		slog.Error("StateManager.SetCurrentState save error", "error", err, "subscriberID", subscriberID, "flowType", flowType, "state", state)
		return err
	}
	slog.Debug("StateManager.SetCurrentState succeeded", "subscriberID", subscriberID, "flowType", flowType, "state", state)
	return nil
}

// ResetState removes all state for a subscriber in a flow.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, subscriberID string, flowType models.FlowType) error {
	if err := sm.store.DeleteFlowState(subscriberID, flowType); err != nil {
		slog.Error("StateManager.ResetState error", "error", err, "subscriberID", subscriberID, "flowType", flowType)
		return err
	}
	slog.Info("StateManager.ResetState succeeded", "subscriberID", subscriberID, "flowType", flowType)
	return nil
}

// GetStateData retrieves a value from the subscriber's flow state data map.
func (sm *StoreBasedStateManager) GetStateData(ctx context.Context, subscriberID string, flowType models.FlowType, key models.DataKey) (string, error) {
	flowState, err := sm.store.GetFlowState(subscriberID, flowType)
	if err != nil {
		slog.Error("StateManager.GetStateData error", "error", err, "subscriberID", subscriberID, "flowType", flowType, "key", key)
		return "", err
	}
	if flowState == nil || flowState.StateData == nil {
		return "", nil
	}
	return flowState.StateData[key], nil
}

// SetStateData stores a value in the subscriber's flow state data map,
// creating the flow state record if none exists.
func (sm *StoreBasedStateManager) SetStateData(ctx context.Context, subscriberID string, flowType models.FlowType, key models.DataKey, value string) error {
	flowState, err := sm.store.GetFlowState(subscriberID, flowType)
	if err != nil {
		slog.Error("StateManager.SetStateData get error", "error", err, "subscriberID", subscriberID, "flowType", flowType, "key", key)
		return err
	}

	now := time.Now()
	if flowState == nil {
		flowState = &models.FlowState{
			SubscriberID: subscriberID,
			FlowType:     flowType,
			StateData:    map[models.DataKey]string{key: value},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	} else {
		if flowState.StateData == nil {
			flowState.StateData = make(map[models.DataKey]string)
		}
		flowState.StateData[key] = value
		flowState.UpdatedAt = now
	}

	if err := sm.store.SaveFlowState(*flowState); err != nil {
		slog.Error("StateManager.SetStateData save error", "error", err, "subscriberID", subscriberID, "flowType", flowType, "key", key)
		return err
	}
	return nil
}
