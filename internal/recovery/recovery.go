// Package recovery restores in-memory routing state from the store after a
// restart. Pending two-step flows survive in flow state records; their
// priority hooks do not, so they are re-registered here.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coachflow/coachflow/internal/flow"
	"github.com/coachflow/coachflow/internal/messaging"
	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/store"
)

// Recoverer rebuilds response hooks for subscribers with live pending flows.
type Recoverer struct {
	store      store.Store
	dispatcher *flow.Dispatcher
	hooks      flow.HookRegistry
}

// New creates a recoverer.
func New(st store.Store, dispatcher *flow.Dispatcher, hooks flow.HookRegistry) *Recoverer {
	return &Recoverer{store: st, dispatcher: dispatcher, hooks: hooks}
}

// Run re-registers hooks for every persisted pending flow. Called once at
// startup before the webhook server begins accepting traffic.
func (r *Recoverer) Run(ctx context.Context) error {
	recovered := 0

	formChecks, err := r.store.ListFlowStates(models.FlowTypeFormCheck)
	if err != nil {
		return fmt.Errorf("failed to list form check states: %w", err)
	}
	for _, state := range formChecks {
		if state.CurrentState != models.StateAwaitingVideo {
			continue
		}
		r.register(state.SubscriberID, r.dispatcher.CreateFormCheckHook(state.SubscriberID))
		recovered++
	}

	foodFlows, err := r.store.ListFlowStates(models.FlowTypeFoodAnalysis)
	if err != nil {
		return fmt.Errorf("failed to list food analysis states: %w", err)
	}
	for _, state := range foodFlows {
		if state.CurrentState != models.StateAwaitingPhoto {
			continue
		}
		r.register(state.SubscriberID, r.dispatcher.CreateFoodPhotoHook(state.SubscriberID))
		recovered++
	}

	slog.Info("Recovery complete", "hooksRecovered", recovered)
	return nil
}

func (r *Recoverer) register(subscriberID string, hook messaging.ResponseHook) {
	if r.hooks.IsHookRegistered(subscriberID) {
		slog.Debug("Recovery: hook already registered, skipping", "subscriberID", subscriberID)
		return
	}
	r.hooks.RegisterHook(subscriberID, hook)
	slog.Debug("Recovery: hook re-registered", "subscriberID", subscriberID)
}
