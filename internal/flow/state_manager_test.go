package flow

import (
	"context"
	"testing"

	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/store"
)

func TestStateManagerSetAndGet(t *testing.T) {
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	ctx := context.Background()

	state, err := sm.GetCurrentState(ctx, "1001", models.FlowTypeFormCheck)
	if err != nil {
		t.Fatalf("GetCurrentState failed: %v", err)
	}
	if state != "" {
		t.Errorf("expected empty state for unknown subscriber, got %s", state)
	}

	if err := sm.SetCurrentState(ctx, "1001", models.FlowTypeFormCheck, models.StateAwaitingVideo); err != nil {
		t.Fatalf("SetCurrentState failed: %v", err)
	}
	state, err = sm.GetCurrentState(ctx, "1001", models.FlowTypeFormCheck)
	if err != nil || state != models.StateAwaitingVideo {
		t.Errorf("expected awaiting-video state, got %s / %v", state, err)
	}
}

func TestStateManagerStateData(t *testing.T) {
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	ctx := context.Background()

	if err := sm.SetStateData(ctx, "1001", models.FlowTypeFormCheck, models.DataKeyExercise, "squat"); err != nil {
		t.Fatalf("SetStateData failed: %v", err)
	}
	val, err := sm.GetStateData(ctx, "1001", models.FlowTypeFormCheck, models.DataKeyExercise)
	if err != nil || val != "squat" {
		t.Errorf("expected squat, got %q / %v", val, err)
	}

	val, err = sm.GetStateData(ctx, "1001", models.FlowTypeFormCheck, models.DataKeyMealContext)
	if err != nil || val != "" {
		t.Errorf("expected empty for unset key, got %q / %v", val, err)
	}
}

func TestStateManagerReset(t *testing.T) {
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	ctx := context.Background()

	if err := sm.SetCurrentState(ctx, "1001", models.FlowTypeFormCheck, models.StateAwaitingVideo); err != nil {
		t.Fatalf("SetCurrentState failed: %v", err)
	}
	if err := sm.ResetState(ctx, "1001", models.FlowTypeFormCheck); err != nil {
		t.Fatalf("ResetState failed: %v", err)
	}
	state, err := sm.GetCurrentState(ctx, "1001", models.FlowTypeFormCheck)
	if err != nil || state != "" {
		t.Errorf("expected state cleared, got %s / %v", state, err)
	}
}
