package tracker

import (
	"context"
	"testing"

	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.SaveSubscriber(models.Subscriber{
		ID:        "1001",
		FirstName: "Alice",
		Targets:   models.MacroTargets{Calories: 2200, Protein: 160, Carbs: 220, Fats: 70},
	}); err != nil {
		t.Fatalf("failed to seed subscriber: %v", err)
	}
	return New(st), st
}

func TestLogMealUpdatesTotals(t *testing.T) {
	tr, _ := newTestTracker(t)

	ct, err := tr.LogMeal(context.Background(), "1001", models.Meal{
		Description: "chicken and rice", Calories: 650, Protein: 45, Carbs: 70, Fats: 12,
	})
	if err != nil {
		t.Fatalf("LogMeal failed: %v", err)
	}
	if ct.Consumed.Calories != 650 {
		t.Errorf("expected 650 consumed, got %d", ct.Consumed.Calories)
	}
	if ct.Remaining.Calories != 1550 {
		t.Errorf("expected 1550 remaining, got %d", ct.Remaining.Calories)
	}
	if ct.Remaining.Protein != 115 {
		t.Errorf("expected 115g protein remaining, got %.1f", ct.Remaining.Protein)
	}
	if len(ct.Meals) != 1 {
		t.Errorf("expected 1 meal logged, got %d", len(ct.Meals))
	}
}

func TestLogMealAccumulatesAcrossMeals(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.LogMeal(ctx, "1001", models.Meal{Calories: 500, Protein: 30, Carbs: 50, Fats: 15}); err != nil {
		t.Fatalf("first LogMeal failed: %v", err)
	}
	ct, err := tr.LogMeal(ctx, "1001", models.Meal{Calories: 700, Protein: 50, Carbs: 60, Fats: 20})
	if err != nil {
		t.Fatalf("second LogMeal failed: %v", err)
	}
	if ct.Consumed.Calories != 1200 {
		t.Errorf("expected 1200 consumed, got %d", ct.Consumed.Calories)
	}
	if ct.Remaining.Calories != 1000 {
		t.Errorf("expected 1000 remaining, got %d", ct.Remaining.Calories)
	}
	if len(ct.Meals) != 2 {
		t.Errorf("expected 2 meals, got %d", len(ct.Meals))
	}
}

func TestLogMealUnknownSubscriber(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.LogMeal(context.Background(), "9999", models.Meal{Calories: 100}); err == nil {
		t.Error("expected error for unknown subscriber")
	}
}

func TestResetDailyRestoresTargets(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.LogMeal(ctx, "1001", models.Meal{Calories: 900, Protein: 60, Carbs: 80, Fats: 30}); err != nil {
		t.Fatalf("LogMeal failed: %v", err)
	}
	if err := tr.ResetDaily(ctx); err != nil {
		t.Fatalf("ResetDaily failed: %v", err)
	}

	ct, err := st.GetCalorieTracking("1001")
	if err != nil || ct == nil {
		t.Fatalf("failed to load record after reset: %v", err)
	}
	if ct.Consumed.Calories != 0 || ct.Consumed.Protein != 0 {
		t.Errorf("expected consumed zeroed, got %+v", ct.Consumed)
	}
	if ct.Remaining != ct.DailyTarget {
		t.Errorf("expected remaining == target, got %+v vs %+v", ct.Remaining, ct.DailyTarget)
	}
	if ct.DailyTarget.Calories != 2200 {
		t.Errorf("expected target preserved, got %d", ct.DailyTarget.Calories)
	}
	if len(ct.Meals) != 0 {
		t.Errorf("expected meals cleared, got %d", len(ct.Meals))
	}
}

func TestResetDailyIsIdempotent(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.LogMeal(ctx, "1001", models.Meal{Calories: 400}); err != nil {
		t.Fatalf("LogMeal failed: %v", err)
	}
	if err := tr.ResetDaily(ctx); err != nil {
		t.Fatalf("first ResetDaily failed: %v", err)
	}
	first, _ := st.GetCalorieTracking("1001")
	if err := tr.ResetDaily(ctx); err != nil {
		t.Fatalf("second ResetDaily failed: %v", err)
	}
	second, _ := st.GetCalorieTracking("1001")

	if first.Consumed != second.Consumed || first.Remaining != second.Remaining || first.DailyTarget != second.DailyTarget {
		t.Errorf("second reset changed the record: %+v vs %+v", first, second)
	}
}

func TestParseMealFromAnalysis(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *models.Meal
	}{
		{
			name: "full summary line",
			text: "Looks like grilled chicken with rice. Calories = 650, Fats = 12g, Carbohydrates = 70g, Protein = 45g",
			want: &models.Meal{Calories: 650, Fats: 12, Carbs: 70, Protein: 45},
		},
		{
			name: "decimal macros",
			text: "Calories = 480, Fats = 15.5g, Carbohydrates = 42.5g, Protein = 38g",
			want: &models.Meal{Calories: 480, Fats: 15.5, Carbs: 42.5, Protein: 38},
		},
		{
			name: "missing protein",
			text: "Calories = 650, Fats = 12g, Carbohydrates = 70g",
			want: nil,
		},
		{
			name: "no values at all",
			text: "I can't tell what's in that photo, could you send a clearer one?",
			want: nil,
		},
		{
			name: "fields out of order",
			text: "Protein = 45g, Calories = 650, Fats = 12g, Carbohydrates = 70g",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMealFromAnalysis(tt.text)
			if tt.want == nil {
				if got != nil {
					t.Errorf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected a meal, got nil")
			}
			if got.Calories != tt.want.Calories || got.Fats != tt.want.Fats ||
				got.Carbs != tt.want.Carbs || got.Protein != tt.want.Protein {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
