// Package tracker maintains per-subscriber daily calorie and macro totals.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/store"
)

// Tracker updates calorie-tracking records as meals are logged and resets
// them daily.
type Tracker struct {
	store store.Store
}

// New creates a calorie tracker backed by the given store.
func New(st store.Store) *Tracker {
	return &Tracker{store: st}
}

// LogMeal appends a meal to today's record for the subscriber, adds its
// values to the consumed totals, and recomputes remaining for calories and
// all three macros. A subscriber with no record yet gets one seeded from
// their profile targets.
func (t *Tracker) LogMeal(ctx context.Context, subscriberID string, meal models.Meal) (*models.CalorieTracking, error) {
	ct, err := t.store.GetCalorieTracking(subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load calorie tracking: %w", err)
	}
	if ct == nil {
		sub, err := t.store.GetSubscriber(subscriberID)
		if err != nil {
			return nil, fmt.Errorf("failed to load subscriber: %w", err)
		}
		if sub == nil {
			return nil, fmt.Errorf("unknown subscriber %s", subscriberID)
		}
		ct = &models.CalorieTracking{
			SubscriberID: subscriberID,
			DailyTarget:  sub.Targets,
		}
	}

	if meal.LoggedAt.IsZero() {
		meal.LoggedAt = time.Now()
	}
	ct.Meals = append(ct.Meals, meal)
	ct.Consumed.Calories += meal.Calories
	ct.Consumed.Protein += meal.Protein
	ct.Consumed.Carbs += meal.Carbs
	ct.Consumed.Fats += meal.Fats
	ct.Remaining = remainingFor(ct.DailyTarget, ct.Consumed)
	ct.UpdatedAt = time.Now()

	if err := t.store.SaveCalorieTracking(*ct); err != nil {
		return nil, fmt.Errorf("failed to save calorie tracking: %w", err)
	}
	slog.Info("Tracker.LogMeal: meal logged", "subscriberID", subscriberID,
		"calories", meal.Calories, "remainingCalories", ct.Remaining.Calories)
	return ct, nil
}

// ResetDaily zeroes consumed totals and restores remaining to target for
// every tracked subscriber. Targets are preserved. Running it twice in a row
// leaves records unchanged.
func (t *Tracker) ResetDaily(ctx context.Context) error {
	records, err := t.store.ListCalorieTracking()
	if err != nil {
		return fmt.Errorf("failed to list calorie tracking: %w", err)
	}

	for _, ct := range records {
		ct.Consumed = models.MacroTargets{}
		ct.Remaining = ct.DailyTarget
		ct.Meals = nil
		ct.UpdatedAt = time.Now()
		if err := t.store.SaveCalorieTracking(ct); err != nil {
			slog.Error("Tracker.ResetDaily: failed to reset record", "error", err, "subscriberID", ct.SubscriberID)
			continue
		}
	}
	slog.Info("Tracker.ResetDaily: reset complete", "records", len(records))
	return nil
}

// Summary formats today's standing for a reply.
func Summary(ct *models.CalorieTracking) string {
	return fmt.Sprintf(
		"Today so far: %d kcal eaten, %d kcal left. Protein %.0fg left, carbs %.0fg left, fats %.0fg left.",
		ct.Consumed.Calories, ct.Remaining.Calories,
		ct.Remaining.Protein, ct.Remaining.Carbs, ct.Remaining.Fats)
}

func remainingFor(target, consumed models.MacroTargets) models.MacroTargets {
	return models.MacroTargets{
		Calories: target.Calories - consumed.Calories,
		Protein:  target.Protein - consumed.Protein,
		Carbs:    target.Carbs - consumed.Carbs,
		Fats:     target.Fats - consumed.Fats,
	}
}

// mealAnalysisRegex matches the constrained summary line the food-photo
// analysis prompt asks the model to end with, e.g.
// "Calories = 650, Fats = 22g, Carbohydrates = 70g, Protein = 45g".
var mealAnalysisRegex = regexp.MustCompile(
	`Calories\s*=\s*(\d+)\s*,\s*Fats\s*=\s*(\d+(?:\.\d+)?)g\s*,\s*Carbohydrates\s*=\s*(\d+(?:\.\d+)?)g\s*,\s*Protein\s*=\s*(\d+(?:\.\d+)?)g`)

// ParseMealFromAnalysis extracts a meal from food-photo analysis text. All
// four fields must be present; otherwise nil is returned and the caller asks
// the user to resend the photo.
func ParseMealFromAnalysis(text string) *models.Meal {
	m := mealAnalysisRegex.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	calories, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	fats, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil
	}
	carbs, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil
	}
	protein, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return nil
	}

	return &models.Meal{
		Calories: calories,
		Fats:     fats,
		Carbs:    carbs,
		Protein:  protein,
	}
}
