// Package flow provides timer implementations for scheduled actions.
package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coachflow/coachflow/internal/models"
)

// timerEntry tracks information about a scheduled timer.
type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
	description string
}

// SimpleTimer implements the Timer interface using Go's standard time package.
type SimpleTimer struct {
	timers map[string]*timerEntry
	mu     sync.RWMutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	slog.Debug("Creating SimpleTimer")
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	t.mu.Unlock()

	now := time.Now()
	timer := time.AfterFunc(delay, func() {
		slog.Debug("SimpleTimer executing scheduled function", "id", id)
		fn()
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = &timerEntry{
		timer:       timer,
		scheduledAt: now,
		expiresAt:   now.Add(delay),
		description: fmt.Sprintf("Timer scheduled for %v", delay),
	}
	t.mu.Unlock()

	slog.Debug("SimpleTimer.ScheduleAfter succeeded", "id", id, "delay", delay)
	return id, nil
}

// ScheduleAt schedules a function to run at a specific time. Times in the
// past run immediately.
func (t *SimpleTimer) ScheduleAt(when time.Time, fn func()) (string, error) {
	delay := time.Until(when)
	if delay < 0 {
		slog.Warn("SimpleTimer.ScheduleAt: time is in the past, executing immediately", "when", when)
		go fn()
		return "", nil
	}
	return t.ScheduleAfter(delay, fn)
}

// Cancel cancels a scheduled function by ID. Cancelling an unknown or
// already-fired timer is not an error.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer.Cancel succeeded", "id", id)
	}
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	t.timers = make(map[string]*timerEntry)
	slog.Info("SimpleTimer stopped all timers")
}

// ListActive returns information about all active timers.
func (t *SimpleTimer) ListActive() []models.TimerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]models.TimerInfo, 0, len(t.timers))
	now := time.Now()
	for id, entry := range t.timers {
		remaining := entry.expiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		result = append(result, models.TimerInfo{
			ID:          id,
			ScheduledAt: entry.scheduledAt,
			ExpiresAt:   entry.expiresAt,
			Remaining:   remaining.String(),
			Description: entry.description,
		})
	}
	return result
}

// GetTimer returns information about a specific timer.
func (t *SimpleTimer) GetTimer(id string) (*models.TimerInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, exists := t.timers[id]
	if !exists {
		return nil, fmt.Errorf("timer not found: %s", id)
	}
	remaining := time.Until(entry.expiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return &models.TimerInfo{
		ID:          id,
		ScheduledAt: entry.scheduledAt,
		ExpiresAt:   entry.expiresAt,
		Remaining:   remaining.String(),
		Description: entry.description,
	}, nil
}
