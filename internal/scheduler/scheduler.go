// Package scheduler provides cron-based scheduling for CoachFlow.
//
// It runs the nightly calorie reset and the hourly coach to-do reminder
// sweep in the business's local timezone.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron expressions for the built-in jobs.
const (
	midnightExpr = "0 0 * * *"
	hourlyExpr   = "0 * * * *"
)

// Scheduler provides cron-based job scheduling in a fixed timezone.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location
}

// New creates and starts a cron scheduler in the named timezone. An empty
// name runs in the system's local timezone.
func New(timezone string) (*Scheduler, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	slog.Info("Scheduler started", "timezone", loc.String())
	return &Scheduler{cron: c, loc: loc}, nil
}

// AddJob schedules a task using the provided cron expression.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddDailyMidnightJob runs task at local midnight every day.
func (s *Scheduler) AddDailyMidnightJob(task func()) error {
	return s.AddJob(midnightExpr, task)
}

// AddHourlyJob runs task at the top of every hour.
func (s *Scheduler) AddHourlyJob(task func()) error {
	return s.AddJob(hourlyExpr, task)
}

// Location returns the timezone jobs run in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Scheduler stopped")
}
