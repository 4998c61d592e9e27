package scheduler

import (
	"testing"
	"time"
)

func TestNewWithValidTimezone(t *testing.T) {
	s, err := New("Australia/Sydney")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Stop()

	if s.Location().String() != "Australia/Sydney" {
		t.Errorf("expected Sydney timezone, got %s", s.Location())
	}
}

func TestNewWithInvalidTimezone(t *testing.T) {
	if _, err := New("Not/AZone"); err == nil {
		t.Error("expected error for invalid timezone")
	}
}

func TestNewWithEmptyTimezoneUsesLocal(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Stop()

	if s.Location() != time.Local {
		t.Errorf("expected local timezone, got %s", s.Location())
	}
}

func TestAddJobRejectsInvalidExpression(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Stop()

	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.AddDailyMidnightJob(func() {}); err != nil {
		t.Errorf("midnight job should register: %v", err)
	}
	if err := s.AddHourlyJob(func() {}); err != nil {
		t.Errorf("hourly job should register: %v", err)
	}
}
