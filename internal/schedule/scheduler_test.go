package schedule

import (
	"context"
	"testing"
)

func TestNew_InvalidTimezone(t *testing.T) {
	if _, err := New("Not/AZone"); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestAddJob_InvalidExpression(t *testing.T) {
	s, err := New("UTC")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = s.AddJob("pipeline", "not a cron expr", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestAddRemoveJob(t *testing.T) {
	s, err := New("UTC")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.AddJob("pipeline", "0 9 * * *", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if len(s.jobs) != 1 {
		t.Fatalf("expected 1 registered job, got %d", len(s.jobs))
	}

	s.RemoveJob("pipeline")
	if len(s.jobs) != 0 {
		t.Fatalf("expected 0 jobs after removal, got %d", len(s.jobs))
	}
}
