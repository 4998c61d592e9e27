package trainerize

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoolRunsSubmittedJob(t *testing.T) {
	mock := NewMockClient()
	pool := NewPool(mock)
	defer pool.Stop()

	f, err := pool.Submit(func(ctx context.Context, c Client) error {
		return c.AddExercise(ctx, "Alice Smith", "back day", "barbell row", 4, 8)
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := f.Await(context.Background()); err != nil {
		t.Fatalf("job returned error: %v", err)
	}
	if len(mock.AddCalls) != 1 {
		t.Fatalf("expected 1 add call, got %d", len(mock.AddCalls))
	}
	if mock.AddCalls[0] != "Alice Smith/back day/barbell row 4x8" {
		t.Errorf("unexpected call: %s", mock.AddCalls[0])
	}
}

func TestPoolPropagatesJobError(t *testing.T) {
	mock := NewMockClient()
	mock.RemoveErr = errors.New("exercise not found in workout")
	pool := NewPool(mock)
	defer pool.Stop()

	f, err := pool.Submit(func(ctx context.Context, c Client) error {
		return c.RemoveExercise(ctx, "Alice Smith", "leg day", "leg press")
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := f.Await(context.Background()); err == nil {
		t.Error("expected job error to propagate through the future")
	}
}

func TestPoolSerializesJobsPerWorker(t *testing.T) {
	mock := NewMockClient()
	pool := NewPool(mock, WithWorkers(1))
	defer pool.Stop()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		f, err := pool.Submit(func(context.Context, Client) error {
			order = append(order, i)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		if err := f.Await(context.Background()); err != nil {
			t.Fatalf("job %d failed: %v", i, err)
		}
	}

	for i, got := range order {
		if got != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	mock := NewMockClient()
	block := make(chan struct{})
	pool := NewPool(mock, WithWorkers(1), WithQueueSize(1))
	defer pool.Stop()

	// First job occupies the worker, second fills the queue.
	first, err := pool.Submit(func(context.Context, Client) error {
		<-block
		return nil
	})
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	// Wait until the worker has picked up the first job so the queue slot
	// is genuinely free for the second.
	deadline := time.Now().Add(time.Second)
	queued := false
	for time.Now().Before(deadline) {
		if _, err := pool.Submit(func(context.Context, Client) error { return nil }); err == nil {
			queued = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !queued {
		t.Fatal("could not enqueue second job")
	}

	if _, err := pool.Submit(func(context.Context, Client) error { return nil }); err == nil {
		t.Error("expected queue-full error")
	}

	close(block)
	if err := first.Await(context.Background()); err != nil {
		t.Fatalf("first job failed: %v", err)
	}
}

func TestFutureAwaitHonorsContext(t *testing.T) {
	mock := NewMockClient()
	block := make(chan struct{})
	pool := NewPool(mock)

	f, err := pool.Submit(func(context.Context, Client) error {
		<-block
		return nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(block)
	pool.Stop()
}

func TestPoolJobTimeout(t *testing.T) {
	mock := NewMockClient()
	pool := NewPool(mock, WithJobTimeout(20*time.Millisecond))
	defer pool.Stop()

	f, err := pool.Submit(func(ctx context.Context, c Client) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := f.Await(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected job timeout, got %v", err)
	}
}
