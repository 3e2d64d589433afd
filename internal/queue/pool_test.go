package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func startPool(t *testing.T, s Store, opts ...PoolOption) *Pool {
	t.Helper()
	base := []PoolOption{
		WithConcurrency(1),
		WithQueues("captures"),
		WithPollInterval(10 * time.Millisecond),
		WithBackoff(NewExponential(time.Millisecond, 10*time.Millisecond)),
	}
	p := NewPool(s, nil, append(base, opts...)...)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	s := NewMemoryStore()
	var processed atomic.Bool

	p := startPool(t, s)
	p.Register("capture", func(_ context.Context, j *Job) error {
		if string(j.Payload) != `{"order_id":"order-1"}` {
			t.Errorf("payload = %s", j.Payload)
		}
		processed.Store(true)
		return nil
	})

	j := NewJob("job-1", "capture", "captures", []byte(`{"order_id":"order-1"}`), 0, 3, time.Now().UTC())
	if _, _, err := s.Add(context.Background(), j); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitFor(t, "job processing", processed.Load)
	waitFor(t, "completed state", func() bool {
		got, err := s.Get(context.Background(), "job-1")
		return err == nil && got.State == StateCompleted
	})
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	s := NewMemoryStore()
	var calls atomic.Int32

	p := startPool(t, s)
	p.Register("capture", func(_ context.Context, _ *Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	j := NewJob("job-1", "capture", "captures", nil, 0, 5, time.Now().UTC())
	if _, _, err := s.Add(context.Background(), j); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitFor(t, "third attempt", func() bool { return calls.Load() >= 3 })
	waitFor(t, "completed after retries", func() bool {
		got, err := s.Get(context.Background(), "job-1")
		return err == nil && got.State == StateCompleted
	})

	got, _ := s.Get(context.Background(), "job-1")
	if got.AttemptsMade != 2 {
		t.Fatalf("attempts made = %d, want 2 failed attempts", got.AttemptsMade)
	}
}

func TestPool_ExhaustionDeadLetters(t *testing.T) {
	s := NewMemoryStore()
	var dlqCalls atomic.Int32
	var dlqErr atomic.Value

	p := startPool(t, s, WithDeadLetter(func(_ context.Context, j *Job, err error) {
		dlqCalls.Add(1)
		dlqErr.Store(err.Error())
	}))
	p.Register("capture", func(_ context.Context, _ *Job) error {
		return errors.New("gateway down")
	})

	j := NewJob("job-1", "capture", "captures", nil, 0, 3, time.Now().UTC())
	if _, _, err := s.Add(context.Background(), j); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitFor(t, "dead letter callback", func() bool { return dlqCalls.Load() == 1 })

	got, err := s.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.AttemptsMade != 3 {
		t.Fatalf("attempts = %d, want 3", got.AttemptsMade)
	}
	if dlqErr.Load().(string) != "gateway down" {
		t.Fatalf("dlq error = %v", dlqErr.Load())
	}

	// The callback fires exactly once.
	time.Sleep(50 * time.Millisecond)
	if dlqCalls.Load() != 1 {
		t.Fatalf("dead letter fired %d times", dlqCalls.Load())
	}
}

func TestPool_NoHandlerGoesToDeadLetter(t *testing.T) {
	s := NewMemoryStore()
	var dlqCalls atomic.Int32

	startPool(t, s, WithDeadLetter(func(_ context.Context, _ *Job, _ error) {
		dlqCalls.Add(1)
	}))

	j := NewJob("job-1", "unknown", "captures", nil, 0, 1, time.Now().UTC())
	if _, _, err := s.Add(context.Background(), j); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitFor(t, "dead letter for unregistered handler", func() bool { return dlqCalls.Load() == 1 })
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(LimitConfig{Queue: "captures", MaxConcurrency: 2})

	if !l.Acquire("captures") || !l.Acquire("captures") {
		t.Fatal("expected two acquires to succeed")
	}
	if l.Acquire("captures") {
		t.Fatal("third acquire should be refused at MaxConcurrency=2")
	}
	l.Release("captures")
	if !l.Acquire("captures") {
		t.Fatal("acquire after release should succeed")
	}
	if l.ActiveCount("captures") != 2 {
		t.Fatalf("active = %d, want 2", l.ActiveCount("captures"))
	}

	// Unconfigured queues are unlimited.
	if !l.Acquire("other") {
		t.Fatal("unconfigured queue should always acquire")
	}
}
