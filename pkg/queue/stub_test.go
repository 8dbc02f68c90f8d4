package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/justLukaBB/creditor-email-matcher/pkg/queue"
)

func TestStubDequeueReturnsNilWhenEmpty(t *testing.T) {
	s := queue.NewStub()
	msg, err := s.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message on empty queue, got %+v", msg)
	}
}

func TestStubEnqueueThenDequeueRoundTrips(t *testing.T) {
	s := queue.NewStub()
	if err := s.Enqueue(context.Background(), "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, err := s.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil || msg.JobID != "job-1" {
		t.Fatalf("expected job-1, got %+v", msg)
	}
	if msg.Attempt != 0 {
		t.Fatalf("expected attempt 0, got %d", msg.Attempt)
	}
}

func TestStubEnqueueDelayedNotVisibleUntilElapsed(t *testing.T) {
	s := queue.NewStub()
	if err := s.EnqueueDelayed(context.Background(), "job-2", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, err := s.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected message to stay invisible until delay elapses, got %+v", msg)
	}
}

func TestStubNackIncrementsAttemptAndRequeues(t *testing.T) {
	s := queue.NewStub()
	if err := s.Enqueue(context.Background(), "job-3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, err := s.Dequeue(context.Background())
	if err != nil || msg == nil {
		t.Fatalf("expected a message, got %+v err=%v", msg, err)
	}

	if err := s.Nack(context.Background(), *msg, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	redelivered, err := s.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if redelivered == nil || redelivered.JobID != "job-3" {
		t.Fatalf("expected job-3 redelivered, got %+v", redelivered)
	}
	if redelivered.Attempt != msg.Attempt+1 {
		t.Fatalf("expected attempt %d, got %d", msg.Attempt+1, redelivered.Attempt)
	}
}

func TestStubDequeueOrdersByVisibleAt(t *testing.T) {
	s := queue.NewStub()
	if err := s.EnqueueDelayed(context.Background(), "later", 50*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Enqueue(context.Background(), "sooner"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, err := s.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil || msg.JobID != "sooner" {
		t.Fatalf("expected sooner job to be ready first, got %+v", msg)
	}
}
