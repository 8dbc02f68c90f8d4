// Package queue is the bounded-rate queue primitive of §4.A/§4.D: enqueue,
// delayed re-enqueue, dequeue, and explicit ack/nack, grounded on the
// teacher's Redis-backed dedup/coordination idiom (pkg/store/kv.RedisStore's
// TxPipeline usage) and the in-process Stub required as a first-class peer,
// not a test-only shim (spec: "the in-process 'stub' form of the queue is a
// first-class peer").
package queue

import (
	"context"
	"time"
)

// Message is one unit of dispatch work: the job to process and how many
// times it has already been attempted.
type Message struct {
	ID        string
	JobID     string
	Attempt   int
	VisibleAt time.Time
}

// Queue is the contract the dispatcher consumes: enqueue on job creation and
// manual retry (§4.C), dequeue in the dispatch loop, then exactly one of Ack
// (permanent success or permanent failure already recorded) or Nack
// (transient failure, re-deliver after delay) per message (§4.D).
type Queue interface {
	// Enqueue makes jobID immediately dequeueable.
	Enqueue(ctx context.Context, jobID string) error
	// EnqueueDelayed makes jobID dequeueable only after delay has elapsed,
	// the backoff-with-jitter re-delivery path (§4.D).
	EnqueueDelayed(ctx context.Context, jobID string, delay time.Duration) error
	// Dequeue pops the next visible message, or (nil, nil) if the queue has
	// nothing ready right now.
	Dequeue(ctx context.Context) (*Message, error)
	// Ack removes a message permanently; the dispatcher calls this once a
	// job reaches a terminal outcome (completed, failed-exhausted, or
	// not-a-creditor-reply).
	Ack(ctx context.Context, msg Message) error
	// Nack returns a message to the queue after delay, incrementing its
	// attempt count, for the transient-failure retry path.
	Nack(ctx context.Context, msg Message, delay time.Duration) error
}
