package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stub is an in-process Queue: a mutex-guarded min-heap ordered by
// VisibleAt. It is a first-class peer of RedisQueue, not a test double —
// process wiring may run entirely on Stub before Redis is provisioned.
type Stub struct {
	mu sync.Mutex
	pq stubHeap
}

func NewStub() *Stub {
	s := &Stub{}
	heap.Init(&s.pq)
	return s
}

func (s *Stub) Enqueue(_ context.Context, jobID string) error {
	return s.push(jobID, 0, time.Now().UTC())
}

func (s *Stub) EnqueueDelayed(_ context.Context, jobID string, delay time.Duration) error {
	return s.push(jobID, 0, time.Now().UTC().Add(delay))
}

func (s *Stub) push(jobID string, attempt int, visibleAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.pq, &Message{ID: uuid.NewString(), JobID: jobID, Attempt: attempt, VisibleAt: visibleAt})
	return nil
}

func (s *Stub) Dequeue(_ context.Context) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pq.Len() == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	if s.pq[0].VisibleAt.After(now) {
		return nil, nil
	}
	msg := heap.Pop(&s.pq).(*Message)
	return msg, nil
}

func (s *Stub) Ack(_ context.Context, _ Message) error {
	return nil
}

func (s *Stub) Nack(_ context.Context, msg Message, delay time.Duration) error {
	return s.push(msg.JobID, msg.Attempt+1, time.Now().UTC().Add(delay))
}

type stubHeap []*Message

func (h stubHeap) Len() int            { return len(h) }
func (h stubHeap) Less(i, j int) bool  { return h[i].VisibleAt.Before(h[j].VisibleAt) }
func (h stubHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *stubHeap) Push(x interface{}) { *h = append(*h, x.(*Message)) }
func (h *stubHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
