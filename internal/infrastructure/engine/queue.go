package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue delivers messages no earlier than their delivery time.
type Queue interface {
	// Push schedules msg for delivery after delay.
	Push(ctx context.Context, msg Message, delay time.Duration) error
	// Poll removes and returns the next due message, or nil when none is due.
	Poll(ctx context.Context) (*Message, error)
	// Size reports how many messages are waiting, due or not.
	Size(ctx context.Context) (int, error)
}

type pending struct {
	msg       Message
	deliverAt time.Time
	seq       uint64
}

// MemoryQueue is an in-process Queue used by single-node runs and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	items []pending
	seq   uint64
	now   func() time.Time
}

// NewMemoryQueue creates an empty queue. A nil clock uses time.Now.
func NewMemoryQueue(now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{now: now}
}

// Push implements Queue.
func (q *MemoryQueue) Push(_ context.Context, msg Message, delay time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.items = append(q.items, pending{msg: msg, deliverAt: q.now().Add(delay), seq: q.seq})
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].deliverAt.Equal(q.items[j].deliverAt) {
			return q.items[i].seq < q.items[j].seq
		}
		return q.items[i].deliverAt.Before(q.items[j].deliverAt)
	})
	return nil
}

// Poll implements Queue.
func (q *MemoryQueue) Poll(context.Context) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].deliverAt.After(q.now()) {
		return nil, nil
	}
	msg := q.items[0].msg
	q.items = q.items[1:]
	return &msg, nil
}

// Size implements Queue.
func (q *MemoryQueue) Size(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
