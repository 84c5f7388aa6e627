package broker

import (
	"context"

	"github.com/google/uuid"
)

const DefaultQueueSize = 8

// Queue is a bounded per-subscriber inbox. Every event taken from it must
// be released.
type Queue struct {
	id string
	ch chan Event
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		id: "queue-" + uuid.NewString(),
		ch: make(chan Event, capacity),
	}
}

func (q *Queue) ID() string {
	return q.id
}

func (q *Queue) C() <-chan Event {
	return q.ch
}

func (q *Queue) Len() int { return len(q.ch) }
func (q *Queue) Cap() int { return cap(q.ch) }

func (q *Queue) Receive(ctx context.Context) (Event, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (q *Queue) TryReceive() (Event, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
		return Event{}, false
	}
}

// Drain releases everything still queued. Call it after unsubscribing.
func (q *Queue) Drain() int {
	n := 0
	for {
		e, ok := q.TryReceive()
		if !ok {
			return n
		}
		e.Release()
		n++
	}
}
