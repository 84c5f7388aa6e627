package pipe

import (
	"sync"

	"github.com/mbocsi/ipcpipe/proto"
)

// Ring is the fixed-capacity inbound buffer. It is written only from the
// transport's delivery context through Deliver and read only by the
// dispatcher. When full, the new frame is dropped and the queued ones are
// left untouched.
type Ring struct {
	mu    sync.Mutex
	buf   []proto.Frame
	head  int
	count int

	total     uint64
	dropped   uint64
	highWater int

	wake chan struct{}
}

type RingStats struct {
	Capacity  int    `json:"capacity"`
	Pending   int    `json:"pending"`
	Total     uint64 `json:"total"`   // Deliveries attempted
	Dropped   uint64 `json:"dropped"` // Deliveries refused because the ring was full
	HighWater int    `json:"high_water"`
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{
		buf:  make([]proto.Frame, capacity),
		wake: make(chan struct{}, 1),
	}
}

// Deliver copies f into the next free slot. It never blocks or allocates.
func (r *Ring) Deliver(f *proto.Frame) bool {
	r.mu.Lock()
	r.total++
	if r.count == len(r.buf) {
		r.dropped++
		r.mu.Unlock()
		return false
	}
	r.buf[(r.head+r.count)%len(r.buf)] = *f
	r.count++
	if r.count > r.highWater {
		r.highWater = r.count
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest frame.
func (r *Ring) Pop() (proto.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return proto.Frame{}, false
	}
	f := r.buf[r.head]
	r.buf[r.head] = proto.Frame{}
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return f, true
}

// Wake is signalled after every successful Deliver.
func (r *Ring) Wake() <-chan struct{} {
	return r.wake
}

func (r *Ring) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Ring) Capacity() int {
	return len(r.buf)
}

func (r *Ring) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Capacity:  len(r.buf),
		Pending:   r.count,
		Total:     r.total,
		Dropped:   r.dropped,
		HighWater: r.highWater,
	}
}
