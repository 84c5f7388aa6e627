package pipe

import (
	"sync/atomic"

	"github.com/mbocsi/ipcpipe/proto"
)

// Outbound is the bounded FIFO feeding the sender loop.
type Outbound struct {
	queue    chan proto.Frame
	closed   atomic.Bool
	enqueued atomic.Uint64
	rejected atomic.Uint64
}

type OutboundStats struct {
	Used     int    `json:"used"`
	Capacity int    `json:"capacity"`
	Enqueued uint64 `json:"enqueued"`
	Rejected uint64 `json:"rejected"`
}

func NewOutbound(size int) *Outbound {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Outbound{queue: make(chan proto.Frame, size)}
}

// Enqueue adds f without blocking. It returns false when the queue is full
// or closed.
func (o *Outbound) Enqueue(f proto.Frame) bool {
	if o.closed.Load() {
		o.rejected.Add(1)
		return false
	}
	select {
	case o.queue <- f:
		o.enqueued.Add(1)
		return true
	default:
		o.rejected.Add(1)
		return false
	}
}

func (o *Outbound) Close() {
	o.closed.Store(true)
}

func (o *Outbound) Stats() OutboundStats {
	return OutboundStats{
		Used:     len(o.queue),
		Capacity: cap(o.queue),
		Enqueued: o.enqueued.Load(),
		Rejected: o.rejected.Load(),
	}
}
