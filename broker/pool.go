package broker

import (
	"sync"
	"time"
)

// Event is one delivered copy of a published message. Payload points into
// the bus arena and is only valid until Release.
type Event struct {
	Channel   uint16
	Type      uint32
	Payload   []byte
	Timestamp time.Time
	FromISR   bool

	pool *pool
	slot int
	gen  uint32
}

// Release returns the event's slot to the pool. Releasing the same event
// twice, or a stale copy of it, does nothing.
func (e Event) Release() {
	if e.pool != nil {
		e.pool.release(e.slot, e.gen)
	}
}

type slot struct {
	gen   uint32
	inUse bool
	isr   bool
	buf   []byte
}

// pool is a fixed arena of event slots, each owning a payload window of
// the same backing array. The last isrReserve slots only serve ISR
// publishes.
type pool struct {
	mu       sync.Mutex
	slots    []slot
	free     []int
	isrFree  []int
	arena    []byte
	capacity int
	reserve  int

	exhausted uint32
	peak      int
}

type PoolStats struct {
	Capacity    int    `json:"capacity"`
	Free        int    `json:"free"`
	ISRCapacity int    `json:"isr_capacity"`
	ISRFree     int    `json:"isr_free"`
	InUse       int    `json:"in_use"`
	Peak        int    `json:"peak"`
	Exhausted   uint32 `json:"exhausted"`
}

func newPool(size, reserve, payload int) *pool {
	p := &pool{
		slots:    make([]slot, size),
		arena:    make([]byte, size*payload),
		capacity: size,
		reserve:  reserve,
	}
	for i := range p.slots {
		p.slots[i].buf = p.arena[i*payload : (i+1)*payload : (i+1)*payload]
		if i >= size-reserve {
			p.slots[i].isr = true
			p.isrFree = append(p.isrFree, i)
		} else {
			p.free = append(p.free, i)
		}
	}
	return p
}

// claim takes n slots at once or none at all.
func (p *pool) claim(n int, isr bool) ([]int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := &p.free
	if isr {
		list = &p.isrFree
	}
	if len(*list) < n {
		p.exhausted = satAdd(p.exhausted)
		return nil, false
	}
	cut := len(*list) - n
	got := append([]int(nil), (*list)[cut:]...)
	*list = (*list)[:cut]
	for _, i := range got {
		p.slots[i].inUse = true
	}
	if used := p.inUseLocked(); used > p.peak {
		p.peak = used
	}
	return got, true
}

func (p *pool) fill(i int, e *Event, payload []byte) {
	p.mu.Lock()
	s := &p.slots[i]
	n := copy(s.buf, payload)
	e.Payload = s.buf[:n:n]
	e.pool = p
	e.slot = i
	e.gen = s.gen
	p.mu.Unlock()
}

func (p *pool) release(i int, gen uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.slots) {
		return
	}
	s := &p.slots[i]
	if !s.inUse || s.gen != gen {
		return
	}
	s.inUse = false
	s.gen++
	if s.isr {
		p.isrFree = append(p.isrFree, i)
	} else {
		p.free = append(p.free, i)
	}
}

func (p *pool) inUseLocked() int {
	return p.capacity - len(p.free) - len(p.isrFree)
}

func (p *pool) stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity:    p.capacity,
		Free:        len(p.free) + len(p.isrFree),
		ISRCapacity: p.reserve,
		ISRFree:     len(p.isrFree),
		InUse:       p.inUseLocked(),
		Peak:        p.peak,
		Exhausted:   p.exhausted,
	}
}
