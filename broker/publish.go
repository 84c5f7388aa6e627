package broker

import (
	"fmt"
	"math"
	"time"
)

type Result int

const (
	AllDelivered   Result = iota // Every subscriber got a copy, or there were none
	PartialSuccess               // At least one did
	QueueFull                    // None did
)

func (r Result) String() string {
	switch r {
	case AllDelivered:
		return "all_delivered"
	case PartialSuccess:
		return "partial_success"
	case QueueFull:
		return "queue_full"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Publish fans payload out to every subscriber of the channel, applying
// the channel policy per subscriber.
func (b *Bus) Publish(id uint16, typ uint32, payload []byte) (Result, error) {
	return b.publish(id, typ, payload, false)
}

// PublishFromISR is Publish restricted to the reserved pool slots. It
// never waits: NoDrop and Wait degrade to a single non-blocking attempt.
func (b *Bus) PublishFromISR(id uint16, typ uint32, payload []byte) (Result, error) {
	return b.publish(id, typ, payload, true)
}

func (b *Bus) publish(id uint16, typ uint32, payload []byte, isr bool) (Result, error) {
	if len(payload) > b.cfg.MaxPayload {
		return QueueFull, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), b.cfg.MaxPayload)
	}

	b.mu.RLock()
	ch, ok := b.channels[id]
	if !ok {
		b.mu.RUnlock()
		return QueueFull, ErrChannelNotFound
	}
	subs := append([]*subscriber(nil), ch.subs...)
	cc := ch.config
	b.mu.RUnlock()

	if len(subs) == 0 {
		return AllDelivered, nil
	}

	slots, ok := b.pool.claim(len(subs), isr)
	if !ok {
		return QueueFull, ErrPoolExhausted
	}

	now := time.Now()
	delivered := 0
	for i, s := range subs {
		e := Event{Channel: id, Type: typ, Timestamp: now, FromISR: isr}
		b.pool.fill(slots[i], &e, payload)
		if b.deliver(s, e, cc, isr) {
			delivered++
			b.recordDelivered(s)
		} else {
			e.Release()
			b.recordDropped(s, now)
		}
	}

	switch delivered {
	case len(subs):
		return AllDelivered, nil
	case 0:
		return QueueFull, nil
	default:
		return PartialSuccess, nil
	}
}

func (b *Bus) deliver(s *subscriber, e Event, cc ChannelConfig, isr bool) bool {
	q := s.queue.ch
	select {
	case q <- e:
		return true
	default:
	}

	switch cc.Policy {
	case DropOldest:
		// Consumers may race us for the slot; a couple of rounds settles it.
		for range 4 {
			select {
			case old := <-q:
				old.Release()
				b.recordDropped(s, e.Timestamp)
			default:
			}
			select {
			case q <- e:
				return true
			default:
			}
		}
		return false
	case NoDrop, Wait:
		if isr {
			return false
		}
		t := time.NewTimer(cc.Timeout)
		defer t.Stop()
		select {
		case q <- e:
			return true
		case <-t.C:
			return false
		}
	default:
		return false
	}
}

type SubscriberStats struct {
	Delivered uint32    `json:"delivered"`
	Dropped   uint32    `json:"dropped"`
	LastDrop  time.Time `json:"last_drop"`
}

type ChannelStats struct {
	ID          uint16    `json:"id"`
	Name        string    `json:"name"`
	Subscribers int       `json:"subscribers"`
	Delivered   uint32    `json:"delivered"`
	Dropped     uint32    `json:"dropped"`
	LastDrop    time.Time `json:"last_drop"`
}

func (b *Bus) recordDelivered(s *subscriber) {
	b.statsMu.Lock()
	s.stats.Delivered = satAdd(s.stats.Delivered)
	b.statsMu.Unlock()
}

func (b *Bus) recordDropped(s *subscriber, at time.Time) {
	b.statsMu.Lock()
	s.stats.Dropped = satAdd(s.stats.Dropped)
	s.stats.LastDrop = at
	b.statsMu.Unlock()
}

func (b *Bus) SubscriberStats(id uint16, q *Queue) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[id]
	if !ok {
		return SubscriberStats{}, ErrChannelNotFound
	}
	for _, s := range ch.subs {
		if s.queue == q {
			b.statsMu.Lock()
			defer b.statsMu.Unlock()
			return s.stats, nil
		}
	}
	return SubscriberStats{}, ErrSubscriberNotFound
}

func (b *Bus) ChannelStats(id uint16) (ChannelStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[id]
	if !ok {
		return ChannelStats{}, ErrChannelNotFound
	}
	cs := ChannelStats{ID: ch.id, Name: ch.name, Subscribers: len(ch.subs)}
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	for _, s := range ch.subs {
		cs.Delivered = satSum(cs.Delivered, s.stats.Delivered)
		cs.Dropped = satSum(cs.Dropped, s.stats.Dropped)
		if s.stats.LastDrop.After(cs.LastDrop) {
			cs.LastDrop = s.stats.LastDrop
		}
	}
	return cs, nil
}

func (b *Bus) PoolStats() PoolStats {
	return b.pool.stats()
}

func satAdd(v uint32) uint32 {
	if v == math.MaxUint32 {
		return v
	}
	return v + 1
}

func satSum(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}
