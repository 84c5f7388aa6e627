package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := NewBus(DefaultConfig())
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	return b
}

func assertPoolFull(t *testing.T, b *Bus) {
	t.Helper()
	s := b.PoolStats()
	if s.Free != s.Capacity || s.InUse != 0 {
		t.Errorf("Expected all %d slots free, got free=%d in_use=%d", s.Capacity, s.Free, s.InUse)
	}
}

func TestRegisterChannel(t *testing.T) {
	b := newTestBus(t)

	if err := b.RegisterChannel(0, "zero", ChannelConfig{}); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("Expected ErrInvalidParam for id 0, got %v", err)
	}
	if err := b.RegisterChannel(1, "wifi", ChannelConfig{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := b.RegisterChannel(1, "again", ChannelConfig{}); !errors.Is(err, ErrDuplicateChannel) {
		t.Errorf("Expected ErrDuplicateChannel, got %v", err)
	}
	for id := uint16(2); id <= DefaultMaxChannels; id++ {
		if err := b.RegisterChannel(id, "c", ChannelConfig{}); err != nil {
			t.Fatalf("Register %d failed: %v", id, err)
		}
	}
	if err := b.RegisterChannel(100, "overflow", ChannelConfig{}); !errors.Is(err, ErrChannelFull) {
		t.Errorf("Expected ErrChannelFull, got %v", err)
	}

	info, err := b.ChannelByName("wifi")
	if err != nil || info.ID != 1 || info.Timeout != DefaultTimeout {
		t.Errorf("Unexpected channel info %+v (err %v)", info, err)
	}
}

func TestUnregisterWithSubscribers(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "wifi", ChannelConfig{})
	q := NewQueue(4)
	b.Subscribe(1, q)

	if err := b.UnregisterChannel(1); !errors.Is(err, ErrHasSubscribers) {
		t.Errorf("Expected ErrHasSubscribers, got %v", err)
	}
	b.Unsubscribe(1, q)
	if err := b.UnregisterChannel(1); err != nil {
		t.Errorf("Expected unregister to succeed, got %v", err)
	}
	if err := b.UnregisterChannel(1); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("Expected ErrChannelNotFound, got %v", err)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "wifi", ChannelConfig{})
	q := NewQueue(4)

	for i := 0; i < 3; i++ {
		if err := b.Subscribe(1, q); err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
	}
	info, _ := b.Channel(1)
	if info.Subscribers != 1 {
		t.Errorf("Expected 1 subscriber, got %d", info.Subscribers)
	}

	res, err := b.Publish(1, 7, []byte("x"))
	if err != nil || res != AllDelivered {
		t.Fatalf("Expected AllDelivered, got %s (%v)", res, err)
	}
	if q.Len() != 1 {
		t.Errorf("Expected one queued copy, got %d", q.Len())
	}
	q.Drain()
	assertPoolFull(t, b)
}

func TestSubscriberLimit(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "input", ChannelConfig{})
	for i := 0; i < DefaultMaxSubscribers; i++ {
		if err := b.Subscribe(1, NewQueue(1)); err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
	}
	if err := b.Subscribe(1, NewQueue(1)); !errors.Is(err, ErrSubscriberFull) {
		t.Errorf("Expected ErrSubscriberFull, got %v", err)
	}
	if err := b.Unsubscribe(1, NewQueue(1)); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("Expected ErrSubscriberNotFound, got %v", err)
	}
	if err := b.Subscribe(9, NewQueue(1)); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("Expected ErrChannelNotFound, got %v", err)
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "log", ChannelConfig{})
	res, err := b.Publish(1, 1, nil)
	if err != nil || res != AllDelivered {
		t.Errorf("Expected AllDelivered, got %s (%v)", res, err)
	}
	if _, err := b.Publish(2, 1, nil); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("Expected ErrChannelNotFound, got %v", err)
	}
}

func TestPublishPayloadTooLarge(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "log", ChannelConfig{})
	b.Subscribe(1, NewQueue(1))

	_, err := b.Publish(1, 1, make([]byte, DefaultMaxPayload+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
	}
	if s := b.PoolStats(); s.Peak != 0 {
		t.Errorf("Expected no allocation, peak was %d", s.Peak)
	}
}

func TestDropNewestCapacityOne(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "wifi", ChannelConfig{Policy: DropNewest})
	q := NewQueue(1)
	b.Subscribe(1, q)

	if res, _ := b.Publish(1, 1, []byte("first")); res != AllDelivered {
		t.Errorf("Expected first publish AllDelivered, got %s", res)
	}
	if res, _ := b.Publish(1, 1, []byte("second")); res != QueueFull {
		t.Errorf("Expected second publish QueueFull, got %s", res)
	}

	stats, err := b.SubscriberStats(1, q)
	if err != nil {
		t.Fatalf("SubscriberStats failed: %v", err)
	}
	if stats.Delivered != 1 || stats.Dropped != 1 || stats.LastDrop.IsZero() {
		t.Errorf("Expected delivered=1 dropped=1, got %+v", stats)
	}

	e, ok := q.TryReceive()
	if !ok || string(e.Payload) != "first" {
		t.Fatalf("Expected first event, got %q", e.Payload)
	}
	e.Release()
	assertPoolFull(t, b)
}

func TestDropOldestEvicts(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "input", ChannelConfig{Policy: DropOldest})
	q := NewQueue(2)
	b.Subscribe(1, q)

	for _, p := range []string{"a", "b", "c"} {
		if res, _ := b.Publish(1, 1, []byte(p)); res != AllDelivered {
			t.Errorf("Expected AllDelivered for %s, got %s", p, res)
		}
	}
	var got []string
	for {
		e, ok := q.TryReceive()
		if !ok {
			break
		}
		got = append(got, string(e.Payload))
		e.Release()
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Expected [b c], got %v", got)
	}
	if stats, _ := b.SubscriberStats(1, q); stats.Dropped != 1 {
		t.Errorf("Expected 1 drop, got %d", stats.Dropped)
	}
	assertPoolFull(t, b)
}

func TestWaitPolicy(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "status", ChannelConfig{Policy: Wait, Timeout: 20 * time.Millisecond})
	q := NewQueue(1)
	b.Subscribe(1, q)
	b.Publish(1, 1, []byte("a"))

	// Times out while nobody drains.
	start := time.Now()
	if res, _ := b.Publish(1, 1, []byte("b")); res != QueueFull {
		t.Errorf("Expected QueueFull after timeout, got %s", res)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Expected publish to wait for the timeout")
	}

	// Succeeds once a consumer makes room.
	go func() {
		time.Sleep(5 * time.Millisecond)
		e, _ := q.Receive(context.Background())
		e.Release()
	}()
	if res, _ := b.Publish(1, 1, []byte("c")); res != AllDelivered {
		t.Errorf("Expected AllDelivered once drained, got %s", res)
	}
	q.Drain()
	assertPoolFull(t, b)
}

func TestPublishFromISRNeverWaits(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "input", ChannelConfig{Policy: Wait, Timeout: time.Second})
	q := NewQueue(1)
	b.Subscribe(1, q)
	b.PublishFromISR(1, 1, []byte("a"))

	start := time.Now()
	if res, _ := b.PublishFromISR(1, 1, []byte("b")); res != QueueFull {
		t.Errorf("Expected QueueFull, got %s", res)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Expected PublishFromISR not to block")
	}

	e, _ := q.TryReceive()
	if !e.FromISR {
		t.Error("Expected event marked FromISR")
	}
	e.Release()
	assertPoolFull(t, b)
}

func TestISRReserveIsolated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChannels = 1
	cfg.MaxSubscribers = 4
	cfg.EventPoolSize = 6
	cfg.ISRReserve = 2
	b, err := NewBus(cfg)
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	b.RegisterChannel(1, "input", ChannelConfig{})
	queues := []*Queue{NewQueue(4), NewQueue(4), NewQueue(4)}
	for _, q := range queues {
		b.Subscribe(1, q)
	}

	// Only 2 ISR slots: a 3-way fan-out cannot be allocated.
	if _, err := b.PublishFromISR(1, 1, []byte("x")); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted from ISR publish, got %v", err)
	}
	// 4 general slots: one publish fits, the second does not.
	if res, err := b.Publish(1, 1, []byte("y")); err != nil || res != AllDelivered {
		t.Fatalf("Expected AllDelivered, got %s (%v)", res, err)
	}
	if _, err := b.Publish(1, 1, []byte("z")); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted, got %v", err)
	}
	if s := b.PoolStats(); s.InUse != 3 || s.Exhausted != 2 || s.ISRFree != 2 {
		t.Errorf("Unexpected pool stats %+v", s)
	}
	for _, q := range queues {
		if q.Len() != 1 {
			t.Errorf("Expected exactly one event in %s, got %d", q.ID(), q.Len())
		}
		q.Drain()
	}
	assertPoolFull(t, b)
}

func TestPoolCoversEverySubscriber(t *testing.T) {
	b := newTestBus(t)
	var queues []*Queue
	for ch := 1; ch <= DefaultMaxChannels; ch++ {
		if err := b.RegisterChannel(uint16(ch), fmt.Sprintf("ch%d", ch), ChannelConfig{}); err != nil {
			t.Fatalf("RegisterChannel %d failed: %v", ch, err)
		}
		for i := 0; i < DefaultMaxSubscribers; i++ {
			q := NewQueue(1)
			if err := b.Subscribe(uint16(ch), q); err != nil {
				t.Fatalf("Subscribe on %d failed: %v", ch, err)
			}
			queues = append(queues, q)
		}
	}

	for ch := 1; ch <= DefaultMaxChannels; ch++ {
		res, err := b.Publish(uint16(ch), 1, []byte("x"))
		if err != nil || res != AllDelivered {
			t.Fatalf("Publish on %d: expected AllDelivered, got %s (%v)", ch, res, err)
		}
	}
	s := b.PoolStats()
	if s.InUse != DefaultMaxChannels*DefaultMaxSubscribers || s.Exhausted != 0 {
		t.Errorf("Unexpected pool stats %+v", s)
	}
	if s.ISRFree != DefaultISRReserve {
		t.Errorf("Expected %d ISR slots free, got %d", DefaultISRReserve, s.ISRFree)
	}

	for _, q := range queues {
		q.Drain()
	}
	assertPoolFull(t, b)
}

func TestPartialSuccess(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "wifi", ChannelConfig{Policy: DropNewest})
	fast := NewQueue(4)
	slow := NewQueue(1)
	b.Subscribe(1, fast)
	b.Subscribe(1, slow)

	b.Publish(1, 1, []byte("1"))
	res, err := b.Publish(1, 1, []byte("2"))
	if err != nil || res != PartialSuccess {
		t.Errorf("Expected PartialSuccess, got %s (%v)", res, err)
	}
	cs, _ := b.ChannelStats(1)
	if cs.Delivered != 3 || cs.Dropped != 1 || cs.Subscribers != 2 {
		t.Errorf("Unexpected channel stats %+v", cs)
	}
	fast.Drain()
	slow.Drain()
	assertPoolFull(t, b)
}

func TestFIFOPerSubscriber(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "input", ChannelConfig{Policy: Wait})
	q := NewQueue(4)
	b.Subscribe(1, q)

	const n = 50
	done := make(chan error)
	go func() {
		for i := 0; i < n; i++ {
			e, err := q.Receive(context.Background())
			if err != nil {
				done <- err
				return
			}
			if e.Type != uint32(i) {
				e.Release()
				done <- errors.New("out of order")
				return
			}
			e.Release()
		}
		done <- nil
	}()
	for i := 0; i < n; i++ {
		b.Publish(1, uint32(i), []byte{byte(i)})
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Consumer failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for consumer")
	}
	assertPoolFull(t, b)
}

func TestReleaseIsGenerationSafe(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(1, "log", ChannelConfig{})
	q := NewQueue(2)
	b.Subscribe(1, q)

	b.Publish(1, 1, []byte("a"))
	stale, _ := q.TryReceive()
	stale.Release()
	stale.Release()

	b.Publish(1, 1, []byte("b"))
	fresh, _ := q.TryReceive()
	stale.Release()
	if s := b.PoolStats(); s.InUse != 1 {
		t.Errorf("Expected stale release to leave the new event alone, in use %d", s.InUse)
	}
	fresh.Release()
	assertPoolFull(t, b)
}

func TestSaturatingCounters(t *testing.T) {
	if satAdd(math.MaxUint32) != math.MaxUint32 {
		t.Error("Expected satAdd to saturate")
	}
	if satSum(math.MaxUint32-1, 5) != math.MaxUint32 {
		t.Error("Expected satSum to saturate")
	}
	if satSum(2, 3) != 5 {
		t.Error("Expected 2+3=5")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventPoolSize = 10
	if _, err := NewBus(cfg); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("Expected ErrInvalidParam for small pool, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.ISRReserve = cfg.EventPoolSize
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for reserve covering the whole pool")
	}
	cfg = DefaultConfig()
	cfg.EventPoolSize = cfg.MaxChannels * cfg.MaxSubscribers
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("Expected ErrInvalidParam when the reserve eats general slots, got %v", err)
	}
	cfg.ISRReserve = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected pool without reserve to validate, got %v", err)
	}
}

func TestLogHandlerPublishes(t *testing.T) {
	b := newTestBus(t)
	b.RegisterChannel(3, "log", ChannelConfig{Policy: DropOldest})
	q := NewQueue(4)
	b.Subscribe(3, q)

	var out bytes.Buffer
	next := slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewLogHandler(next, b, 3, 42)).With("core", "net")

	logger.Debug("Hidden")
	logger.Info("Scan finished", "count", 3, "error", errors.New("boom"))

	if out.Len() == 0 {
		t.Error("Expected record forwarded to next handler")
	}
	if q.Len() != 1 {
		t.Fatalf("Expected one published record, got %d", q.Len())
	}
	e, _ := q.TryReceive()
	defer e.Release()
	if e.Type != 42 {
		t.Errorf("Expected type 42, got %d", e.Type)
	}
	var rec map[string]any
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		t.Fatalf("Payload is not JSON: %v", err)
	}
	if rec["msg"] != "Scan finished" || rec["core"] != "net" || rec["error"] != "boom" || rec["count"] != float64(3) {
		t.Errorf("Unexpected record %v", rec)
	}
}

func TestLogHandlerTruncates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPayload = 32
	cfg.EventPoolSize = cfg.MaxChannels*cfg.MaxSubscribers + cfg.ISRReserve
	b, _ := NewBus(cfg)
	b.RegisterChannel(3, "log", ChannelConfig{})
	q := NewQueue(1)
	b.Subscribe(3, q)

	logger := slog.New(NewLogHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil), b, 3, 1))
	logger.Info("A message that is certainly longer than thirty two bytes")

	e, ok := q.TryReceive()
	if !ok || len(e.Payload) != 32 {
		t.Errorf("Expected 32 byte payload, got %d", len(e.Payload))
	}
	e.Release()
}
