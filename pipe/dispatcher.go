package pipe

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbocsi/ipcpipe/proto"
)

// Handlers receives decoded inbound messages, one method per message
// kind. Methods run on the dispatcher goroutine and must return quickly;
// longer work is handed to another queue or to a Continuation.
type Handlers interface {
	OnLog(proto.Log)
	OnPrint(proto.Print)
	OnCLIMsg(proto.CLIMsg)
	OnGyro(proto.Gyro)
	OnButton(proto.ButtonEvent)
	OnTouch(proto.Touch)
	OnPing(proto.Ping)
	OnScanRequest(proto.ScanRequest)
	OnConnectRequest(proto.ConnectRequest)
	OnDisconnectRequest(proto.DisconnectRequest)
	OnStatusRequest(proto.StatusRequest)
	OnScanResult(proto.ScanResult)
	OnScanComplete(proto.ScanComplete)
	OnStatus(proto.Status)
}

// NopHandlers ignores every message. Embed it to handle only a subset.
type NopHandlers struct{}

func (NopHandlers) OnLog(proto.Log)                             {}
func (NopHandlers) OnPrint(proto.Print)                         {}
func (NopHandlers) OnCLIMsg(proto.CLIMsg)                       {}
func (NopHandlers) OnGyro(proto.Gyro)                           {}
func (NopHandlers) OnButton(proto.ButtonEvent)                  {}
func (NopHandlers) OnTouch(proto.Touch)                         {}
func (NopHandlers) OnPing(proto.Ping)                           {}
func (NopHandlers) OnScanRequest(proto.ScanRequest)             {}
func (NopHandlers) OnConnectRequest(proto.ConnectRequest)       {}
func (NopHandlers) OnDisconnectRequest(proto.DisconnectRequest) {}
func (NopHandlers) OnStatusRequest(proto.StatusRequest)         {}
func (NopHandlers) OnScanResult(proto.ScanResult)               {}
func (NopHandlers) OnScanComplete(proto.ScanComplete)           {}
func (NopHandlers) OnStatus(proto.Status)                       {}

// Continuation is a multi-step piece of work started by a handler. While
// one is active the dispatcher runs it to completion before popping
// another frame, which keeps the pieces of a decomposed message together.
type Continuation interface {
	// Step does one bounded unit of work and reports whether it is done.
	Step() bool
}

type ContinuationFunc func() bool

func (f ContinuationFunc) Step() bool { return f() }

// Dispatcher drains the ring and routes frames by command.
type Dispatcher struct {
	ring     *Ring
	handlers Handlers
	liveness *Liveness

	active Continuation

	dispatched atomic.Uint64
	undecoded  atomic.Uint64
	unknown    atomic.Uint64
	steps      atomic.Uint64

	// received is called with every raw frame before routing, if set.
	received func(proto.Frame)
}

type DispatchStats struct {
	Dispatched uint64 `json:"dispatched"`
	Undecoded  uint64 `json:"undecoded"` // Known command, bad payload
	Unknown    uint64 `json:"unknown"`   // Command this build does not handle
	Steps      uint64 `json:"continuation_steps"`
}

func NewDispatcher(ring *Ring, handlers Handlers) *Dispatcher {
	if handlers == nil {
		handlers = NopHandlers{}
	}
	return &Dispatcher{ring: ring, handlers: handlers, liveness: &Liveness{}}
}

// Continue makes c the active continuation. It may only be called from a
// handler, on the dispatcher goroutine.
func (d *Dispatcher) Continue(c Continuation) {
	if d.active != nil {
		// Finish the previous one first so ordering holds.
		for !d.active.Step() {
			d.steps.Add(1)
		}
	}
	d.active = c
}

func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Started dispatcher loop", "ring", d.ring.Capacity())
	defer slog.Info("Stopped dispatcher loop")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if d.active != nil {
			d.steps.Add(1)
			if d.active.Step() {
				d.active = nil
			}
			continue
		}
		f, ok := d.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-d.ring.Wake():
			}
			continue
		}
		d.dispatch(f)
	}
}

func (d *Dispatcher) dispatch(f proto.Frame) {
	if d.received != nil {
		d.received(f)
	}
	if !f.Command.Known() {
		d.unknown.Add(1)
		slog.Debug("Ignoring frame with unknown command", "frame", f.String())
		return
	}
	m, err := proto.Decode(f)
	if err != nil {
		d.undecoded.Add(1)
		slog.Warn("Dropping undecodable frame", "frame", f.String(), "error", err)
		return
	}
	d.dispatched.Add(1)

	h := d.handlers
	switch m := m.(type) {
	case proto.Heartbeat:
		d.liveness.Observe(m.Counter)
	case proto.Log:
		h.OnLog(m)
	case proto.Print:
		h.OnPrint(m)
	case proto.CLIMsg:
		h.OnCLIMsg(m)
	case proto.Gyro:
		h.OnGyro(m)
	case proto.ButtonEvent:
		h.OnButton(m)
	case proto.Touch:
		h.OnTouch(m)
	case proto.Ping:
		h.OnPing(m)
	case proto.ScanRequest:
		h.OnScanRequest(m)
	case proto.ConnectRequest:
		h.OnConnectRequest(m)
	case proto.DisconnectRequest:
		h.OnDisconnectRequest(m)
	case proto.StatusRequest:
		h.OnStatusRequest(m)
	case proto.ScanResult:
		h.OnScanResult(m)
	case proto.ScanComplete:
		h.OnScanComplete(m)
	case proto.Status:
		h.OnStatus(m)
	default:
		slog.Error("Decoded message has no route", "command", m.Command())
	}
}

// Observe registers fn to see every raw inbound frame before routing.
// It must be set before Run.
func (d *Dispatcher) Observe(fn func(proto.Frame)) {
	d.received = fn
}

func (d *Dispatcher) Liveness() *Liveness {
	return d.liveness
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Dispatched: d.dispatched.Load(),
		Undecoded:  d.undecoded.Load(),
		Unknown:    d.unknown.Load(),
		Steps:      d.steps.Load(),
	}
}

// Liveness records the peer's heartbeat counter. Absence of progress is
// only reported, never acted on.
type Liveness struct {
	mu      sync.Mutex
	counter uint32
	at      time.Time
	seen    bool
	resets  uint64
}

type LivenessSnapshot struct {
	Counter uint32    `json:"counter"`
	At      time.Time `json:"at"`
	Seen    bool      `json:"seen"`
	Resets  uint64    `json:"resets"` // Times the counter went backwards, e.g. peer restart
}

func (l *Liveness) Observe(counter uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen && counter <= l.counter {
		l.resets++
	}
	l.counter = counter
	l.at = time.Now()
	l.seen = true
}

// Alive reports whether a heartbeat arrived within window.
func (l *Liveness) Alive(window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen && time.Since(l.at) <= window
}

func (l *Liveness) Snapshot() LivenessSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LivenessSnapshot{Counter: l.counter, At: l.at, Seen: l.seen, Resets: l.resets}
}
