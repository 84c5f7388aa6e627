package transport

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/ipcpipe/proto"
)

var (
	ErrClosed    = errors.New("transport: link closed")
	ErrPeerTaken = errors.New("transport: peer already attached")
)

type sinkBox struct {
	sink InboundSink
}

// link holds the state shared by every primitive: a single outbound slot,
// the registered sink and the counters. A frame placed in the slot stays
// there until the primitive has moved it, so a second send in the
// meantime sees Busy.
type link struct {
	name     string
	protocol string
	addr     string

	slot chan proto.Frame
	sink atomic.Pointer[sinkBox]

	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	active    frameConn
	connected atomic.Bool
	peerID    atomic.Pointer[string]

	sent      atomic.Uint64
	busy      atomic.Uint64
	errs      atomic.Uint64
	received  atomic.Uint64
	rejected  atomic.Uint64
	unclaimed atomic.Uint64
	malformed atomic.Uint64
}

func newLink(name, protocol, addr string) *link {
	return &link{
		name:     name,
		protocol: protocol,
		addr:     addr,
		slot:     make(chan proto.Frame, 1),
		done:     make(chan struct{}),
	}
}

func (l *link) TrySend(f proto.Frame) SendResult {
	if l.isClosed() || !l.connected.Load() {
		l.errs.Add(1)
		return Error
	}
	select {
	case l.slot <- f:
		l.sent.Add(1)
		return Sent
	default:
		l.busy.Add(1)
		return Busy
	}
}

func (l *link) RegisterInbound(sink InboundSink) {
	l.sink.Store(&sinkBox{sink: sink})
}

// deliver hands a received frame to the sink. It is the only place
// inbound frames enter the process.
func (l *link) deliver(f *proto.Frame) {
	box := l.sink.Load()
	if box == nil {
		l.unclaimed.Add(1)
		return
	}
	if box.sink.Deliver(f) {
		l.received.Add(1)
	} else {
		l.rejected.Add(1)
	}
}

func (l *link) Meta() Metadata {
	m := Metadata{
		Name:      l.name,
		Protocol:  l.protocol,
		Address:   l.addr,
		Connected: l.connected.Load(),
		Sent:      l.sent.Load(),
		Busy:      l.busy.Load(),
		Errors:    l.errs.Load(),
		Received:  l.received.Load(),
		Rejected:  l.rejected.Load(),
		Unclaimed: l.unclaimed.Load(),
		Malformed: l.malformed.Load(),
	}
	if id := l.peerID.Load(); id != nil {
		m.PeerID = *id
	}
	return m
}

func (l *link) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// shutdown closes the link once and reports whether this call did it.
func (l *link) shutdown() bool {
	first := false
	l.closeOnce.Do(func() {
		first = true
		close(l.done)
		l.mu.Lock()
		if l.active != nil {
			l.active.close()
		}
		l.mu.Unlock()
		l.connected.Store(false)
	})
	return first
}

// frameConn is a stream or message connection able to carry whole frames.
type frameConn interface {
	readFrame(f *proto.Frame) error
	writeFrame(f proto.Frame) error
	close() error
}

// errMalformed marks a read that failed on content rather than on the
// connection; the reader skips it and continues.
type errMalformed struct{ err error }

func (e errMalformed) Error() string { return e.err.Error() }
func (e errMalformed) Unwrap() error { return e.err }

// bind claims the link for one peer connection. Only one connection may
// be attached at a time.
func (l *link) bind(fc frameConn, peerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isClosed() {
		return ErrClosed
	}
	if !l.connected.CompareAndSwap(false, true) {
		return ErrPeerTaken
	}
	l.active = fc
	l.peerID.Store(&peerID)
	slog.Info("Link peer attached", "link", l.name, "protocol", l.protocol, "peer", peerID)
	return nil
}

// run serves a bound connection until it fails or the link closes. The
// writer drains the slot, the reader feeds the sink.
func (l *link) run(fc frameConn) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.writeLoop(fc, stop)
	}()

	err := l.readLoop(fc)

	close(stop)
	fc.close()
	wg.Wait()

	// A frame still in the slot was meant for this peer. bind waits on mu,
	// so the next peer never sees it.
	l.mu.Lock()
	l.active = nil
	l.connected.Store(false)
	stale := l.drainSlot()
	l.mu.Unlock()
	if stale > 0 {
		l.errs.Add(uint64(stale))
	}
	slog.Info("Link peer detached", "link", l.name, "discarded", stale, "error", err)
	return err
}

func (l *link) drainSlot() int {
	n := 0
	for {
		select {
		case <-l.slot:
			n++
		default:
			return n
		}
	}
}

func (l *link) attach(fc frameConn, peerID string) error {
	if err := l.bind(fc, peerID); err != nil {
		return err
	}
	return l.run(fc)
}

func (l *link) writeLoop(fc frameConn, stop <-chan struct{}) {
	for {
		select {
		case f := <-l.slot:
			if err := fc.writeFrame(f); err != nil {
				l.errs.Add(1)
				slog.Warn("Link write failed", "link", l.name, "command", f.Command, "error", err)
				fc.close()
				return
			}
		case <-stop:
			return
		case <-l.done:
			return
		}
	}
}

func (l *link) readLoop(fc frameConn) error {
	var f proto.Frame
	for {
		err := fc.readFrame(&f)
		if err != nil {
			var bad errMalformed
			if errors.As(err, &bad) {
				l.malformed.Add(1)
				slog.Warn("Discarding malformed frame", "link", l.name, "error", err)
				continue
			}
			if l.isClosed() {
				return nil
			}
			return err
		}
		l.deliver(&f)
	}
}
