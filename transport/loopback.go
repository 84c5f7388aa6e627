package transport

import (
	"log/slog"
	"sync/atomic"

	"github.com/mbocsi/ipcpipe/proto"
)

// Loopback is one end of an in-process pair of single-slot primitives.
// A delivery goroutine plays the role of the remote interrupt: it moves
// the frame out of the slot and calls the peer's sink.
type Loopback struct {
	*link
	peer      *Loopback
	forceBusy atomic.Int32
}

// NewLoopbackPair creates two connected ends.
func NewLoopbackPair(nameA, nameB string) (*Loopback, *Loopback) {
	a := &Loopback{link: newLink(nameA, "loopback", "")}
	b := &Loopback{link: newLink(nameB, "loopback", "")}
	a.peer, b.peer = b, a

	for _, l := range []*Loopback{a, b} {
		id := generatePeerId("loop")
		l.peerID.Store(&id)
		l.connected.Store(true)
		go l.pump()
	}
	return a, b
}

func (l *Loopback) TrySend(f proto.Frame) SendResult {
	for {
		n := l.forceBusy.Load()
		if n <= 0 {
			break
		}
		if l.forceBusy.CompareAndSwap(n, n-1) {
			l.busy.Add(1)
			return Busy
		}
	}
	return l.link.TrySend(f)
}

// SetBusy makes the next n send attempts report Busy.
func (l *Loopback) SetBusy(n int) {
	l.forceBusy.Store(int32(n))
}

func (l *Loopback) pump() {
	for {
		select {
		case f := <-l.slot:
			l.peer.deliver(&f)
		case <-l.done:
			return
		}
	}
}

func (l *Loopback) Close() error {
	if l.shutdown() {
		l.peer.connected.Store(false)
		slog.Debug("Loopback closed", "link", l.name)
	}
	return nil
}
