package pipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/transport"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultQueueSize         = 16
	DefaultRingSize          = 16
	DefaultMaxAttempts       = 5
	DefaultRetryDelay        = 5 * time.Millisecond
	DefaultHeartbeatInterval = 500 * time.Millisecond
)

var (
	ErrQueueFull = errors.New("pipe: outbound queue full")
	ErrClosed    = errors.New("pipe: closed")
)

type Config struct {
	OriginID          uint16        // Stamped on every frame this side sends
	QueueSize         int           // Outbound queue capacity
	RingSize          int           // Inbound ring capacity
	MaxAttempts       int           // Send attempts per frame before it is dropped
	RetryDelay        time.Duration // Delay between attempts
	HeartbeatInterval time.Duration // Zero disables the heartbeat
	Pacing            time.Duration // Pause after each sent frame, zero for none
}

func DefaultConfig() Config {
	return Config{
		QueueSize:         DefaultQueueSize,
		RingSize:          DefaultRingSize,
		MaxAttempts:       DefaultMaxAttempts,
		RetryDelay:        DefaultRetryDelay,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
}

// Pipe is one side of the link: outbound queue and sender loop on the way
// out, inbound ring and dispatcher on the way in.
type Pipe struct {
	cfg        Config
	adapter    transport.Adapter
	outbound   *Outbound
	ring       *Ring
	sender     *Sender
	dispatcher *Dispatcher

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

type Stats struct {
	Outbound   OutboundStats      `json:"outbound"`
	Sender     SenderStats        `json:"sender"`
	Ring       RingStats          `json:"ring"`
	Dispatcher DispatchStats      `json:"dispatcher"`
	Peer       LivenessSnapshot   `json:"peer"`
	Link       transport.Metadata `json:"link"`
}

// New wires a pipe to adapter. The ring becomes the adapter's inbound sink.
func New(cfg Config, adapter transport.Adapter, handlers Handlers) *Pipe {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	out := NewOutbound(cfg.QueueSize)
	ring := NewRing(cfg.RingSize)
	p := &Pipe{
		cfg:        cfg,
		adapter:    adapter,
		outbound:   out,
		ring:       ring,
		sender:     NewSender(cfg, out, adapter),
		dispatcher: NewDispatcher(ring, handlers),
	}
	adapter.RegisterInbound(ring)
	return p
}

// Send encodes m with this side's origin and enqueues it.
func (p *Pipe) Send(m proto.Message) error {
	f, err := proto.Encode(p.cfg.OriginID, m)
	if err != nil {
		return err
	}
	if !p.Enqueue(f) {
		if p.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("%w: %s", ErrQueueFull, m.Command())
	}
	return nil
}

// Enqueue queues a ready frame. It never blocks.
func (p *Pipe) Enqueue(f proto.Frame) bool {
	return p.outbound.Enqueue(f)
}

// Continue sets the dispatcher's active continuation; see Dispatcher.Continue.
func (p *Pipe) Continue(c Continuation) {
	p.dispatcher.Continue(c)
}

// Observe sees every raw inbound frame before it is routed. Set it before Run.
func (p *Pipe) Observe(fn func(proto.Frame)) {
	p.dispatcher.Observe(fn)
}

// Run runs the sender and dispatcher loops until ctx ends or Close is
// called.
func (p *Pipe) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.sender.Run(ctx) })
	g.Go(func() error { return p.dispatcher.Run(ctx) })
	return g.Wait()
}

// Close stops both loops and rejects further sends. Safe to call more
// than once; the adapter is left to its owner.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.outbound.Close()
	if p.cancel != nil {
		p.cancel()
	}
	slog.Info("Pipe closed", "origin", p.cfg.OriginID)
	return nil
}

func (p *Pipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipe) Liveness() *Liveness {
	return p.dispatcher.Liveness()
}

func (p *Pipe) Config() Config {
	return p.cfg
}

func (p *Pipe) Stats() Stats {
	return Stats{
		Outbound:   p.outbound.Stats(),
		Sender:     p.sender.Stats(),
		Ring:       p.ring.Stats(),
		Dispatcher: p.dispatcher.Stats(),
		Peer:       p.dispatcher.Liveness().Snapshot(),
		Link:       p.adapter.Meta(),
	}
}
