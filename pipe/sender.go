package pipe

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/transport"
)

// Sender drains the outbound queue into the adapter and emits the
// periodic heartbeat. A frame that cannot be sent after the configured
// attempts is dropped and counted; the loop never stalls on one frame.
type Sender struct {
	cfg     Config
	out     *Outbound
	adapter transport.Adapter

	heartbeat atomic.Uint32

	sent             atomic.Uint64
	retries          atomic.Uint64
	dropped          atomic.Uint64
	errors           atomic.Uint64
	heartbeatsSent   atomic.Uint64
	heartbeatsMissed atomic.Uint64
}

type SenderStats struct {
	Sent             uint64 `json:"sent"`
	Retries          uint64 `json:"retries"`
	Dropped          uint64 `json:"dropped"` // Gave up while the primitive stayed busy
	Errors           uint64 `json:"errors"`  // Gave up on a link error
	Heartbeat        uint32 `json:"heartbeat"`
	HeartbeatsSent   uint64 `json:"heartbeats_sent"`
	HeartbeatsMissed uint64 `json:"heartbeats_missed"`
}

func NewSender(cfg Config, out *Outbound, adapter transport.Adapter) *Sender {
	return &Sender{cfg: cfg, out: out, adapter: adapter}
}

func (s *Sender) Run(ctx context.Context) error {
	slog.Info("Started sender loop", "origin", s.cfg.OriginID, "attempts", s.cfg.MaxAttempts, "heartbeat", s.cfg.HeartbeatInterval)
	defer slog.Info("Stopped sender loop", "origin", s.cfg.OriginID)

	var tick <-chan time.Time
	if s.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			s.sendHeartbeat()
		case f := <-s.out.queue:
			if s.send(ctx, f) && s.cfg.Pacing > 0 {
				if !sleep(ctx, s.cfg.Pacing) {
					return nil
				}
			}
		}
	}
}

// send tries f up to MaxAttempts times with RetryDelay between attempts.
func (s *Sender) send(ctx context.Context, f proto.Frame) bool {
	var res transport.SendResult
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			s.retries.Add(1)
			if !sleep(ctx, s.cfg.RetryDelay) {
				break
			}
		}
		res = s.adapter.TrySend(f)
		if res == transport.Sent {
			s.sent.Add(1)
			return true
		}
	}

	if res == transport.Error {
		s.errors.Add(1)
	} else {
		s.dropped.Add(1)
	}
	slog.Warn("Dropping outbound frame", "command", f.Command, "value", f.Value, "result", res.String())
	return false
}

// sendHeartbeat makes a single attempt; a missed beat is only counted.
func (s *Sender) sendHeartbeat() {
	n := s.heartbeat.Add(1)
	f := proto.Frame{OriginID: s.cfg.OriginID, Command: proto.CmdHeartbeat, Value: n}
	if s.adapter.TrySend(f) == transport.Sent {
		s.heartbeatsSent.Add(1)
		return
	}
	s.heartbeatsMissed.Add(1)
	slog.Debug("Heartbeat not sent", "counter", n)
}

func (s *Sender) Stats() SenderStats {
	return SenderStats{
		Sent:             s.sent.Load(),
		Retries:          s.retries.Load(),
		Dropped:          s.dropped.Load(),
		Errors:           s.errors.Load(),
		Heartbeat:        s.heartbeat.Load(),
		HeartbeatsSent:   s.heartbeatsSent.Load(),
		HeartbeatsMissed: s.heartbeatsMissed.Load(),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
