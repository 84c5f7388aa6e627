package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/server"
)

type scanOutcome struct {
	set server.ScanResultSet
	err error
}

type scanWaiter struct {
	ch       chan scanOutcome
	seq      uint64
	accepted bool // A scan started after the request was sent
}

// ScanTracker matches scan requests with the assembled results that
// follow them
type ScanTracker struct {
	waiters map[string]*scanWaiter
	nextSeq uint64
	timeout time.Duration
	mu      sync.RWMutex
}

// NewScanTracker creates a new scan tracker
func NewScanTracker(defaultTimeout time.Duration) *ScanTracker {
	return &ScanTracker{
		waiters: make(map[string]*scanWaiter),
		timeout: defaultTimeout,
	}
}

// Scan registers a waiter, calls send and waits for the next completed
// scan. Every waiter registered when a scan completes receives it.
func (st *ScanTracker) Scan(ctx context.Context, send func() error, timeout ...time.Duration) (*server.ScanResultSet, error) {
	id := uuid.New().String()
	ch := make(chan scanOutcome, 1)

	wait := st.timeout
	if len(timeout) > 0 && timeout[0] > 0 {
		wait = timeout[0]
	}

	st.mu.Lock()
	st.nextSeq++
	st.waiters[id] = &scanWaiter{ch: ch, seq: st.nextSeq}
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		delete(st.waiters, id)
		st.mu.Unlock()
	}()

	if err := send(); err != nil {
		return nil, toServiceError(err, "Failed to send scan request")
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		return &out.set, nil
	case <-timer.C:
		return nil, ServiceError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("Scan timeout after %v", wait),
		}
	case <-ctx.Done():
		return nil, ServiceError{
			Code:    ErrCodeTimeout,
			Message: "Scan abandoned",
			Cause:   ctx.Err(),
		}
	}
}

// HandleScan hands a finished scan to every waiter. It reports how many
// were waiting.
func (st *ScanTracker) HandleScan(set server.ScanResultSet) int {
	out := scanOutcome{set: set}
	if set.Status != 0 {
		out.err = ServiceError{
			Code:    ErrCodeInternal,
			Message: fmt.Sprintf("Scan failed with status %d", set.Status),
		}
	}
	return st.broadcast(out)
}

// HandleStatus tracks scan acceptance. A scanning status accepts every
// pending request. Each refusal answers one request only: the newest one
// not yet accepted, since requests reach the connection owner in order
// and earlier ones were either accepted or refused already. It reports
// how many waiters were answered.
func (st *ScanTracker) HandleStatus(ls proto.LinkStatus) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	if ls.State == proto.LinkScanning && ls.Reason == proto.ReasonNone {
		for _, w := range st.waiters {
			w.accepted = true
		}
		return 0
	}
	if ls.Reason != proto.ReasonScanBlockedConnected {
		return 0
	}

	var refused *scanWaiter
	for _, w := range st.waiters {
		if w.accepted || len(w.ch) > 0 {
			continue
		}
		if refused == nil || w.seq > refused.seq {
			refused = w
		}
	}
	if refused == nil {
		return 0
	}

	msg := fmt.Sprintf("Scan refused while %s", ls.State.String())
	if ls.State == proto.LinkScanning {
		msg = "Scan refused: another scan is in progress"
	}
	refused.ch <- scanOutcome{err: ServiceError{Code: ErrCodeConflict, Message: msg}}
	return 1
}

func (st *ScanTracker) broadcast(out scanOutcome) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	n := 0
	for _, w := range st.waiters {
		select {
		case w.ch <- out:
			n++
		default:
			// Already answered
		}
	}
	return n
}

// Pending returns the number of callers waiting for a scan
func (st *ScanTracker) Pending() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.waiters)
}
