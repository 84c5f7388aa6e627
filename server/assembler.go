package server

import (
	"sync"
	"time"

	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/wifi"
)

// MaxScanResults matches what the net core reports per scan.
const MaxScanResults = wifi.LastScanMax

// ScanResultSet is one assembled scan. Total comes from the complete
// event; items that never arrived are listed in Missing.
type ScanResultSet struct {
	Total      uint16              `json:"total"`
	Received   int                 `json:"received"`
	Missing    []uint16            `json:"missing,omitempty"`
	Status     uint16              `json:"status"`
	APs        []proto.AccessPoint `json:"aps"`
	FinishedAt time.Time           `json:"finished_at"`
}

func (s ScanResultSet) Complete() bool {
	return s.Status == 0 && s.Received == int(s.Total)
}

// ScanSummary is the bus form of a finished scan; the items travel as
// separate events.
type ScanSummary struct {
	Total    uint16   `json:"total"`
	Received int      `json:"received"`
	Missing  []uint16 `json:"missing,omitempty"`
	Status   uint16   `json:"status"`
}

func (s ScanResultSet) Summary() ScanSummary {
	return ScanSummary{Total: s.Total, Received: s.Received, Missing: s.Missing, Status: s.Status}
}

// ScanAssembler collects paginated scan items until the complete event.
type ScanAssembler struct {
	mu    sync.Mutex
	total uint16
	items map[uint16]proto.AccessPoint
	last  ScanResultSet
	done  bool
}

func NewScanAssembler() *ScanAssembler {
	return &ScanAssembler{items: make(map[uint16]proto.AccessPoint)}
}

// Add stores one item. Items outside the page or beyond MaxScanResults
// are rejected; a new total starts a new scan.
func (a *ScanAssembler) Add(r proto.ScanResult) bool {
	if r.Index >= r.Total || r.Index >= MaxScanResults {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.Total != a.total {
		a.total = r.Total
		clear(a.items)
	}
	a.items[r.Index] = r.AP
	return true
}

// Complete closes the current scan and returns the assembled set.
func (a *ScanAssembler) Complete(c proto.ScanComplete) ScanResultSet {
	a.mu.Lock()
	defer a.mu.Unlock()

	set := ScanResultSet{Total: c.Total, Status: c.Status, FinishedAt: time.Now()}
	limit := c.Total
	if limit > MaxScanResults {
		limit = MaxScanResults
	}
	if a.total == c.Total {
		for i := uint16(0); i < limit; i++ {
			ap, ok := a.items[i]
			if !ok {
				set.Missing = append(set.Missing, i)
				continue
			}
			set.APs = append(set.APs, ap)
		}
	} else {
		for i := uint16(0); i < limit; i++ {
			set.Missing = append(set.Missing, i)
		}
	}
	set.Received = len(set.APs)

	a.total = 0
	clear(a.items)
	a.last = set
	a.done = true
	return set
}

// Last returns the most recent assembled scan.
func (a *ScanAssembler) Last() (ScanResultSet, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.done
}
