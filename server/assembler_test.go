package server

import (
	"testing"

	"github.com/mbocsi/ipcpipe/proto"
)

func TestAssemblerCompleteScan(t *testing.T) {
	a := NewScanAssembler()
	for i := uint16(0); i < 3; i++ {
		if !a.Add(proto.ScanResult{Index: i, Total: 3, AP: proto.AccessPoint{SSID: string(rune('a' + i))}}) {
			t.Fatalf("Add %d rejected", i)
		}
	}
	set := a.Complete(proto.ScanComplete{Total: 3})
	if !set.Complete() || set.Received != 3 || len(set.Missing) != 0 {
		t.Errorf("Expected complete set, got %+v", set)
	}
	if set.APs[0].SSID != "a" || set.APs[2].SSID != "c" {
		t.Errorf("Expected index order, got %+v", set.APs)
	}
	last, ok := a.Last()
	if !ok || last.Total != 3 {
		t.Errorf("Expected last scan to be kept, got %+v %v", last, ok)
	}
}

func TestAssemblerReportsMissing(t *testing.T) {
	a := NewScanAssembler()
	a.Add(proto.ScanResult{Index: 0, Total: 4})
	a.Add(proto.ScanResult{Index: 2, Total: 4})

	set := a.Complete(proto.ScanComplete{Total: 4})
	if set.Complete() {
		t.Error("Expected incomplete set")
	}
	if set.Received != 2 || len(set.Missing) != 2 || set.Missing[0] != 1 || set.Missing[1] != 3 {
		t.Errorf("Expected missing [1 3], got %+v", set)
	}
}

func TestAssemblerRejectsOutOfRange(t *testing.T) {
	a := NewScanAssembler()
	if a.Add(proto.ScanResult{Index: 3, Total: 3}) {
		t.Error("Expected index == total to be rejected")
	}
	if a.Add(proto.ScanResult{Index: MaxScanResults, Total: MaxScanResults + 5}) {
		t.Error("Expected index beyond the result cap to be rejected")
	}
}

func TestAssemblerNewTotalStartsOver(t *testing.T) {
	a := NewScanAssembler()
	a.Add(proto.ScanResult{Index: 0, Total: 2})
	a.Add(proto.ScanResult{Index: 1, Total: 2})
	a.Add(proto.ScanResult{Index: 0, Total: 1})

	set := a.Complete(proto.ScanComplete{Total: 1})
	if set.Received != 1 || !set.Complete() {
		t.Errorf("Expected only the newer scan, got %+v", set)
	}
}

func TestAssemblerMismatchedComplete(t *testing.T) {
	a := NewScanAssembler()
	a.Add(proto.ScanResult{Index: 0, Total: 2})

	set := a.Complete(proto.ScanComplete{Total: 3, Status: 0})
	if set.Received != 0 || len(set.Missing) != 3 {
		t.Errorf("Expected every item missing, got %+v", set)
	}
	if s := set.Summary(); s.Total != 3 || len(s.Missing) != 3 {
		t.Errorf("Unexpected summary %+v", s)
	}
}

func TestAssemblerFailedScan(t *testing.T) {
	a := NewScanAssembler()
	set := a.Complete(proto.ScanComplete{Total: 0, Status: 1})
	if set.Complete() {
		t.Error("Expected failed scan to be incomplete")
	}
}
