package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/pipe"
	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/server"
)

// mockBackend answers scan requests by firing the scan hooks itself.
type mockBackend struct {
	mu       sync.Mutex
	onScan   []func(server.ScanResultSet)
	onStatus []func(proto.LinkStatus)
	status   proto.LinkStatus
	known    bool
	last     *server.ScanResultSet
	sendErr  error
	reply    func(b *mockBackend)
	connects []proto.Credentials
}

func (b *mockBackend) Scan(*proto.ScanFilter) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	if b.reply != nil {
		go b.reply(b)
	}
	return nil
}

func (b *mockBackend) Connect(c proto.Credentials) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects = append(b.connects, c)
	return b.sendErr
}

func (b *mockBackend) Disconnect() error    { return b.sendErr }
func (b *mockBackend) RequestStatus() error { return b.sendErr }
func (b *mockBackend) Ping() error          { return b.sendErr }
func (b *mockBackend) Print(string) error   { return b.sendErr }

func (b *mockBackend) Status() (proto.LinkStatus, bool) { return b.status, b.known }

func (b *mockBackend) LastScan() (server.ScanResultSet, bool) {
	if b.last == nil {
		return server.ScanResultSet{}, false
	}
	return *b.last, true
}

func (b *mockBackend) OnScanDone(fn func(server.ScanResultSet)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onScan = append(b.onScan, fn)
}

func (b *mockBackend) OnStatusChange(fn func(proto.LinkStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStatus = append(b.onStatus, fn)
}

func (b *mockBackend) fireScan(set server.ScanResultSet) {
	b.mu.Lock()
	hooks := b.onScan
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(set)
	}
}

func (b *mockBackend) fireStatus(ls proto.LinkStatus) {
	b.mu.Lock()
	hooks := b.onStatus
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(ls)
	}
}

func serviceCode(t *testing.T, err error) string {
	t.Helper()
	var se ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("Expected ServiceError, got %T: %v", err, err)
	}
	return se.Code
}

func TestWifiScanReturnsAssembledSet(t *testing.T) {
	b := &mockBackend{reply: func(b *mockBackend) {
		b.fireScan(server.ScanResultSet{Total: 2, Received: 2, APs: []proto.AccessPoint{{SSID: "a"}, {SSID: "b"}}})
	}}
	ws := NewWifiService(b, time.Second)

	set, err := ws.Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if set.Total != 2 || len(set.APs) != 2 {
		t.Errorf("Unexpected scan result %+v", set)
	}
}

func TestWifiScanTimeout(t *testing.T) {
	ws := NewWifiService(&mockBackend{}, time.Second)
	_, err := ws.Scan(context.Background(), nil, 20*time.Millisecond)
	if code := serviceCode(t, err); code != ErrCodeTimeout {
		t.Errorf("Expected TIMEOUT, got %s", code)
	}
}

func TestWifiScanBlocked(t *testing.T) {
	b := &mockBackend{reply: func(b *mockBackend) {
		b.fireStatus(proto.LinkStatus{State: proto.LinkConnected, Reason: proto.ReasonScanBlockedConnected})
	}}
	ws := NewWifiService(b, time.Second)
	_, err := ws.Scan(context.Background(), nil)
	if code := serviceCode(t, err); code != ErrCodeConflict {
		t.Errorf("Expected CONFLICT, got %s", code)
	}
}

func TestWifiScanFailedStatus(t *testing.T) {
	b := &mockBackend{reply: func(b *mockBackend) {
		b.fireScan(server.ScanResultSet{Status: 1})
	}}
	ws := NewWifiService(b, time.Second)
	_, err := ws.Scan(context.Background(), nil)
	if code := serviceCode(t, err); code != ErrCodeInternal {
		t.Errorf("Expected INTERNAL_ERROR, got %s", code)
	}
}

func TestWifiScanQueueFull(t *testing.T) {
	b := &mockBackend{sendErr: fmt.Errorf("%w: scan_request", pipe.ErrQueueFull)}
	ws := NewWifiService(b, time.Second)
	_, err := ws.Scan(context.Background(), nil)
	if code := serviceCode(t, err); code != ErrCodeQueueFull {
		t.Errorf("Expected QUEUE_FULL, got %s", code)
	}
	if !errors.Is(err, pipe.ErrQueueFull) {
		t.Error("Expected cause to be kept")
	}
}

func TestWifiScanContextCancelled(t *testing.T) {
	ws := NewWifiService(&mockBackend{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ws.Scan(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled cause, got %v", err)
	}
}

func TestWifiConnectValidates(t *testing.T) {
	b := &mockBackend{}
	ws := NewWifiService(b, time.Second)
	if code := serviceCode(t, ws.Connect(proto.Credentials{})); code != ErrCodeInvalidInput {
		t.Errorf("Expected INVALID_INPUT, got %s", code)
	}
	if err := ws.Connect(proto.Credentials{SSID: "home", Password: "pw"}); err != nil {
		t.Errorf("Connect failed: %v", err)
	}
	if len(b.connects) != 1 {
		t.Errorf("Expected one connect, got %d", len(b.connects))
	}
}

func TestWifiStatusAndLastScan(t *testing.T) {
	b := &mockBackend{status: proto.LinkStatus{State: proto.LinkConnected, SSID: "home", RSSI: -40}, known: true}
	ws := NewWifiService(b, time.Second)

	st, _ := ws.Status()
	if st.State != "connected" || st.SSID != "home" || !st.Known {
		t.Errorf("Unexpected status %+v", st)
	}
	if _, err := ws.LastScan(); serviceCode(t, err) != ErrCodeNotFound {
		t.Errorf("Expected NOT_FOUND before any scan, got %v", err)
	}
	b.last = &server.ScanResultSet{Total: 1}
	if set, err := ws.LastScan(); err != nil || set.Total != 1 {
		t.Errorf("Unexpected last scan %+v (err %v)", set, err)
	}
}

func TestScanTrackerBroadcast(t *testing.T) {
	st := NewScanTracker(time.Second)
	if n := st.HandleScan(server.ScanResultSet{}); n != 0 {
		t.Errorf("Expected no waiters, got %d", n)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Scan(context.Background(), func() error { return nil }); err != nil {
				t.Errorf("Scan failed: %v", err)
			}
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for st.Pending() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := st.HandleScan(server.ScanResultSet{Total: 1, Received: 1}); n != 2 {
		t.Errorf("Expected both waiters answered, got %d", n)
	}
	wg.Wait()
	if st.Pending() != 0 {
		t.Errorf("Expected waiters cleaned up, got %d", st.Pending())
	}
}

type scanCall struct {
	set *server.ScanResultSet
	err error
}

func startScan(st *ScanTracker) <-chan scanCall {
	out := make(chan scanCall, 1)
	go func() {
		set, err := st.Scan(context.Background(), func() error { return nil })
		out <- scanCall{set, err}
	}()
	return out
}

func waitPending(t *testing.T, st *ScanTracker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for st.Pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d pending scans, got %d", n, st.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConcurrentScanRefusalLeavesRunningScan(t *testing.T) {
	st := NewScanTracker(2 * time.Second)

	first := startScan(st)
	waitPending(t, st, 1)
	st.HandleStatus(proto.LinkStatus{State: proto.LinkScanning})

	second := startScan(st)
	waitPending(t, st, 2)
	if n := st.HandleStatus(proto.LinkStatus{State: proto.LinkScanning, Reason: proto.ReasonScanBlockedConnected}); n != 1 {
		t.Errorf("Expected one waiter refused, got %d", n)
	}

	got := <-second
	if code := serviceCode(t, got.err); code != ErrCodeConflict {
		t.Errorf("Expected CONFLICT for the second scan, got %s", code)
	}
	if !strings.Contains(got.err.Error(), "in progress") {
		t.Errorf("Expected in-progress message, got %q", got.err.Error())
	}

	st.HandleScan(server.ScanResultSet{Total: 1, Received: 1})
	res := <-first
	if res.err != nil || res.set.Total != 1 {
		t.Errorf("Expected the first scan to complete, got %+v (err %v)", res.set, res.err)
	}
}

func TestScanRefusalAnswersNewestRequest(t *testing.T) {
	st := NewScanTracker(2 * time.Second)

	first := startScan(st)
	waitPending(t, st, 1)
	second := startScan(st)
	waitPending(t, st, 2)

	st.HandleStatus(proto.LinkStatus{Reason: proto.ReasonScanBlockedConnected})
	if got := <-second; got.err == nil {
		t.Error("Expected the newest scan to be refused")
	}

	st.HandleScan(server.ScanResultSet{Total: 3, Received: 3})
	if res := <-first; res.err != nil || res.set.Total != 3 {
		t.Errorf("Expected the earlier scan to get the result, got %+v (err %v)", res.set, res.err)
	}
}

func newTestBus(t *testing.T) *broker.Bus {
	t.Helper()
	bus, err := broker.NewBus(broker.DefaultConfig())
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	if err := server.RegisterChannels(bus); err != nil {
		t.Fatalf("RegisterChannels failed: %v", err)
	}
	return bus
}

func TestBusServiceLookup(t *testing.T) {
	bs := NewBusService(newTestBus(t))

	channels, _ := bs.ListChannels()
	if len(channels) != 3 || channels[0].Name != "wifi" {
		t.Errorf("Unexpected channels %+v", channels)
	}
	byID, err := bs.GetChannel("2")
	if err != nil || byID.Name != "input" {
		t.Errorf("Expected input by id, got %+v (err %v)", byID, err)
	}
	byName, err := bs.GetChannel("log")
	if err != nil || byName.ID != server.ChannelLog {
		t.Errorf("Expected log by name, got %+v (err %v)", byName, err)
	}
	if _, err := bs.GetChannel("nope"); serviceCode(t, err) != ErrCodeNotFound {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
	if _, err := bs.GetChannel(""); serviceCode(t, err) != ErrCodeInvalidInput {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
}

func TestBusServiceSubscribeCountsDeliveries(t *testing.T) {
	bus := newTestBus(t)
	bs := NewBusService(bus)

	q, id, err := bs.Subscribe("log", 2)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	bus.Publish(id, server.TypeText, []byte("one"))
	bus.Publish(id, server.TypeText, []byte("two"))
	bus.Publish(id, server.TypeText, []byte("three"))

	info, _ := bs.GetChannel("log")
	if info.Delivered != 2 || info.Dropped != 1 || info.Subscribers != 1 {
		t.Errorf("Expected 2 delivered and 1 dropped, got %+v", info)
	}
	if n := q.Drain(); n != 2 {
		t.Errorf("Expected 2 queued events, got %d", n)
	}
	if err := bs.Unsubscribe(id, q); err != nil {
		t.Errorf("Unsubscribe failed: %v", err)
	}
	if err := bs.Unsubscribe(id, q); serviceCode(t, err) != ErrCodeNotFound {
		t.Errorf("Expected NOT_FOUND on second unsubscribe, got %v", err)
	}
}

type staticCore struct{ stats server.CoreStats }

func (c staticCore) Stats() server.CoreStats { return c.stats }

func TestLinkService(t *testing.T) {
	alive := server.CoreStats{Role: "app"}
	alive.Pipe.Peer = pipe.LivenessSnapshot{Seen: true, At: time.Now(), Counter: 4}
	stale := server.CoreStats{Role: "net"}
	stale.Pipe.Peer = pipe.LivenessSnapshot{Seen: true, At: time.Now().Add(-time.Minute)}

	ls := NewLinkService(staticCore{alive}, staticCore{stale})
	links, _ := ls.ListLinks()
	if len(links) != 2 || !links[0].Alive || links[1].Alive {
		t.Errorf("Unexpected links %+v", links)
	}
	if _, err := ls.GetLink("gpu"); serviceCode(t, err) != ErrCodeNotFound {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
	if l, err := ls.GetLink("net"); err != nil || l.Role != "net" {
		t.Errorf("Unexpected link %+v (err %v)", l, err)
	}
}
