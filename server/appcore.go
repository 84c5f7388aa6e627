package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/pipe"
	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/transport"
)

// AppCore is the application side. It issues wifi requests to the net
// core and republishes everything it hears on the bus.
type AppCore struct {
	pipe.NopHandlers

	Pipe      *pipe.Pipe
	Bus       *broker.Bus
	Assembler *ScanAssembler

	mu       sync.RWMutex
	status   proto.LinkStatus
	statusOK bool
	onScan   []func(ScanResultSet)
	onStatus []func(proto.LinkStatus)

	pongs   atomic.Uint64
	inputs  atomic.Uint64
	rejects atomic.Uint64
}

func NewAppCore(cfg pipe.Config, adapter transport.Adapter, bus *broker.Bus) *AppCore {
	if cfg.OriginID == 0 {
		cfg.OriginID = OriginAppCore
	}
	a := &AppCore{Bus: bus, Assembler: NewScanAssembler()}
	a.status.RSSI = proto.RSSIUnknown
	a.Pipe = pipe.New(cfg, adapter, a)
	a.Pipe.Observe(traceFrames("app"))
	return a
}

func (a *AppCore) Run(ctx context.Context) error {
	return a.Pipe.Run(ctx)
}

func (a *AppCore) Close() error {
	return a.Pipe.Close()
}

// OnScanDone registers fn to run with every assembled scan, after its
// items have been published.
func (a *AppCore) OnScanDone(fn func(ScanResultSet)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onScan = append(a.onScan, fn)
}

func (a *AppCore) OnStatusChange(fn func(proto.LinkStatus)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStatus = append(a.onStatus, fn)
}

func (a *AppCore) Scan(filter *proto.ScanFilter) error {
	return a.Pipe.Send(proto.ScanRequest{Filter: filter})
}

func (a *AppCore) Connect(creds proto.Credentials) error {
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return a.Pipe.Send(proto.ConnectRequest{Credentials: creds})
}

func (a *AppCore) Disconnect() error {
	return a.Pipe.Send(proto.DisconnectRequest{})
}

func (a *AppCore) RequestStatus() error {
	return a.Pipe.Send(proto.StatusRequest{})
}

func (a *AppCore) Ping() error {
	return a.Pipe.Send(proto.Ping{})
}

func (a *AppCore) Print(text string) error {
	if len(text) > proto.PayloadSize-1 {
		return fmt.Errorf("%w: text longer than %d bytes", ErrInvalidRequest, proto.PayloadSize-1)
	}
	return a.Pipe.Send(proto.Print{Text: text})
}

// Status returns the last status the net core reported and whether one
// has arrived yet.
func (a *AppCore) Status() (proto.LinkStatus, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status, a.statusOK
}

func (a *AppCore) LastScan() (ScanResultSet, bool) {
	return a.Assembler.Last()
}

func (a *AppCore) Pongs() uint64 {
	return a.pongs.Load()
}

func (a *AppCore) OnStatus(m proto.Status) {
	a.mu.Lock()
	a.status = m.LinkStatus
	a.statusOK = true
	hooks := a.onStatus
	a.mu.Unlock()

	slog.Debug("Link status", "state", m.State.String(), "reason", m.Reason.String(), "ssid", m.SSID, "rssi", m.RSSI)
	publishJSON(a.Bus, ChannelWifi, TypeStatus, m.LinkStatus, false)
	for _, fn := range hooks {
		fn(m.LinkStatus)
	}
}

func (a *AppCore) OnScanResult(m proto.ScanResult) {
	if !a.Assembler.Add(m) {
		a.rejects.Add(1)
		slog.Warn("Rejected scan item", "index", m.Index, "total", m.Total, "bssid", m.AP.BSSID())
		return
	}
	slog.Debug("Scan item", "index", m.Index, "total", m.Total, "ssid", m.AP.SSID, "bssid", m.AP.BSSID())
}

// OnScanComplete closes the scan and publishes one bus event per item,
// then the summary. Publishing runs as a continuation so a slow
// subscriber on the wifi channel cannot interleave with the next frames.
func (a *AppCore) OnScanComplete(m proto.ScanComplete) {
	set := a.Assembler.Complete(m)
	if len(set.Missing) > 0 {
		slog.Warn("Scan finished with missing items", "total", set.Total, "received", set.Received, "missing", len(set.Missing))
	} else {
		slog.Info("Scan finished", "total", set.Total, "status", set.Status)
	}

	next := 0
	a.Pipe.Continue(pipe.ContinuationFunc(func() bool {
		if next < len(set.APs) {
			publishJSON(a.Bus, ChannelWifi, TypeScanItem, set.APs[next], false)
			next++
			return false
		}
		publishJSON(a.Bus, ChannelWifi, TypeScanSummary, set.Summary(), false)
		a.mu.RLock()
		hooks := a.onScan
		a.mu.RUnlock()
		for _, fn := range hooks {
			fn(set)
		}
		return true
	}))
}

func (a *AppCore) OnGyro(m proto.Gyro) {
	a.inputs.Add(1)
	publishJSON(a.Bus, ChannelInput, TypeGyro, m, true)
}

func (a *AppCore) OnButton(m proto.ButtonEvent) {
	a.inputs.Add(1)
	slog.Debug("Button", "id", m.ButtonID, "pressed", m.Pressed, "count", m.PressCount)
	publishJSON(a.Bus, ChannelInput, TypeButton, m, true)
}

func (a *AppCore) OnTouch(m proto.Touch) {
	a.inputs.Add(1)
	publishJSON(a.Bus, ChannelInput, TypeTouch, m, true)
}

func (a *AppCore) OnLog(m proto.Log) {
	if m.Text == "pong" {
		a.pongs.Add(1)
	}
	slog.Info("Peer log", "text", m.Text)
	publishJSON(a.Bus, ChannelLog, TypeText, m, false)
}

func (a *AppCore) OnPrint(m proto.Print) {
	slog.Info("Peer print", "text", m.Text)
	publishJSON(a.Bus, ChannelLog, TypeText, m, false)
}

func (a *AppCore) OnCLIMsg(m proto.CLIMsg) {
	slog.Info("Peer CLI message", "text", m.Text)
	publishJSON(a.Bus, ChannelLog, TypeText, m, false)
}

func (a *AppCore) Stats() CoreStats {
	return CoreStats{
		Role:        "app",
		Pipe:        a.Pipe.Stats(),
		Inputs:      a.inputs.Load(),
		Pongs:       a.pongs.Load(),
		ScanRejects: a.rejects.Load(),
	}
}
