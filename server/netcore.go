package server

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/pipe"
	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/transport"
	"github.com/mbocsi/ipcpipe/wifi"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidRequest = errors.New("invalid request")

const (
	OriginNetCore uint16 = 0x33
	OriginAppCore uint16 = 0x55
)

type NetCoreConfig struct {
	Pipe       pipe.Config
	Wifi       wifi.Config
	ScanPacing time.Duration // Pause between scan result frames
	Sensors    time.Duration // Gyro sample interval, zero disables
}

// NetCore owns the wifi connection and answers the app core's requests.
type NetCore struct {
	pipe.NopHandlers

	Pipe *pipe.Pipe
	Wifi *wifi.Manager
	Bus  *broker.Bus

	cfg      NetCoreConfig
	gyroSeq  atomic.Uint32
	presses  atomic.Uint32
	scansOut atomic.Uint64
}

func NewNetCore(cfg NetCoreConfig, adapter transport.Adapter, bus *broker.Bus, radio wifi.Radio, conn wifi.Connector) *NetCore {
	if cfg.Pipe.OriginID == 0 {
		cfg.Pipe.OriginID = OriginNetCore
	}
	n := &NetCore{Bus: bus, cfg: cfg}
	n.Pipe = pipe.New(cfg.Pipe, adapter, n)
	n.Pipe.Observe(traceFrames("net"))
	n.Wifi = wifi.NewManager(cfg.Wifi, radio, conn, netSink{n})
	return n
}

func (n *NetCore) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Pipe.Run(ctx) })
	g.Go(func() error { return n.Wifi.Run(ctx) })
	if n.cfg.Sensors > 0 {
		g.Go(func() error { return n.runSensors(ctx) })
	}
	return g.Wait()
}

func (n *NetCore) Close() error {
	n.Wifi.Close()
	return n.Pipe.Close()
}

func (n *NetCore) OnScanRequest(m proto.ScanRequest) {
	if !n.Wifi.RequestScan(m.Filter) {
		slog.Warn("Scan request dropped")
	}
}

func (n *NetCore) OnConnectRequest(m proto.ConnectRequest) {
	if !n.Wifi.RequestConnect(m.Credentials) {
		slog.Warn("Connect request dropped", "ssid", m.SSID)
	}
}

func (n *NetCore) OnDisconnectRequest(proto.DisconnectRequest) {
	if !n.Wifi.RequestDisconnect() {
		slog.Warn("Disconnect request dropped")
	}
}

func (n *NetCore) OnStatusRequest(proto.StatusRequest) {
	if !n.Wifi.RequestStatus() {
		slog.Warn("Status request dropped")
	}
}

func (n *NetCore) OnPing(proto.Ping) {
	if err := n.Pipe.Send(proto.Log{Text: "pong"}); err != nil {
		slog.Warn("Failed to answer ping", "error", err)
	}
}

func (n *NetCore) OnPrint(m proto.Print) {
	slog.Info("Peer print", "text", m.Text)
	publishJSON(n.Bus, ChannelLog, TypeText, m, false)
}

func (n *NetCore) OnCLIMsg(m proto.CLIMsg) {
	slog.Info("Peer CLI message", "text", m.Text)
	publishJSON(n.Bus, ChannelLog, TypeText, proto.Print(m), false)
}

func (n *NetCore) OnLog(m proto.Log) {
	slog.Info("Peer log", "text", m.Text)
}

// SendGyro sends one gyro sample. The frame value carries the sequence.
func (n *NetCore) SendGyro(x, y, z float32) error {
	return n.Pipe.Send(proto.Gyro{Seq: n.gyroSeq.Add(1), X: x, Y: y, Z: z})
}

func (n *NetCore) SendButton(id uint32, pressed bool) error {
	count := n.presses.Load()
	if pressed {
		count = n.presses.Add(1)
	}
	return n.Pipe.Send(proto.ButtonEvent{ButtonID: id, PressCount: count, Pressed: pressed})
}

func (n *NetCore) SendTouch(x, y int16, pressed bool) error {
	return n.Pipe.Send(proto.Touch{X: x, Y: y, Pressed: pressed})
}

// Every touchEvery gyro ticks the simulated panel is tapped.
const touchEvery = 16

// runSensors emits simulated gyro samples and taps until ctx ends.
func (n *NetCore) runSensors(ctx context.Context) error {
	t := time.NewTicker(n.cfg.Sensors)
	defer t.Stop()
	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			jitter := func() float32 { return rand.Float32()*0.2 - 0.1 }
			if err := n.SendGyro(jitter(), jitter(), 1+jitter()); err != nil {
				slog.Debug("Gyro sample dropped", "error", err)
			}
			if tick%touchEvery == 0 {
				x, y := int16(rand.IntN(320)), int16(rand.IntN(240))
				for _, pressed := range []bool{true, false} {
					if err := n.SendTouch(x, y, pressed); err != nil {
						slog.Debug("Touch event dropped", "error", err)
					}
				}
			}
		}
	}
}

// netSink turns manager output into frames for the app core.
type netSink struct {
	n *NetCore
}

func (s netSink) Status(st proto.LinkStatus) {
	if err := s.n.Pipe.Send(proto.Status{LinkStatus: st}); err != nil {
		slog.Warn("Status event dropped", "state", st.State.String(), "error", err)
	}
	publishJSON(s.n.Bus, ChannelWifi, TypeStatus, st, false)
}

// ScanResults sends one frame per result, paced so the app core's ring
// keeps up.
func (s netSink) ScanResults(aps []proto.AccessPoint) {
	total := uint16(len(aps))
	for i, ap := range aps {
		if err := s.n.Pipe.Send(proto.ScanResult{Index: uint16(i), Total: total, AP: ap}); err != nil {
			slog.Warn("Scan item dropped", "index", i, "total", total, "error", err)
		} else {
			s.n.scansOut.Add(1)
		}
		if s.n.cfg.ScanPacing > 0 {
			time.Sleep(s.n.cfg.ScanPacing)
		}
	}
}

func (s netSink) ScanComplete(total uint16, status uint16) {
	if err := s.n.Pipe.Send(proto.ScanComplete{Total: total, Status: status}); err != nil {
		slog.Warn("Scan complete dropped", "total", total, "error", err)
	}
	publishJSON(s.n.Bus, ChannelWifi, TypeScanSummary, proto.ScanComplete{Total: total, Status: status}, false)
}

func (n *NetCore) Stats() CoreStats {
	return CoreStats{
		Role:      "net",
		Pipe:      n.Pipe.Stats(),
		ScanItems: n.scansOut.Load(),
	}
}

type CoreStats struct {
	Role        string     `json:"role"`
	Pipe        pipe.Stats `json:"pipe"`
	ScanItems   uint64     `json:"scan_items,omitempty"` // Scan result frames queued
	Inputs      uint64     `json:"inputs,omitempty"`     // Gyro, button and touch events received
	Pongs       uint64     `json:"pongs,omitempty"`
	ScanRejects uint64     `json:"scan_rejects,omitempty"` // Items outside the page
}
