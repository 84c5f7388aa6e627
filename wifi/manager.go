package wifi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/ipcpipe/proto"
)

const (
	DefaultQueueSize          = 16
	DefaultReconnectInterval  = 5 * time.Second
	DefaultStatusPollInterval = 2 * time.Second
	LastScanMax               = 32

	notifyQueueSize = 4
)

// State is the manager's own state, distinct from the link state it
// reports.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected // Transient, right after an external disconnect
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EventSink receives everything the manager publishes. Calls come from
// the manager goroutine in order.
type EventSink interface {
	Status(proto.LinkStatus)
	ScanResults([]proto.AccessPoint)
	ScanComplete(total uint16, status uint16)
}

type Config struct {
	QueueSize          int
	ReconnectInterval  time.Duration // Zero disables automatic reconnect
	StatusPollInterval time.Duration // Zero disables polling
}

func DefaultConfig() Config {
	return Config{
		QueueSize:          DefaultQueueSize,
		ReconnectInterval:  DefaultReconnectInterval,
		StatusPollInterval: DefaultStatusPollInterval,
	}
}

type cmdKind int

const (
	cmdScan cmdKind = iota
	cmdConnect
	cmdDisconnect
	cmdStatus
	cmdConnected
	cmdDisconnected
	cmdScanDone
	cmdRetry
)

type command struct {
	kind   cmdKind
	filter *proto.ScanFilter
	creds  proto.Credentials
	aps    []proto.AccessPoint
	err    error
	gen    uint64
}

// Manager is the connection state machine. All mutation happens on the
// Run goroutine; everything else feeds its command queue.
type Manager struct {
	cfg       Config
	radio     Radio
	connector Connector
	sink      EventSink

	cmds      chan command
	notes     chan command // Connector outcomes and retries, never dropped
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the Run goroutine.
	state    State
	creds    proto.Credentials
	scanning bool
	retry    *time.Timer
	retryGen uint64

	mu       sync.Mutex // Guards the snapshot fields below
	status   proto.LinkStatus
	snap     State
	lastScan []proto.AccessPoint
}

func NewManager(cfg Config, radio Radio, connector Connector, sink EventSink) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Manager{
		cfg:       cfg,
		radio:     radio,
		connector: connector,
		sink:      sink,
		cmds:      make(chan command, cfg.QueueSize),
		notes:     make(chan command, notifyQueueSize),
		done:      make(chan struct{}),
		status:    proto.LinkStatus{State: proto.LinkDisconnected, RSSI: proto.RSSIUnknown},
	}
}

func (m *Manager) RequestScan(filter *proto.ScanFilter) bool {
	return m.enqueue(command{kind: cmdScan, filter: filter})
}

func (m *Manager) RequestConnect(creds proto.Credentials) bool {
	return m.enqueue(command{kind: cmdConnect, creds: creds})
}

func (m *Manager) RequestDisconnect() bool {
	return m.enqueue(command{kind: cmdDisconnect})
}

func (m *Manager) RequestStatus() bool {
	return m.enqueue(command{kind: cmdStatus})
}

// NotifyConnected and NotifyDisconnected are called from the
// connector's own goroutines. They wait for room instead of dropping,
// and only fail once the manager has stopped.
func (m *Manager) NotifyConnected() bool {
	return m.notify(command{kind: cmdConnected})
}

func (m *Manager) NotifyDisconnected() bool {
	return m.notify(command{kind: cmdDisconnected})
}

func (m *Manager) notify(c command) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.notes <- c:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) enqueue(c command) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.cmds <- c:
		return true
	default:
		slog.Warn("Wifi command queue full", "command", int(c.kind))
		return false
	}
}

// Status returns a copy of the current status record.
func (m *Manager) Status() proto.LinkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// LastScan returns up to LastScanMax results of the last completed scan.
func (m *Manager) LastScan() []proto.AccessPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]proto.AccessPoint(nil), m.lastScan...)
}

func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer m.Close()

	slog.Info("Started wifi manager", "reconnect", m.cfg.ReconnectInterval, "poll", m.cfg.StatusPollInterval)
	defer slog.Info("Stopped wifi manager")

	var poll <-chan time.Time
	if m.cfg.StatusPollInterval > 0 {
		t := time.NewTicker(m.cfg.StatusPollInterval)
		defer t.Stop()
		poll = t.C
	}

	for {
		// Notifications go first so request pressure cannot starve them.
		select {
		case c := <-m.notes:
			m.handle(ctx, c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			m.stopRetry()
			return nil
		case <-m.done:
			m.stopRetry()
			return nil
		case c := <-m.notes:
			m.handle(ctx, c)
		case c := <-m.cmds:
			m.handle(ctx, c)
		case <-poll:
			m.pollRSSI()
		}
	}
}

// Close stops Run and rejects further requests. Safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

func (m *Manager) handle(ctx context.Context, c command) {
	switch c.kind {
	case cmdScan:
		m.handleScan(ctx, c.filter)
	case cmdScanDone:
		m.handleScanDone(c.aps, c.err)
	case cmdConnect:
		m.handleConnect(c.creds)
	case cmdDisconnect:
		m.handleDisconnect()
	case cmdStatus:
		if m.state == Connected {
			m.refreshRSSI()
		}
		m.publish(proto.ReasonNone)
	case cmdConnected:
		m.handleConnected()
	case cmdDisconnected:
		m.handleDisconnected()
	case cmdRetry:
		if c.gen == m.retryGen && m.state == Reconnecting {
			slog.Info("Retrying wifi connect", "ssid", m.creds.SSID)
			m.startConnect()
		}
	}
}

func (m *Manager) handleScan(ctx context.Context, filter *proto.ScanFilter) {
	if m.state != Idle || m.scanning {
		slog.Info("Scan blocked", "state", m.state.String(), "scanning", m.scanning)
		m.publish(proto.ReasonScanBlockedConnected)
		return
	}
	m.scanning = true
	m.setLink(proto.LinkScanning, proto.RSSIUnknown)
	m.publish(proto.ReasonNone)

	go func() {
		aps, err := m.radio.Scan(ctx, filter)
		select {
		case m.cmds <- command{kind: cmdScanDone, aps: aps, err: err}:
		case <-ctx.Done():
		case <-m.done:
		}
	}()
}

func (m *Manager) handleScanDone(aps []proto.AccessPoint, err error) {
	m.scanning = false
	if err != nil {
		slog.Error("Scan failed", "error", err)
		m.sink.ScanComplete(0, 1)
		m.setLink(proto.LinkError, proto.RSSIUnknown)
		m.publish(proto.ReasonScanFailed)
		return
	}

	cached := aps
	if len(cached) > LastScanMax {
		cached = cached[:LastScanMax]
	}
	m.mu.Lock()
	m.lastScan = append([]proto.AccessPoint(nil), cached...)
	m.mu.Unlock()

	// The peer assembles at most LastScanMax items per scan.
	slog.Info("Scan finished", "count", len(aps), "reported", len(cached))
	if len(cached) > 0 {
		m.sink.ScanResults(cached)
	}
	m.sink.ScanComplete(uint16(len(cached)), 0)

	// A connect may have started while the radio was busy.
	if m.state == Idle {
		m.setLink(proto.LinkDisconnected, proto.RSSIUnknown)
		m.publish(proto.ReasonNone)
	}
}

func (m *Manager) handleConnect(creds proto.Credentials) {
	switch m.state {
	case Connecting, Connected:
		if creds.SSID == m.creds.SSID {
			m.publish(proto.ReasonNone)
			return
		}
		if err := m.connector.Stop(); err != nil {
			slog.Warn("Stopping connector failed", "error", err)
		}
	case Reconnecting:
		m.stopRetry()
	}
	m.creds = creds
	m.startConnect()
}

func (m *Manager) startConnect() {
	m.setState(Connecting)
	m.mu.Lock()
	m.status.SSID = m.creds.SSID
	m.mu.Unlock()
	m.setLink(proto.LinkConnecting, proto.RSSIUnknown)
	m.publish(proto.ReasonNone)

	if err := m.connector.Start(m.creds, m); err != nil {
		slog.Error("Wifi connect failed to start", "ssid", m.creds.SSID, "error", err)
		if m.cfg.ReconnectInterval > 0 {
			m.scheduleRetry()
			return
		}
		m.setState(Idle)
		m.setLink(proto.LinkError, proto.RSSIUnknown)
		m.publish(proto.ReasonConnectFailed)
	}
}

func (m *Manager) handleConnected() {
	if m.state != Connecting && m.state != Reconnecting {
		slog.Debug("Ignoring connected notification", "state", m.state.String())
		return
	}
	m.stopRetry()
	m.setState(Connected)
	m.setLink(proto.LinkConnected, proto.RSSIUnknown)
	m.refreshRSSI()
	slog.Info("Wifi connected", "ssid", m.creds.SSID)
	m.publish(proto.ReasonNone)
}

func (m *Manager) handleDisconnected() {
	if m.state != Connected && m.state != Connecting {
		slog.Debug("Ignoring disconnected notification", "state", m.state.String())
		return
	}
	m.setState(Disconnected)
	m.setLink(proto.LinkDisconnected, proto.RSSIUnknown)
	slog.Info("Wifi disconnected", "ssid", m.creds.SSID)
	m.publish(proto.ReasonDisconnected)

	if m.cfg.ReconnectInterval > 0 {
		m.scheduleRetry()
		return
	}
	m.setState(Idle)
}

func (m *Manager) handleDisconnect() {
	m.stopRetry()
	if err := m.connector.Stop(); err != nil {
		slog.Warn("Stopping connector failed", "error", err)
	}
	m.setState(Idle)
	m.setLink(proto.LinkDisconnected, proto.RSSIUnknown)
	m.publish(proto.ReasonDisconnected)
}

func (m *Manager) scheduleRetry() {
	m.stopRetry()
	m.setState(Reconnecting)
	gen := m.retryGen
	m.retry = time.AfterFunc(m.cfg.ReconnectInterval, func() {
		m.notify(command{kind: cmdRetry, gen: gen})
	})
}

// stopRetry cancels any pending retry; a timer that already fired is
// ignored through the generation.
func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.retryGen++
}

func (m *Manager) pollRSSI() {
	if m.state != Connected {
		return
	}
	before := m.Status().RSSI
	m.refreshRSSI()
	if m.Status().RSSI != before {
		m.publish(proto.ReasonNone)
	}
}

func (m *Manager) refreshRSSI() {
	rssi, err := m.connector.RSSI()
	if err != nil {
		slog.Debug("RSSI unavailable", "error", err)
		return
	}
	m.mu.Lock()
	m.status.RSSI = rssi
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	m.state = s
	m.mu.Lock()
	m.snap = s
	m.mu.Unlock()
}

func (m *Manager) setLink(state proto.LinkState, rssi int16) {
	m.mu.Lock()
	m.status.State = state
	m.status.RSSI = rssi
	m.mu.Unlock()
}

func (m *Manager) publish(reason proto.Reason) {
	m.mu.Lock()
	m.status.Reason = reason
	st := m.status
	m.mu.Unlock()
	m.sink.Status(st)
}
