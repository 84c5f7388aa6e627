package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Message is the decoded form of a frame. The set of implementations is
// closed: one type per entry of the command table.
type Message interface {
	Command() Command
	encode(p *[PayloadSize]byte) (value uint32, err error)
}

// Encode builds the frame carrying m.
func Encode(origin uint16, m Message) (Frame, error) {
	f := Frame{OriginID: origin, Command: m.Command()}
	value, err := m.encode(&f.Payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", m.Command(), err)
	}
	f.Value = value
	return f, nil
}

// Decode turns a frame into its typed message.
func Decode(f Frame) (Message, error) {
	e, ok := registry[f.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownCommand, uint32(f.Command))
	}
	return e.decode(f)
}

type Heartbeat struct {
	Counter uint32 `json:"counter"`
}

type Log struct {
	Text string `json:"text"`
}

type Print struct {
	Text string `json:"text"`
}

type CLIMsg struct {
	Text string `json:"text"`
}

type Gyro struct {
	Seq uint32  `json:"seq"`
	X   float32 `json:"x"`
	Y   float32 `json:"y"`
	Z   float32 `json:"z"`
}

type ButtonEvent struct {
	ButtonID   uint32 `json:"button_id"`
	PressCount uint32 `json:"press_count"`
	Pressed    bool   `json:"pressed"`
}

type Touch struct {
	X       int16 `json:"x"`
	Y       int16 `json:"y"`
	Pressed bool  `json:"pressed"`
}

type Ping struct{}

// ScanRequest asks the connection owner for a scan. A nil Filter scans
// without restriction.
type ScanRequest struct {
	Filter *ScanFilter `json:"filter,omitempty"`
}

type ConnectRequest struct {
	Credentials
}

type DisconnectRequest struct{}

type StatusRequest struct{}

// ScanResult is one paginated item of a scan.
type ScanResult struct {
	Index uint16      `json:"index"`
	Total uint16      `json:"total"`
	AP    AccessPoint `json:"ap"`
}

type ScanComplete struct {
	Total  uint16 `json:"total"`
	Status uint16 `json:"status"` // Zero on success
}

type Status struct {
	LinkStatus
}

func (Heartbeat) Command() Command         { return CmdHeartbeat }
func (Log) Command() Command               { return CmdLog }
func (Print) Command() Command             { return CmdPrint }
func (CLIMsg) Command() Command            { return CmdCLIMsg }
func (Gyro) Command() Command              { return CmdGyro }
func (ButtonEvent) Command() Command       { return CmdButtonEvent }
func (Touch) Command() Command             { return CmdTouch }
func (Ping) Command() Command              { return CmdPing }
func (ScanRequest) Command() Command       { return CmdScanRequest }
func (ConnectRequest) Command() Command    { return CmdConnectRequest }
func (DisconnectRequest) Command() Command { return CmdDisconnectRequest }
func (StatusRequest) Command() Command     { return CmdStatusRequest }
func (ScanResult) Command() Command        { return EvtScanResult }
func (ScanComplete) Command() Command      { return EvtScanComplete }
func (Status) Command() Command            { return EvtStatus }

var ne = binary.NativeEndian

// Payload offsets follow the C struct layouts of the peer, padding included.
const (
	scanFilterModeOff     = 4
	scanFilterSSIDOff     = 8
	scanFilterBSSIDOff    = 40
	scanFilterSecurityOff = 48
	scanFilterChannelOff  = 52
	scanFilterRSSIOff     = 56

	connectPasswordOff = SSIDMaxLen + 1
	connectPasswordEnd = connectPasswordOff + PasswordMaxLen + 1
	connectSecurityOff = 100

	statusRSSIOff   = 2
	statusReasonOff = 4
	statusSSIDOff   = 6

	apSSIDLen        = 64
	apRSSIOff        = 64
	apChannelOff     = 68
	apMACOff         = 69
	apSecurityOff    = 75
	apSecurityLen    = 32
	buttonPressedOff = 8
)

// putString copies s into dst leaving room for a terminating zero.
// Text longer than the field is truncated.
func putString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}

func getString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}

func (m Heartbeat) encode(p *[PayloadSize]byte) (uint32, error) { return m.Counter, nil }

func (m Log) encode(p *[PayloadSize]byte) (uint32, error) {
	putString(p[:], m.Text)
	return 0, nil
}

func (m Print) encode(p *[PayloadSize]byte) (uint32, error) {
	putString(p[:], m.Text)
	return 0, nil
}

func (m CLIMsg) encode(p *[PayloadSize]byte) (uint32, error) {
	putString(p[:], m.Text)
	return 0, nil
}

func (m Gyro) encode(p *[PayloadSize]byte) (uint32, error) {
	ne.PutUint32(p[0:], math.Float32bits(m.X))
	ne.PutUint32(p[4:], math.Float32bits(m.Y))
	ne.PutUint32(p[8:], math.Float32bits(m.Z))
	return m.Seq, nil
}

func (m ButtonEvent) encode(p *[PayloadSize]byte) (uint32, error) {
	ne.PutUint32(p[0:], m.ButtonID)
	ne.PutUint32(p[4:], m.PressCount)
	if m.Pressed {
		p[buttonPressedOff] = 1
	}
	return 0, nil
}

func (m Touch) encode(p *[PayloadSize]byte) (uint32, error) {
	ne.PutUint16(p[0:], uint16(m.X))
	ne.PutUint16(p[2:], uint16(m.Y))
	if m.Pressed {
		p[4] = 1
	}
	return 0, nil
}

func (Ping) encode(p *[PayloadSize]byte) (uint32, error)              { return 0, nil }
func (DisconnectRequest) encode(p *[PayloadSize]byte) (uint32, error) { return 0, nil }
func (StatusRequest) encode(p *[PayloadSize]byte) (uint32, error)     { return 0, nil }

func (m ScanRequest) encode(p *[PayloadSize]byte) (uint32, error) {
	if m.Filter == nil {
		return 0, nil
	}
	f := m.Filter
	if len(f.SSID) > SSIDMaxLen {
		return 0, fmt.Errorf("%w: ssid longer than %d bytes", ErrPayloadTooLarge, SSIDMaxLen)
	}
	p[0] = 1
	ne.PutUint32(p[scanFilterModeOff:], uint32(f.Mode))
	copy(p[scanFilterSSIDOff:scanFilterSSIDOff+SSIDMaxLen], f.SSID)
	copy(p[scanFilterBSSIDOff:], f.BSSID[:])
	ne.PutUint32(p[scanFilterSecurityOff:], f.Security)
	p[scanFilterChannelOff] = f.Channel
	ne.PutUint32(p[scanFilterRSSIOff:], uint32(f.RSSI))
	return 0, nil
}

func (m ConnectRequest) encode(p *[PayloadSize]byte) (uint32, error) {
	if len(m.SSID) > SSIDMaxLen || len(m.Password) > PasswordMaxLen {
		return 0, fmt.Errorf("%w: credentials exceed field size", ErrPayloadTooLarge)
	}
	putString(p[:connectPasswordOff], m.SSID)
	putString(p[connectPasswordOff:connectPasswordEnd], m.Password)
	ne.PutUint32(p[connectSecurityOff:], m.Security)
	return 0, nil
}

func (m ScanResult) encode(p *[PayloadSize]byte) (uint32, error) {
	if m.Index >= m.Total {
		return 0, fmt.Errorf("%w: index %d of %d", ErrPageIndex, m.Index, m.Total)
	}
	putString(p[:apSSIDLen], m.AP.SSID)
	ne.PutUint32(p[apRSSIOff:], uint32(m.AP.RSSI))
	p[apChannelOff] = m.AP.Channel
	copy(p[apMACOff:], m.AP.MAC[:])
	putString(p[apSecurityOff:apSecurityOff+apSecurityLen], m.AP.Security)
	return PackIndex(m.Total, m.Index), nil
}

func (m ScanComplete) encode(p *[PayloadSize]byte) (uint32, error) {
	ne.PutUint16(p[0:], m.Total)
	ne.PutUint16(p[2:], m.Status)
	return 0, nil
}

func (m Status) encode(p *[PayloadSize]byte) (uint32, error) {
	p[0] = uint8(m.State)
	ne.PutUint16(p[statusRSSIOff:], uint16(m.RSSI))
	ne.PutUint16(p[statusReasonOff:], uint16(m.Reason))
	putString(p[statusSSIDOff:statusSSIDOff+SSIDMaxLen+1], m.SSID)
	return 0, nil
}

func decodeHeartbeat(f Frame) (Message, error) { return Heartbeat{Counter: f.Value}, nil }
func decodeLog(f Frame) (Message, error)       { return Log{Text: getString(f.Payload[:])}, nil }
func decodePrint(f Frame) (Message, error)     { return Print{Text: getString(f.Payload[:])}, nil }
func decodeCLIMsg(f Frame) (Message, error)    { return CLIMsg{Text: getString(f.Payload[:])}, nil }
func decodePing(Frame) (Message, error)        { return Ping{}, nil }

func decodeDisconnectRequest(Frame) (Message, error) { return DisconnectRequest{}, nil }
func decodeStatusRequest(Frame) (Message, error)     { return StatusRequest{}, nil }

func decodeGyro(f Frame) (Message, error) {
	p := f.Payload[:]
	return Gyro{
		Seq: f.Value,
		X:   math.Float32frombits(ne.Uint32(p[0:])),
		Y:   math.Float32frombits(ne.Uint32(p[4:])),
		Z:   math.Float32frombits(ne.Uint32(p[8:])),
	}, nil
}

func decodeButton(f Frame) (Message, error) {
	p := f.Payload[:]
	return ButtonEvent{
		ButtonID:   ne.Uint32(p[0:]),
		PressCount: ne.Uint32(p[4:]),
		Pressed:    p[buttonPressedOff] != 0,
	}, nil
}

func decodeTouch(f Frame) (Message, error) {
	p := f.Payload[:]
	return Touch{
		X:       int16(ne.Uint16(p[0:])),
		Y:       int16(ne.Uint16(p[2:])),
		Pressed: p[4] != 0,
	}, nil
}

func decodeScanRequest(f Frame) (Message, error) {
	p := f.Payload[:]
	if p[0] == 0 {
		return ScanRequest{}, nil
	}
	filter := &ScanFilter{
		Mode:     FilterMode(ne.Uint32(p[scanFilterModeOff:])),
		SSID:     getString(p[scanFilterSSIDOff : scanFilterSSIDOff+SSIDMaxLen]),
		Security: ne.Uint32(p[scanFilterSecurityOff:]),
		Channel:  p[scanFilterChannelOff],
		RSSI:     int32(ne.Uint32(p[scanFilterRSSIOff:])),
	}
	copy(filter.BSSID[:], p[scanFilterBSSIDOff:])
	return ScanRequest{Filter: filter}, nil
}

func decodeConnectRequest(f Frame) (Message, error) {
	p := f.Payload[:]
	return ConnectRequest{Credentials{
		SSID:     getString(p[:connectPasswordOff]),
		Password: getString(p[connectPasswordOff:connectPasswordEnd]),
		Security: ne.Uint32(p[connectSecurityOff:]),
	}}, nil
}

func decodeScanResult(f Frame) (Message, error) {
	total, index := UnpackIndex(f.Value)
	if index >= total {
		return nil, fmt.Errorf("%w: index %d of %d", ErrPageIndex, index, total)
	}
	p := f.Payload[:]
	ap := AccessPoint{
		SSID:     getString(p[:apSSIDLen]),
		RSSI:     int32(ne.Uint32(p[apRSSIOff:])),
		Channel:  p[apChannelOff],
		Security: getString(p[apSecurityOff : apSecurityOff+apSecurityLen]),
	}
	copy(ap.MAC[:], p[apMACOff:])
	return ScanResult{Index: index, Total: total, AP: ap}, nil
}

func decodeScanComplete(f Frame) (Message, error) {
	p := f.Payload[:]
	return ScanComplete{Total: ne.Uint16(p[0:]), Status: ne.Uint16(p[2:])}, nil
}

func decodeStatus(f Frame) (Message, error) {
	p := f.Payload[:]
	return Status{LinkStatus{
		State:  LinkState(p[0]),
		RSSI:   int16(ne.Uint16(p[statusRSSIOff:])),
		Reason: Reason(ne.Uint16(p[statusReasonOff:])),
		SSID:   getString(p[statusSSIDOff : statusSSIDOff+SSIDMaxLen+1]),
	}}, nil
}
