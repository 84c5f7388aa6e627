package proto

import (
	"fmt"
	"sort"
)

type Command uint32

const (
	CmdHeartbeat Command = 0x00

	CmdLog         Command = 0x90
	CmdGyro        Command = 0x91
	CmdButtonEvent Command = 0x93
	CmdCLIMsg      Command = 0x94
	CmdTouch       Command = 0x95
	CmdPrint       Command = 0x96
	CmdPing        Command = 0x9F

	CmdScanRequest       Command = 0xA0
	CmdConnectRequest    Command = 0xA1
	CmdDisconnectRequest Command = 0xA2
	CmdStatusRequest     Command = 0xA3

	EvtScanResult   Command = 0xB0
	EvtScanComplete Command = 0xB1
	EvtStatus       Command = 0xB2
)

// Direction tells which way a command flows. Requests go to the peer that
// owns the resource and are safe to repeat; events are fire-and-forget.
type Direction int

const (
	Request Direction = iota
	Event
)

func (d Direction) String() string {
	if d == Request {
		return "request"
	}
	return "event"
}

// Entry is one row of the static command table.
type Entry struct {
	Code      Command
	Name      string
	Direction Direction
	decode    func(Frame) (Message, error)
}

var registry = map[Command]Entry{
	CmdHeartbeat:         {CmdHeartbeat, "heartbeat", Event, decodeHeartbeat},
	CmdLog:               {CmdLog, "log", Event, decodeLog},
	CmdGyro:              {CmdGyro, "gyro", Request, decodeGyro},
	CmdButtonEvent:       {CmdButtonEvent, "button_event", Request, decodeButton},
	CmdCLIMsg:            {CmdCLIMsg, "cli_msg", Request, decodeCLIMsg},
	CmdTouch:             {CmdTouch, "touch", Request, decodeTouch},
	CmdPrint:             {CmdPrint, "print", Request, decodePrint},
	CmdPing:              {CmdPing, "ping", Request, decodePing},
	CmdScanRequest:       {CmdScanRequest, "scan_request", Request, decodeScanRequest},
	CmdConnectRequest:    {CmdConnectRequest, "connect_request", Request, decodeConnectRequest},
	CmdDisconnectRequest: {CmdDisconnectRequest, "disconnect_request", Request, decodeDisconnectRequest},
	CmdStatusRequest:     {CmdStatusRequest, "status_request", Request, decodeStatusRequest},
	EvtScanResult:        {EvtScanResult, "scan_result", Event, decodeScanResult},
	EvtScanComplete:      {EvtScanComplete, "scan_complete", Event, decodeScanComplete},
	EvtStatus:            {EvtStatus, "status", Event, decodeStatus},
}

// Lookup returns the table entry for a code.
func Lookup(c Command) (Entry, bool) {
	e, ok := registry[c]
	return e, ok
}

// Commands lists every known code in ascending order.
func Commands() []Command {
	out := make([]Command, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c Command) String() string {
	if e, ok := registry[c]; ok {
		return e.Name
	}
	return fmt.Sprintf("cmd(%#x)", uint32(c))
}

func (c Command) Known() bool {
	_, ok := registry[c]
	return ok
}
