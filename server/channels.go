package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/proto"
)

// Bus channels shared by both cores.
const (
	ChannelWifi  uint16 = 1 // Status records, scan items and scan summaries
	ChannelInput uint16 = 2 // Gyro, button and touch events
	ChannelLog   uint16 = 3 // Peer text and structured log records
)

// Bus event types. Message-derived events reuse the command code.
const (
	TypeStatus      = uint32(proto.EvtStatus)
	TypeScanItem    = uint32(proto.EvtScanResult)
	TypeScanSummary = uint32(proto.EvtScanComplete)
	TypeGyro        = uint32(proto.CmdGyro)
	TypeButton      = uint32(proto.CmdButtonEvent)
	TypeTouch       = uint32(proto.CmdTouch)
	TypeText        = uint32(proto.CmdPrint)
	TypeLogRecord   = 0x100
)

var channelTable = []struct {
	id     uint16
	name   string
	config broker.ChannelConfig
}{
	{ChannelWifi, "wifi", broker.ChannelConfig{Policy: broker.Wait}},
	{ChannelInput, "input", broker.ChannelConfig{Policy: broker.DropOldest}},
	{ChannelLog, "log", broker.ChannelConfig{Policy: broker.DropNewest}},
}

// RegisterChannels registers the shared channels. Already registered
// channels are left as they are.
func RegisterChannels(bus *broker.Bus) error {
	return RegisterChannelsWith(bus, nil)
}

// RegisterChannelsWith is RegisterChannels with per-channel policy
// overrides keyed by channel name.
func RegisterChannelsWith(bus *broker.Bus, policies map[string]broker.Policy) error {
	known := make(map[string]bool, len(channelTable))
	for _, c := range channelTable {
		known[c.name] = true
	}
	for name := range policies {
		if !known[name] {
			return fmt.Errorf("%w: no channel named %q", broker.ErrChannelNotFound, name)
		}
	}

	for _, c := range channelTable {
		cc := c.config
		if p, ok := policies[c.name]; ok {
			cc.Policy = p
		}
		err := bus.RegisterChannel(c.id, c.name, cc)
		if err != nil && !errors.Is(err, broker.ErrDuplicateChannel) {
			return fmt.Errorf("register channel %s: %w", c.name, err)
		}
	}
	return nil
}

func TypeName(typ uint32) string {
	switch typ {
	case TypeLogRecord:
		return "log_record"
	case TypeScanSummary:
		return "scan_summary"
	case TypeScanItem:
		return "scan_item"
	}
	return proto.Command(typ).String()
}

// publishJSON encodes v and publishes it. Publishing is best effort: a
// full subscriber is already counted by the bus.
func publishJSON(bus *broker.Bus, channel uint16, typ uint32, v any, fromISR bool) {
	if bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode bus event", "channel", channel, "type", typ, "error", err)
		return
	}
	if fromISR {
		_, err = bus.PublishFromISR(channel, typ, data)
	} else {
		_, err = bus.Publish(channel, typ, data)
	}
	if err != nil {
		slog.Debug("Bus publish failed", "channel", channel, "type", typ, "error", err)
	}
}
