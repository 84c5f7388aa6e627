package services

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/pipe"
	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/server"
)

// toServiceError maps package errors onto service error codes. A
// ServiceError passes through unchanged.
func toServiceError(err error, message string) error {
	if err == nil {
		return nil
	}
	var se ServiceError
	if errors.As(err, &se) {
		return se
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, pipe.ErrQueueFull), errors.Is(err, broker.ErrSubscriberFull):
		code = ErrCodeQueueFull
	case errors.Is(err, server.ErrInvalidRequest), errors.Is(err, broker.ErrInvalidParam):
		code = ErrCodeInvalidInput
	case errors.Is(err, broker.ErrChannelNotFound), errors.Is(err, broker.ErrSubscriberNotFound):
		code = ErrCodeNotFound
	}
	return ServiceError{Code: code, Message: message, Cause: err}
}

// parseChannelRef reads a channel reference as a numeric id if it is one.
func parseChannelRef(ref string) (uint16, bool) {
	id, err := strconv.ParseUint(ref, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(id), true
}

// validateRef validates a channel reference
func validateRef(ref string) error {
	if ref == "" {
		return ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Channel cannot be empty",
		}
	}
	return nil
}

var filterModes = map[string]proto.FilterMode{
	"":         proto.FilterNone,
	"none":     proto.FilterNone,
	"ssid":     proto.FilterSSID,
	"mac":      proto.FilterMAC,
	"bssid":    proto.FilterBSSID,
	"band":     proto.FilterBand,
	"rssi":     proto.FilterRSSI,
	"security": proto.FilterSecurity,
	"channel":  proto.FilterChannel,
}

// ParseFilter builds a scan filter from its textual form. An empty mode
// with no SSID means an unfiltered scan; a bare SSID implies ssid mode.
func ParseFilter(mode, ssid, bssid string, security uint32, channel uint8, rssi int32) (*proto.ScanFilter, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" && ssid != "" {
		mode = "ssid"
	}
	fm, ok := filterModes[mode]
	if !ok {
		return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Unknown filter mode: " + mode}
	}
	if fm == proto.FilterNone {
		return nil, nil
	}

	f := &proto.ScanFilter{Mode: fm, SSID: ssid, Security: security, Channel: channel, RSSI: rssi}
	switch fm {
	case proto.FilterSSID:
		if ssid == "" || len(ssid) > proto.SSIDMaxLen {
			return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Filter ssid must be 1-32 bytes"}
		}
	case proto.FilterMAC, proto.FilterBSSID:
		hw, err := net.ParseMAC(bssid)
		if err != nil || len(hw) != proto.BSSIDLen {
			return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid bssid: " + bssid, Cause: err}
		}
		copy(f.BSSID[:], hw)
	}
	return f, nil
}
