package proto

import (
	"bytes"
	"fmt"
)

const (
	SSIDMaxLen     = 32
	PasswordMaxLen = 64
	BSSIDLen       = 6
	RSSIUnknown    = -127 // Reported while no link is up
)

// LinkState is the connection state carried in status events.
type LinkState uint8

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkScanning
	LinkError
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkScanning:
		return "scanning"
	case LinkError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Reason explains the last status transition.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonScanBlockedConnected
	ReasonScanFailed
	ReasonConnectFailed
	ReasonDisconnected
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonScanBlockedConnected:
		return "scan_blocked_connected"
	case ReasonScanFailed:
		return "scan_failed"
	case ReasonConnectFailed:
		return "connect_failed"
	case ReasonDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("reason(%d)", uint16(r))
}

// LinkStatus is a snapshot of the connection status record.
type LinkStatus struct {
	State  LinkState `json:"state"`
	Reason Reason    `json:"reason"`
	RSSI   int16     `json:"rssi"`
	SSID   string    `json:"ssid"`
}

// AccessPoint is one scan result.
type AccessPoint struct {
	SSID     string  `json:"ssid"`
	RSSI     int32   `json:"rssi"`
	Channel  uint8   `json:"channel"`
	MAC      [6]byte `json:"mac"`
	Security string  `json:"security"`
}

func (ap AccessPoint) BSSID() string {
	m := ap.MAC
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

type FilterMode uint32

const (
	FilterNone FilterMode = iota
	FilterSSID
	FilterMAC
	FilterBSSID
	FilterBand
	FilterRSSI
	FilterSecurity
	FilterChannel
)

// ScanFilter restricts which access points a scan reports.
type ScanFilter struct {
	Mode     FilterMode     `json:"mode"`
	SSID     string         `json:"ssid,omitempty"`
	BSSID    [BSSIDLen]byte `json:"bssid"`
	Security uint32         `json:"security,omitempty"`
	Channel  uint8          `json:"channel,omitempty"`
	RSSI     int32          `json:"rssi,omitempty"` // Minimum signal for FilterRSSI
}

// Match reports whether ap passes the filter. Modes without a matcher
// accept everything.
func (f ScanFilter) Match(ap AccessPoint) bool {
	switch f.Mode {
	case FilterSSID:
		return ap.SSID == f.SSID
	case FilterMAC, FilterBSSID:
		return bytes.Equal(ap.MAC[:], f.BSSID[:])
	case FilterSecurity:
		return ap.Security == SecurityName(f.Security)
	case FilterChannel:
		return ap.Channel == f.Channel
	case FilterRSSI:
		return ap.RSSI >= f.RSSI
	}
	return true
}

const (
	SecurityWPA2AESPSK uint32 = iota // Default for connect requests
	SecurityOpen
	SecurityWPATKIPPSK
	SecurityWPA3SAE
)

func SecurityName(code uint32) string {
	switch code {
	case SecurityWPA2AESPSK:
		return "WPA2_AES_PSK"
	case SecurityOpen:
		return "OPEN"
	case SecurityWPATKIPPSK:
		return "WPA_TKIP_PSK"
	case SecurityWPA3SAE:
		return "WPA3_SAE"
	}
	return "UNKNOWN"
}

// Credentials identify a network to join.
type Credentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"-"`
	Security uint32 `json:"security"`
}

func (c Credentials) Validate() error {
	if c.SSID == "" {
		return fmt.Errorf("ssid is required")
	}
	if len(c.SSID) > SSIDMaxLen {
		return fmt.Errorf("ssid longer than %d bytes", SSIDMaxLen)
	}
	if len(c.Password) > PasswordMaxLen {
		return fmt.Errorf("password longer than %d bytes", PasswordMaxLen)
	}
	return nil
}
