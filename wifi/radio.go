package wifi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbocsi/ipcpipe/proto"
)

// Radio performs access point scans.
type Radio interface {
	Scan(ctx context.Context, filter *proto.ScanFilter) ([]proto.AccessPoint, error)
}

// Notifier receives asynchronous link notifications from a Connector.
// Both methods must be safe to call from any goroutine.
type Notifier interface {
	NotifyConnected() bool
	NotifyDisconnected() bool
}

// Connector owns the association with one access point. Start returns as
// soon as the attempt is underway; the outcome arrives through n.
type Connector interface {
	Start(creds proto.Credentials, n Notifier) error
	Stop() error
	RSSI() (int16, error)
}

var ErrNotConnected = errors.New("wifi: not connected")

// SimRadio returns a fixed list of access points, filtered.
type SimRadio struct {
	mu    sync.Mutex
	APs   []proto.AccessPoint
	Delay time.Duration
	Err   error
}

func (r *SimRadio) Scan(ctx context.Context, filter *proto.ScanFilter) ([]proto.AccessPoint, error) {
	r.mu.Lock()
	aps := append([]proto.AccessPoint(nil), r.APs...)
	delay, err := r.Delay, r.Err
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return aps, nil
	}
	out := aps[:0]
	for _, ap := range aps {
		if filter.Match(ap) {
			out = append(out, ap)
		}
	}
	return out, nil
}

func (r *SimRadio) SetAPs(aps []proto.AccessPoint) {
	r.mu.Lock()
	r.APs = aps
	r.mu.Unlock()
}

// SimConnector associates with any SSID present in Radio whose password
// matches Passwords, after Delay.
type SimConnector struct {
	Radio     *SimRadio
	Passwords map[string]string
	Delay     time.Duration

	mu      sync.Mutex
	current string
	up      bool
	timer   *time.Timer
	notify  Notifier
}

func (c *SimConnector) Start(creds proto.Credentials, n Notifier) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.current = creds.SSID
	c.up = false
	c.notify = n

	ok := c.known(creds)
	c.timer = time.AfterFunc(c.Delay, func() {
		c.mu.Lock()
		if c.current != creds.SSID {
			c.mu.Unlock()
			return
		}
		c.up = ok
		c.mu.Unlock()
		if ok {
			n.NotifyConnected()
		} else {
			n.NotifyDisconnected()
		}
	})
	return nil
}

func (c *SimConnector) known(creds proto.Credentials) bool {
	if c.Radio == nil {
		return false
	}
	c.Radio.mu.Lock()
	defer c.Radio.mu.Unlock()
	for _, ap := range c.Radio.APs {
		if ap.SSID == creds.SSID {
			pw, ok := c.Passwords[creds.SSID]
			return !ok || pw == creds.Password
		}
	}
	return false
}

func (c *SimConnector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.current = ""
	c.up = false
	return nil
}

// Drop simulates the access point going away.
func (c *SimConnector) Drop() {
	c.mu.Lock()
	n := c.notify
	was := c.up
	c.up = false
	c.mu.Unlock()
	if was && n != nil {
		n.NotifyDisconnected()
	}
}

func (c *SimConnector) RSSI() (int16, error) {
	c.mu.Lock()
	ssid, up := c.current, c.up
	c.mu.Unlock()
	if !up {
		return proto.RSSIUnknown, ErrNotConnected
	}
	if c.Radio != nil {
		c.Radio.mu.Lock()
		defer c.Radio.mu.Unlock()
		for _, ap := range c.Radio.APs {
			if ap.SSID == ssid {
				return int16(ap.RSSI), nil
			}
		}
	}
	return proto.RSSIUnknown, nil
}

// DemoAccessPoints is the neighbourhood the simulated radio reports when
// no other list is configured.
func DemoAccessPoints() []proto.AccessPoint {
	return []proto.AccessPoint{
		{SSID: "home", RSSI: -42, Channel: 6, MAC: [6]byte{0x02, 0, 0, 0, 0, 0x01}, Security: "WPA2_AES_PSK"},
		{SSID: "office", RSSI: -58, Channel: 1, MAC: [6]byte{0x02, 0, 0, 0, 0, 0x02}, Security: "WPA_TKIP_PSK"},
		{SSID: "cafe", RSSI: -71, Channel: 11, MAC: [6]byte{0x02, 0, 0, 0, 0, 0x03}, Security: "OPEN"},
		{SSID: "lab", RSSI: -66, Channel: 36, MAC: [6]byte{0x02, 0, 0, 0, 0, 0x04}, Security: "WPA3_SAE"},
		{SSID: "guest", RSSI: -80, Channel: 11, MAC: [6]byte{0x02, 0, 0, 0, 0, 0x05}, Security: "OPEN"},
	}
}
