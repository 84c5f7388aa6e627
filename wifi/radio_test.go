package wifi

import (
	"context"
	"testing"

	"github.com/mbocsi/ipcpipe/proto"
)

func TestSimRadioFilters(t *testing.T) {
	r := &SimRadio{APs: DemoAccessPoints()}

	cases := []struct {
		name   string
		filter *proto.ScanFilter
		want   int
	}{
		{"none", nil, 5},
		{"ssid", &proto.ScanFilter{Mode: proto.FilterSSID, SSID: "lab"}, 1},
		{"security", &proto.ScanFilter{Mode: proto.FilterSecurity, Security: proto.SecurityOpen}, 2},
		{"channel", &proto.ScanFilter{Mode: proto.FilterChannel, Channel: 11}, 2},
		{"rssi", &proto.ScanFilter{Mode: proto.FilterRSSI, RSSI: -60}, 2},
		{"bssid", &proto.ScanFilter{Mode: proto.FilterBSSID, BSSID: [6]byte{0x02, 0, 0, 0, 0, 0x03}}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			aps, err := r.Scan(context.Background(), tc.filter)
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if len(aps) != tc.want {
				t.Errorf("Expected %d access points, got %d", tc.want, len(aps))
			}
		})
	}

	// Filtering must not disturb the configured list.
	if len(r.APs) != 5 || r.APs[0].SSID != "home" {
		t.Errorf("Radio list modified: %+v", r.APs)
	}
}

func TestSimConnectorPasswords(t *testing.T) {
	r := &SimRadio{APs: DemoAccessPoints()}
	c := &SimConnector{Radio: r, Passwords: map[string]string{"home": "secret"}}

	if !c.known(proto.Credentials{SSID: "home", Password: "secret"}) {
		t.Error("Expected matching password to be accepted")
	}
	if c.known(proto.Credentials{SSID: "home", Password: "wrong"}) {
		t.Error("Expected wrong password to be refused")
	}
	if !c.known(proto.Credentials{SSID: "cafe"}) {
		t.Error("Expected network without a password entry to be accepted")
	}
	if c.known(proto.Credentials{SSID: "nowhere"}) {
		t.Error("Expected unknown SSID to be refused")
	}
}
