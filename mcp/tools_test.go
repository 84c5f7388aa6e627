package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/pipe"
	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/server"
	"github.com/mbocsi/ipcpipe/services"
	"github.com/mbocsi/ipcpipe/transport"
	"github.com/mbocsi/ipcpipe/wifi"
)

func newTestTools(t *testing.T) *Tools {
	t.Helper()
	bus, err := broker.NewBus(broker.DefaultConfig())
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	if err := server.RegisterChannels(bus); err != nil {
		t.Fatalf("RegisterChannels failed: %v", err)
	}

	a, b := transport.NewLoopbackPair("app", "net")
	radio := &wifi.SimRadio{APs: []proto.AccessPoint{
		{SSID: "home", RSSI: -40, Channel: 6, Security: "WPA2_AES_PSK"},
		{SSID: "lab", RSSI: -62, Channel: 1, Security: "WPA2_AES_PSK"},
	}}
	conn := &wifi.SimConnector{Radio: radio}

	pcfg := pipe.DefaultConfig()
	wcfg := wifi.DefaultConfig()
	wcfg.ReconnectInterval = 0
	wcfg.StatusPollInterval = 0
	netCore := server.NewNetCore(server.NetCoreConfig{Pipe: pcfg, Wifi: wcfg}, b, nil, radio, conn)
	app := server.NewAppCore(pcfg, a, bus)

	ctx, cancel := context.WithCancel(context.Background())
	go netCore.Run(ctx)
	go app.Run(ctx)
	t.Cleanup(func() {
		cancel()
		netCore.Close()
		app.Close()
		a.Close()
		b.Close()
	})

	sm := services.NewServiceManager(app, bus, 2*time.Second, app, netCore)
	return NewTools(sm.GetServices())
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("Expected content in result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestRegisterTools(t *testing.T) {
	tools := newTestTools(t)
	tools.Register(NewMCPServer())

	listed := make(map[string]bool)
	for _, st := range tools.definitions() {
		if st.Handler == nil {
			t.Errorf("Tool %s has no handler", st.Tool.Name)
		}
		listed[st.Tool.Name] = true
	}
	for _, name := range []string{"get_wifi_status", "scan_wifi", "connect_wifi", "disconnect_wifi", "get_link_stats", "list_bus_channels", "ping_peer"} {
		if !listed[name] {
			t.Errorf("Expected tool %s to be registered", name)
		}
	}
}

func TestScanWifiTool(t *testing.T) {
	tools := newTestTools(t)

	res, err := tools.handleScanWifi(context.Background(), callRequest(map[string]any{"ssid": "lab"}))
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("Unexpected tool error: %s", resultText(t, res))
	}
	var set server.ScanResultSet
	if err := json.Unmarshal([]byte(resultText(t, res)), &set); err != nil {
		t.Fatalf("Bad scan result: %v", err)
	}
	if set.Total != 1 || len(set.APs) != 1 || set.APs[0].SSID != "lab" {
		t.Errorf("Unexpected scan result %+v", set)
	}
}

func TestScanWifiToolBadFilter(t *testing.T) {
	tools := newTestTools(t)
	res, _ := tools.handleScanWifi(context.Background(), callRequest(map[string]any{"mode": "bssid", "bssid": "nope"}))
	if !res.IsError {
		t.Error("Expected error for malformed bssid")
	}
}

func TestConnectWifiTool(t *testing.T) {
	tools := newTestTools(t)

	res, _ := tools.handleConnectWifi(context.Background(), callRequest(map[string]any{}))
	if !res.IsError {
		t.Error("Expected error without ssid")
	}

	res, _ = tools.handleConnectWifi(context.Background(), callRequest(map[string]any{"ssid": "home", "password": "pw"}))
	if res.IsError {
		t.Fatalf("Unexpected tool error: %s", resultText(t, res))
	}

	deadline := time.After(3 * time.Second)
	for {
		res, _ := tools.handleGetWifiStatus(context.Background(), callRequest(nil))
		var st services.WifiStatus
		json.Unmarshal([]byte(resultText(t, res)), &st)
		if st.State == "connected" {
			if st.SSID != "home" {
				t.Errorf("Expected ssid home, got %s", st.SSID)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Timed out waiting for connected, last %+v", st)
		case <-time.After(5 * time.Millisecond):
		}
	}

	res, _ = tools.handleDisconnectWifi(context.Background(), callRequest(nil))
	if res.IsError {
		t.Errorf("Unexpected disconnect error: %s", resultText(t, res))
	}
}

func TestListBusChannelsTool(t *testing.T) {
	tools := newTestTools(t)

	res, _ := tools.handleListBusChannels(context.Background(), callRequest(map[string]any{"include_pool": true}))
	if res.IsError {
		t.Fatalf("Unexpected tool error: %s", resultText(t, res))
	}
	var out struct {
		Count int               `json:"count"`
		Pool  *broker.PoolStats `json:"pool"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("Bad result: %v", err)
	}
	if out.Count != 3 {
		t.Errorf("Expected 3 channels, got %d", out.Count)
	}
	if out.Pool == nil || out.Pool.Capacity != broker.DefaultEventPoolSize {
		t.Errorf("Expected pool stats, got %+v", out.Pool)
	}
}

func TestLinkStatsAndPingTools(t *testing.T) {
	tools := newTestTools(t)

	res, _ := tools.handleGetLinkStats(context.Background(), callRequest(nil))
	text := resultText(t, res)
	if res.IsError || !strings.Contains(text, `"role":"app"`) || !strings.Contains(text, `"role":"net"`) {
		t.Errorf("Unexpected link stats %s", text)
	}

	res, _ = tools.handlePingPeer(context.Background(), callRequest(nil))
	if res.IsError {
		t.Errorf("Unexpected ping error: %s", resultText(t, res))
	}
}
