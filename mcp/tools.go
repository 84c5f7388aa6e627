package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/services"
)

// Tools exposes the service container as MCP tools
type Tools struct {
	services *services.ServiceContainer
}

func NewTools(serviceContainer *services.ServiceContainer) *Tools {
	return &Tools{services: serviceContainer}
}

// Register adds every tool to s
func (t *Tools) Register(s *MCPServer) {
	s.Server.AddTools(t.definitions()...)
}

func (t *Tools) definitions() []server.ServerTool {
	return append(t.wifiTools(), t.systemTools()...)
}

func (t *Tools) wifiTools() []server.ServerTool {
	statusTool := mcp.NewTool("get_wifi_status",
		mcp.WithDescription("Get the connection state, reason, SSID and signal strength reported by the network core"),
	)
	scanTool := mcp.NewTool("scan_wifi",
		mcp.WithDescription("Scan for access points and return the assembled result. Scans are refused while connected"),
		mcp.WithString("ssid",
			mcp.Description("Only report access points with this SSID"),
		),
		mcp.WithString("mode",
			mcp.Description("Filter mode: ssid, bssid, security, channel or rssi"),
		),
		mcp.WithString("bssid",
			mcp.Description("BSSID for the bssid filter, e.g. 02:00:00:00:00:01"),
		),
		mcp.WithNumber("min_rssi",
			mcp.Description("Minimum signal in dBm for the rssi filter"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait for the scan to finish"),
		),
	)
	connectTool := mcp.NewTool("connect_wifi",
		mcp.WithDescription("Ask the network core to join a network"),
		mcp.WithString("ssid",
			mcp.Required(),
			mcp.Description("Network name"),
		),
		mcp.WithString("password",
			mcp.Description("Network password"),
		),
	)
	disconnectTool := mcp.NewTool("disconnect_wifi",
		mcp.WithDescription("Ask the network core to leave the current network"),
	)

	return []server.ServerTool{
		{Tool: statusTool, Handler: t.handleGetWifiStatus},
		{Tool: scanTool, Handler: t.handleScanWifi},
		{Tool: connectTool, Handler: t.handleConnectWifi},
		{Tool: disconnectTool, Handler: t.handleDisconnectWifi},
	}
}

func (t *Tools) systemTools() []server.ServerTool {
	linksTool := mcp.NewTool("get_link_stats",
		mcp.WithDescription("Get queue, ring, sender and heartbeat statistics for both ends of the link"),
	)
	channelsTool := mcp.NewTool("list_bus_channels",
		mcp.WithDescription("List event bus channels with policies, subscribers and delivery counters"),
		mcp.WithBoolean("include_pool",
			mcp.Description("Include event pool statistics"),
		),
	)
	pingTool := mcp.NewTool("ping_peer",
		mcp.WithDescription("Send a ping to the network core; the pong arrives on the log channel"),
	)

	return []server.ServerTool{
		{Tool: linksTool, Handler: t.handleGetLinkStats},
		{Tool: channelsTool, Handler: t.handleListBusChannels},
		{Tool: pingTool, Handler: t.handlePingPeer},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	resultBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

func (t *Tools) handleGetWifiStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := t.services.Wifi.Status()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error reading status: %v", err)), nil
	}
	return jsonResult(status)
}

func (t *Tools) handleScanWifi(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter, err := services.ParseFilter(
		request.GetString("mode", ""),
		request.GetString("ssid", ""),
		request.GetString("bssid", ""),
		0, 0,
		int32(request.GetFloat("min_rssi", 0)),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := time.Duration(request.GetFloat("timeout", 0) * float64(time.Second))

	set, err := t.services.Wifi.Scan(ctx, filter, timeout)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Scan failed: %v", err)), nil
	}
	return jsonResult(set)
}

func (t *Tools) handleConnectWifi(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ssid, err := request.RequireString("ssid")
	if err != nil {
		return mcp.NewToolResultError("ssid is required and must be a string"), nil
	}
	creds := proto.Credentials{SSID: ssid, Password: request.GetString("password", "")}
	if err := t.services.Wifi.Connect(creds); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to connect: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Connect request for %s sent; poll get_wifi_status for the result", ssid)), nil
}

func (t *Tools) handleDisconnectWifi(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.services.Wifi.Disconnect(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to disconnect: %v", err)), nil
	}
	return mcp.NewToolResultText("Disconnect request sent"), nil
}

func (t *Tools) handleGetLinkStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	links, err := t.services.Link.ListLinks()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error listing links: %v", err)), nil
	}
	return jsonResult(links)
}

func (t *Tools) handleListBusChannels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channels, err := t.services.Bus.ListChannels()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error listing channels: %v", err)), nil
	}
	result := map[string]any{
		"channels": channels,
		"count":    len(channels),
	}
	if request.GetBool("include_pool", false) {
		if pool, err := t.services.Bus.PoolStats(); err == nil {
			result["pool"] = pool
		}
	}
	return jsonResult(result)
}

func (t *Tools) handlePingPeer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.services.Wifi.Ping(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to ping: %v", err)), nil
	}
	return mcp.NewToolResultText("Ping sent"), nil
}
