package main

import (
	"flag"
	"io"
	"log/slog"
	"os"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/config"
	"github.com/mbocsi/ipcpipe/mcp"
	"github.com/mbocsi/ipcpipe/server"
	"github.com/mbocsi/ipcpipe/services"
	"github.com/mbocsi/ipcpipe/transport"
	"github.com/mbocsi/ipcpipe/web"
	"github.com/mbocsi/ipcpipe/wifi"
)

// Runs both cores in one process over a loopback link. Use cmd/netcore
// and cmd/appcore for a link between processes.
func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err.Error())
		os.Exit(1)
	}
	if cfg.Link.Mode != "loopback" {
		slog.Error("Single process mode needs link mode loopback", "mode", cfg.Link.Mode)
		os.Exit(1)
	}

	bus, err := broker.NewBus(cfg.Bus)
	if err != nil {
		slog.Error("Failed to create bus", "error", err.Error())
		os.Exit(1)
	}
	if err := server.RegisterChannelsWith(bus, cfg.Policies); err != nil {
		slog.Error("Failed to register bus channels", "error", err.Error())
		os.Exit(1)
	}

	appSide, netSide := transport.NewLoopbackPair("loopback-app", "loopback-net")
	defer appSide.Close()
	defer netSide.Close()

	radio := &wifi.SimRadio{}
	if cfg.SimulateAPs {
		radio.SetAPs(wifi.DemoAccessPoints())
	}
	netCore := server.NewNetCore(server.NetCoreConfig{
		Pipe:       cfg.Pipe,
		Wifi:       cfg.Wifi,
		ScanPacing: cfg.ScanPacing,
		Sensors:    cfg.Sensors,
	}, netSide, nil, radio, &wifi.SimConnector{Radio: radio})
	appCore := server.NewAppCore(cfg.Pipe, appSide, bus)

	serviceManager := services.NewServiceManager(appCore, bus, services.DefaultScanTimeout, appCore, netCore)
	svc := serviceManager.GetServices()

	var logOutput io.Writer = os.Stdout
	if cfg.MCP {
		logOutput = os.Stderr
	}
	srv := server.New(server.Options{
		Cores:     []server.Core{netCore, appCore},
		Bus:       bus,
		LogLevel:  cfg.LogLevel,
		LogOutput: logOutput,
	})
	if cfg.Monitor.Addr != "" {
		srv.AddComponent(web.NewMonitor(cfg.Monitor.Addr, svc))
	}
	if cfg.MCP {
		mcpServer := mcp.NewMCPServer()
		mcp.NewTools(svc).Register(mcpServer)
		srv.AddComponent(mcpServer)
	}

	if err := srv.Start(); err != nil {
		slog.Error("Error running ipcpipe", "error", err.Error())
		os.Exit(1)
	}
}
