package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/config"
	"github.com/mbocsi/ipcpipe/server"
	"github.com/mbocsi/ipcpipe/services"
	"github.com/mbocsi/ipcpipe/transport"
	"github.com/mbocsi/ipcpipe/web"
	"github.com/mbocsi/ipcpipe/wifi"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err.Error())
		os.Exit(1)
	}

	// The net core keeps its own bus for wifi and log events.
	bus, err := broker.NewBus(cfg.Bus)
	if err != nil {
		slog.Error("Failed to create bus", "error", err.Error())
		os.Exit(1)
	}
	if err := server.RegisterChannelsWith(bus, cfg.Policies); err != nil {
		slog.Error("Failed to register bus channels", "error", err.Error())
		os.Exit(1)
	}
	server.SetupLogger(os.Stdout, cfg.LogLevel, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A ws link on the monitor address shares the monitor's listener.
	shared := cfg.Monitor.Addr != "" && cfg.Link.Mode == "ws" && cfg.Link.Listen == cfg.Monitor.Addr
	adapter, linkComps, err := server.OpenLink(ctx, server.LinkOptions{
		Mode:     cfg.Link.Mode,
		Listen:   cfg.Link.Listen,
		Peer:     cfg.Link.Peer,
		Discover: cfg.Link.Discover,
		Instance: "netcore",
		Mounted:  shared,
	})
	if err != nil {
		slog.Error("Failed to open link", "error", err.Error())
		os.Exit(1)
	}

	radio := &wifi.SimRadio{}
	if cfg.SimulateAPs {
		radio.SetAPs(wifi.DemoAccessPoints())
	}
	netCore := server.NewNetCore(server.NetCoreConfig{
		Pipe:       cfg.Pipe,
		Wifi:       cfg.Wifi,
		ScanPacing: cfg.ScanPacing,
		Sensors:    cfg.Sensors,
	}, adapter, bus, radio, &wifi.SimConnector{Radio: radio})

	srv := server.New(server.Options{
		Cores:      []server.Core{netCore},
		Components: linkComps,
		Bus:        bus,
		LogLevel:   cfg.LogLevel,
		Context:    ctx,
	})

	if cfg.Monitor.Addr != "" {
		// Only the bus and link views apply; wifi requests belong to the app core.
		busService := services.NewBusService(bus)
		linkService := services.NewLinkService(netCore)
		monitor := web.NewMonitor(cfg.Monitor.Addr, &services.ServiceContainer{
			Link: linkService,
			Bus:  busService,
		})
		if shared {
			monitor.MountLink(adapter.(*transport.WSLink).Handler())
		}
		srv.AddComponent(monitor)
	}

	if err := srv.Start(); err != nil {
		slog.Error("Net core stopped", "error", err.Error())
		os.Exit(1)
	}
}
