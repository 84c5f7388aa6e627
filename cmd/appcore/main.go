package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/config"
	"github.com/mbocsi/ipcpipe/mcp"
	"github.com/mbocsi/ipcpipe/server"
	"github.com/mbocsi/ipcpipe/services"
	"github.com/mbocsi/ipcpipe/web"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err.Error())
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

	// MCP speaks on stdout
	var logOutput io.Writer = os.Stdout
	if cfg.MCP {
		logOutput = os.Stderr
	}
	server.SetupLogger(logOutput, cfg.LogLevel, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, linkComps, err := server.OpenLink(ctx, server.LinkOptions{
		Mode:     cfg.Link.Mode,
		Listen:   cfg.Link.Listen,
		Peer:     cfg.Link.Peer,
		Discover: cfg.Link.Discover,
		Instance: "appcore",
	})
	if err != nil {
		slog.Error("Failed to open link", "error", err.Error())
		os.Exit(1)
	}

	appCore := server.NewAppCore(cfg.Pipe, adapter, bus)

	serviceManager := services.NewServiceManager(appCore, bus, services.DefaultScanTimeout, appCore)
	svc := serviceManager.GetServices()

	srv := server.New(server.Options{
		Cores:      []server.Core{appCore},
		Components: linkComps,
		Bus:        bus,
		LogLevel:   cfg.LogLevel,
		LogOutput:  logOutput,
		Context:    ctx,
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
		slog.Error("App core stopped", "error", err.Error())
		os.Exit(1)
	}
}
