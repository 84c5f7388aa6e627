package mcp

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/server"
)

type MCPServer struct {
	Server *server.MCPServer

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewMCPServer() *MCPServer {
	return &MCPServer{Server: server.NewMCPServer("ipcpipe", "1.0.0")}
}

// Start serves MCP over stdin/stdout until Shutdown.
func (s *MCPServer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	err := server.NewStdioServer(s.Server).Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *MCPServer) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
