package server

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/proto"
)

type Options struct {
	Cores      []Core
	Components []Component
	Bus        *broker.Bus     // Optional; receives log records on ChannelLog
	LogLevel   slog.Level      // Defaults to Info
	LogOutput  io.Writer       // Defaults to stdout; use stderr when MCP owns stdout
	Context    context.Context // Optional (defaults to context.Background())
}

type Server struct {
	options     Options
	coordinator *Coordinator
}

func New(opts Options) *Server {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	c := NewCoordinator(opts.Cores...)
	for _, comp := range opts.Components {
		c.AddComponent(comp)
	}
	return &Server{options: opts, coordinator: c}
}

func (s *Server) AddComponent(comp Component) {
	s.coordinator.AddComponent(comp)
}

// SetupLogger installs a JSON handler on w as the default logger. With a
// bus, every record is also published on the log channel.
func SetupLogger(w io.Writer, level slog.Level, bus *broker.Bus) {
	if w == nil {
		w = os.Stdout
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	if bus != nil {
		handler = broker.NewLogHandler(handler, bus, ChannelLog, TypeLogRecord)
	}
	slog.SetDefault(slog.New(handler))
}

// traceFrames logs every inbound frame of a core at debug level.
func traceFrames(core string) func(proto.Frame) {
	return func(f proto.Frame) {
		ctx := context.Background()
		if !slog.Default().Enabled(ctx, slog.LevelDebug) {
			return
		}
		slog.DebugContext(ctx, "Frame received", "core", core, "frame", f.String())
	}
}

func (s *Server) Start() error {
	SetupLogger(s.options.LogOutput, s.options.LogLevel, s.options.Bus)
	ctx, stop := signal.NotifyContext(s.options.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.coordinator.Start(ctx)
}
