package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/ipcpipe/services"
)

// Monitor serves the JSON API and the live bus feed
type Monitor struct {
	services *services.ServiceContainer
	addr     string
	server   *http.Server
	link     http.Handler
}

// NewMonitor creates a monitor for the given services
func NewMonitor(addr string, serviceContainer *services.ServiceContainer) *Monitor {
	return &Monitor{
		services: serviceContainer,
		addr:     addr,
	}
}

// MountLink serves a link upgrade endpoint on /link of the same listener.
func (m *Monitor) MountLink(h http.Handler) {
	m.link = h
}

// Routes returns the HTTP routes for the monitor
func (m *Monitor) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/links", m.HandleLinks)
	r.Get("/links/{role}", m.HandleLink)
	r.Get("/bus/channels", m.HandleChannels)
	r.Get("/bus/channels/{ref}", m.HandleChannel)
	r.Get("/bus/pool", m.HandlePool)
	r.Get("/ws/{ref}", m.HandleFeed)

	// The net core runs the monitor without wifi requests.
	if m.services.Wifi != nil {
		r.Get("/status", m.HandleStatus)
		r.Get("/wifi/scan", m.HandleLastScan)
		r.Post("/wifi/scan", m.HandleScan)
		r.Post("/wifi/connect", m.HandleConnect)
		r.Post("/wifi/disconnect", m.HandleDisconnect)
		r.Post("/wifi/status", m.HandleRefreshStatus)
		r.Post("/ping", m.HandlePing)
		r.Post("/print", m.HandlePrint)
	}
	if m.link != nil {
		r.Handle("/link", m.link)
	}
	return r
}

func (m *Monitor) Start() error {
	slog.Info("Starting monitor", "addr", m.addr)
	m.server = &http.Server{Addr: m.addr, Handler: m.Routes()}

	err := m.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor listen: %w", err)
	}
	return nil
}

func (m *Monitor) Shutdown() error {
	if m.server == nil {
		return nil
	}
	slog.Info("Shutting down monitor", "addr", m.addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}
