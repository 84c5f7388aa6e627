package server

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Core is one side of the link.
type Core interface {
	Run(ctx context.Context) error
	Close() error
}

// Component is anything served next to the cores: link listeners, the
// HTTP monitor, the MCP server.
type Component interface {
	Start() error
	Shutdown() error
}

type Coordinator struct {
	Cores      []Core
	Components []Component
}

func NewCoordinator(cores ...Core) *Coordinator {
	return &Coordinator{Cores: cores}
}

func (c *Coordinator) AddComponent(comp Component) {
	c.Components = append(c.Components, comp)
}

// Start runs every core and component until ctx ends or a core fails,
// then shuts everything down.
func (c *Coordinator) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, core := range c.Cores {
		g.Go(func() error { return core.Run(gctx) })
	}
	for _, comp := range c.Components {
		go func() {
			if err := comp.Start(); err != nil {
				slog.Error("Component stopped", "error", err.Error())
			}
		}()
	}

	<-gctx.Done()
	slog.Info("Shutting down cores and components")

	for _, comp := range c.Components {
		if err := comp.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down component", "error", err.Error())
		}
	}
	for _, core := range c.Cores {
		if err := core.Close(); err != nil {
			slog.Error("There was an error when closing core", "error", err.Error())
		}
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
