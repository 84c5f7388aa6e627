package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/mbocsi/ipcpipe/transport"
)

const dialRetry = time.Second

// LinkOptions selects how a standalone core reaches its peer.
type LinkOptions struct {
	Mode     string // ws or tcp
	Listen   string
	Peer     string
	Discover bool
	Instance string // mDNS instance name when advertising
	Mounted  bool   // A listening ws link is served by another HTTP server
}

// closer adapts something that only needs closing to a Component.
type closer func() error

func (c closer) Start() error    { return nil }
func (c closer) Shutdown() error { return c() }

// OpenLink builds the adapter for opts. A listening link comes back with
// the components that serve and advertise it. A dialing link is connected
// before OpenLink returns, retrying until ctx ends.
func OpenLink(ctx context.Context, opts LinkOptions) (transport.Adapter, []Component, error) {
	serviceType := transport.TCPServiceType
	if opts.Mode == "ws" {
		serviceType = transport.WSServiceType
	} else if opts.Mode != "tcp" {
		return nil, nil, fmt.Errorf("link mode %q cannot be opened by a standalone core", opts.Mode)
	}

	if opts.Listen != "" {
		var (
			adapter transport.Adapter
			comps   []Component
		)
		if opts.Mode == "ws" {
			l := transport.NewWSLink(opts.Listen)
			adapter, comps = l, []Component{l}
			if opts.Mounted {
				comps = []Component{closer(l.Close)}
			}
		} else {
			l := transport.NewTCPLink(opts.Listen)
			adapter, comps = l, []Component{l}
		}
		if opts.Discover {
			port, err := listenPort(opts.Listen)
			if err != nil {
				return nil, nil, err
			}
			ad, err := transport.Advertise(opts.Instance, serviceType, port, []string{"role=" + opts.Instance})
			if err != nil {
				// Peers can still dial the configured address.
				slog.Warn("Failed to advertise link", "error", err)
			} else {
				comps = append(comps, closer(ad.Shutdown))
			}
		}
		return adapter, comps, nil
	}

	for {
		adapter, err := dialPeer(ctx, opts, serviceType)
		if err == nil {
			return adapter, []Component{closer(adapter.Close)}, nil
		}
		slog.Warn("Failed to reach link peer, retrying", "mode", opts.Mode, "error", err)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(dialRetry):
		}
	}
}

func dialPeer(ctx context.Context, opts LinkOptions, serviceType string) (transport.Adapter, error) {
	addr := opts.Peer
	if addr == "" {
		if !opts.Discover {
			return nil, fmt.Errorf("no peer address and discovery disabled")
		}
		peer, err := transport.Discover(ctx, serviceType)
		if err != nil {
			return nil, err
		}
		addr = peer.URL()
	}
	if opts.Mode == "ws" {
		return transport.DialWS(ctx, addr)
	}
	return transport.DialTCP(ctx, addr)
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %s: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("listen address %s needs a fixed port to advertise", addr)
	}
	return port, nil
}
