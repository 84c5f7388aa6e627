package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	WSServiceType  = "_ipcpipe-ws._tcp"
	TCPServiceType = "_ipcpipe-tcp._tcp"
)

// DiscoveredPeer is a link endpoint found through mDNS.
type DiscoveredPeer struct {
	ServiceName string
	Address     string
	Port        int
	Protocol    string // "tcp" or "websocket"
	TXTRecords  []string
}

// URL returns the address to dial for this peer.
func (p DiscoveredPeer) URL() string {
	if p.Protocol == "websocket" {
		return fmt.Sprintf("ws://%s:%d/link", p.Address, p.Port)
	}
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// Advertisement keeps an mDNS responder alive for a listening link.
type Advertisement struct {
	server *mdns.Server
}

// Advertise announces a listening link on the local network.
func Advertise(instance, serviceType string, port int, info []string) (*Advertisement, error) {
	service, err := mdns.NewMDNSService(instance, serviceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("create mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("start mdns responder: %w", err)
	}
	slog.Info("Advertising link", "instance", instance, "service", serviceType, "port", port)
	return &Advertisement{server: server}, nil
}

func (a *Advertisement) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}

// Discover returns the first peer advertising serviceType, or an error
// when ctx ends first.
func Discover(ctx context.Context, serviceType string) (*DiscoveredPeer, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)

	go func() {
		defer close(entriesCh)
		mdns.Lookup(serviceType, entriesCh)
	}()

	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				return nil, fmt.Errorf("no %s peer found", serviceType)
			}

			var address string
			if entry.AddrV4 != nil {
				address = entry.AddrV4.String()
			} else if entry.AddrV6 != nil {
				address = fmt.Sprintf("[%s]", entry.AddrV6.String())
			} else {
				continue
			}

			protocol := "tcp"
			if serviceType == WSServiceType {
				protocol = "websocket"
			}

			peer := &DiscoveredPeer{
				ServiceName: entry.Name,
				Address:     address,
				Port:        entry.Port,
				Protocol:    protocol,
				TXTRecords:  entry.InfoFields,
			}

			slog.Info("Discovered link peer",
				"service_name", peer.ServiceName,
				"address", peer.Address,
				"port", peer.Port,
				"protocol", peer.Protocol,
			)
			return peer, nil

		case <-ctx.Done():
			return nil, fmt.Errorf("mDNS discovery for %s: %w", serviceType, ctx.Err())
		}
	}
}
