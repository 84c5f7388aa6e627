package services

import (
	"context"
	"time"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/server"
)

// LinkService reports on both ends of the link
type LinkService interface {
	ListLinks() ([]LinkInfo, error)
	GetLink(role string) (*LinkInfo, error)
}

// BusService exposes the event bus
type BusService interface {
	ListChannels() ([]ChannelInfo, error)
	// GetChannel accepts a numeric id or a channel name
	GetChannel(ref string) (*ChannelInfo, error)
	PoolStats() (broker.PoolStats, error)

	Subscribe(ref string, capacity int) (*broker.Queue, uint16, error)
	Unsubscribe(id uint16, q *broker.Queue) error
}

// WifiService drives the connection owner through the app core
type WifiService interface {
	Status() (*WifiStatus, error)
	RefreshStatus() error

	// Scan requests a scan and waits for the assembled result
	Scan(ctx context.Context, filter *proto.ScanFilter, timeout ...time.Duration) (*server.ScanResultSet, error)
	LastScan() (*server.ScanResultSet, error)

	Connect(creds proto.Credentials) error
	Disconnect() error

	Ping() error
	Print(text string) error
}

// WifiBackend is what WifiService needs from the app core
type WifiBackend interface {
	Scan(filter *proto.ScanFilter) error
	Connect(creds proto.Credentials) error
	Disconnect() error
	RequestStatus() error
	Ping() error
	Print(text string) error

	Status() (proto.LinkStatus, bool)
	LastScan() (server.ScanResultSet, bool)
	OnScanDone(fn func(server.ScanResultSet))
	OnStatusChange(fn func(proto.LinkStatus))
}

// StatsSource is a core that can report its counters
type StatsSource interface {
	Stats() server.CoreStats
}

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Link LinkService
	Bus  BusService
	Wifi WifiService
}
