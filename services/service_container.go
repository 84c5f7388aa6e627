package services

import (
	"time"

	"github.com/mbocsi/ipcpipe/broker"
)

// ServiceManagerImpl manages all services with dependency injection
type ServiceManagerImpl struct {
	bus      *broker.Bus
	services *ServiceContainer
}

// NewServiceManager creates a new service manager. app drives wifi
// requests; cores are reported by the link service.
func NewServiceManager(app WifiBackend, bus *broker.Bus, scanTimeout time.Duration, cores ...StatsSource) *ServiceManagerImpl {
	sm := &ServiceManagerImpl{bus: bus}

	sm.services = &ServiceContainer{
		Link: NewLinkService(cores...),
		Bus:  NewBusService(bus),
		Wifi: NewWifiService(app, scanTimeout),
	}

	return sm
}

// GetServices returns the service container
func (sm *ServiceManagerImpl) GetServices() *ServiceContainer {
	return sm.services
}
