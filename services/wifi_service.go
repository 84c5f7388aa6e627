package services

import (
	"context"
	"time"

	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/server"
)

// DefaultScanTimeout bounds a scan from request to assembled result.
const DefaultScanTimeout = 10 * time.Second

// WifiServiceImpl implements WifiService
type WifiServiceImpl struct {
	backend WifiBackend
	tracker *ScanTracker
}

// NewWifiService creates a new wifi service and hooks its tracker into
// the backend's scan and status events
func NewWifiService(backend WifiBackend, scanTimeout time.Duration) WifiService {
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	ws := &WifiServiceImpl{
		backend: backend,
		tracker: NewScanTracker(scanTimeout),
	}
	backend.OnScanDone(func(set server.ScanResultSet) { ws.tracker.HandleScan(set) })
	backend.OnStatusChange(func(ls proto.LinkStatus) { ws.tracker.HandleStatus(ls) })
	return ws
}

func (ws *WifiServiceImpl) Status() (*WifiStatus, error) {
	ls, known := ws.backend.Status()
	return &WifiStatus{
		State:  ls.State.String(),
		Reason: ls.Reason.String(),
		RSSI:   ls.RSSI,
		SSID:   ls.SSID,
		Known:  known,
	}, nil
}

func (ws *WifiServiceImpl) RefreshStatus() error {
	return toServiceError(ws.backend.RequestStatus(), "Failed to request status")
}

// Scan sends a scan request and waits for its results
func (ws *WifiServiceImpl) Scan(ctx context.Context, filter *proto.ScanFilter, timeout ...time.Duration) (*server.ScanResultSet, error) {
	return ws.tracker.Scan(ctx, func() error { return ws.backend.Scan(filter) }, timeout...)
}

func (ws *WifiServiceImpl) LastScan() (*server.ScanResultSet, error) {
	set, ok := ws.backend.LastScan()
	if !ok {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "No scan has completed yet",
		}
	}
	return &set, nil
}

func (ws *WifiServiceImpl) Connect(creds proto.Credentials) error {
	if err := creds.Validate(); err != nil {
		return ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Invalid credentials",
			Cause:   err,
		}
	}
	return toServiceError(ws.backend.Connect(creds), "Failed to send connect request")
}

func (ws *WifiServiceImpl) Disconnect() error {
	return toServiceError(ws.backend.Disconnect(), "Failed to send disconnect request")
}

func (ws *WifiServiceImpl) Ping() error {
	return toServiceError(ws.backend.Ping(), "Failed to send ping")
}

func (ws *WifiServiceImpl) Print(text string) error {
	return toServiceError(ws.backend.Print(text), "Failed to send text")
}
