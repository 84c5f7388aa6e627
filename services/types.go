package services

import (
	"time"

	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/server"
)

// LinkInfo describes one side of the link
type LinkInfo struct {
	Role  string           `json:"role"`
	Alive bool             `json:"alive"` // Peer heartbeat seen within LivenessWindow
	Stats server.CoreStats `json:"stats"`
}

// ChannelInfo is a bus channel with its delivery counters
type ChannelInfo struct {
	broker.ChannelInfo
	Delivered uint32    `json:"delivered"`
	Dropped   uint32    `json:"dropped"`
	LastDrop  time.Time `json:"last_drop,omitempty"`
}

// WifiStatus is the app core's view of the connection
type WifiStatus struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
	RSSI   int16  `json:"rssi"`
	SSID   string `json:"ssid"`
	Known  bool   `json:"known"` // False until the net core has reported once
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeQueueFull    = "QUEUE_FULL"
	ErrCodeConflict     = "CONFLICT"
)
