package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/ipcpipe/proto"
	"github.com/mbocsi/ipcpipe/services"
)

// scanRequest is the body of POST /wifi/scan. Every field is optional.
type scanRequest struct {
	Mode     string `json:"mode"` // ssid, bssid, security, channel or rssi
	SSID     string `json:"ssid"`
	BSSID    string `json:"bssid"`
	Security uint32 `json:"security"`
	Channel  uint8  `json:"channel"`
	RSSI     int32  `json:"rssi"`
	Timeout  string `json:"timeout"`
}

type connectRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
	Security uint32 `json:"security"`
}

type printRequest struct {
	Text string `json:"text"`
}

func (m *Monitor) HandleStatus(wr http.ResponseWriter, r *http.Request) {
	status, err := m.services.Wifi.Status()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, status)
}

func (m *Monitor) HandleLinks(wr http.ResponseWriter, r *http.Request) {
	links, err := m.services.Link.ListLinks()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, links)
}

func (m *Monitor) HandleLink(wr http.ResponseWriter, r *http.Request) {
	link, err := m.services.Link.GetLink(chi.URLParam(r, "role"))
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, link)
}

func (m *Monitor) HandleChannels(wr http.ResponseWriter, r *http.Request) {
	channels, err := m.services.Bus.ListChannels()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, channels)
}

func (m *Monitor) HandleChannel(wr http.ResponseWriter, r *http.Request) {
	channel, err := m.services.Bus.GetChannel(chi.URLParam(r, "ref"))
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, channel)
}

func (m *Monitor) HandlePool(wr http.ResponseWriter, r *http.Request) {
	stats, err := m.services.Bus.PoolStats()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, stats)
}

func (m *Monitor) HandleLastScan(wr http.ResponseWriter, r *http.Request) {
	set, err := m.services.Wifi.LastScan()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, set)
}

// HandleScan requests a scan and responds with the assembled result
func (m *Monitor) HandleScan(wr http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		m.handleError(wr, err)
		return
	}
	filter, err := services.ParseFilter(req.Mode, req.SSID, req.BSSID, req.Security, req.Channel, req.RSSI)
	if err != nil {
		m.handleError(wr, err)
		return
	}
	var timeout time.Duration
	if req.Timeout != "" {
		if timeout, err = time.ParseDuration(req.Timeout); err != nil {
			m.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid timeout", Cause: err})
			return
		}
	}

	set, err := m.services.Wifi.Scan(r.Context(), filter, timeout)
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, set)
}

func (m *Monitor) HandleConnect(wr http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		m.handleError(wr, err)
		return
	}
	creds := proto.Credentials{SSID: req.SSID, Password: req.Password, Security: req.Security}
	if err := m.services.Wifi.Connect(creds); err != nil {
		m.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) HandleDisconnect(wr http.ResponseWriter, r *http.Request) {
	if err := m.services.Wifi.Disconnect(); err != nil {
		m.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) HandleRefreshStatus(wr http.ResponseWriter, r *http.Request) {
	if err := m.services.Wifi.RefreshStatus(); err != nil {
		m.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) HandlePing(wr http.ResponseWriter, r *http.Request) {
	if err := m.services.Wifi.Ping(); err != nil {
		m.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) HandlePrint(wr http.ResponseWriter, r *http.Request) {
	var req printRequest
	if err := decodeBody(r, &req); err != nil {
		m.handleError(wr, err)
		return
	}
	if err := m.services.Wifi.Print(req.Text); err != nil {
		m.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusAccepted)
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid request body", Cause: err}
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// handleError handles service errors with proper HTTP status codes
func (m *Monitor) handleError(wr http.ResponseWriter, err error) {
	slog.Error("Service error", "error", err)

	var serviceErr services.ServiceError
	if errors.As(err, &serviceErr) {
		status := http.StatusInternalServerError
		switch serviceErr.Code {
		case services.ErrCodeNotFound:
			status = http.StatusNotFound
		case services.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case services.ErrCodeTimeout:
			status = http.StatusRequestTimeout
		case services.ErrCodeQueueFull:
			status = http.StatusServiceUnavailable
		case services.ErrCodeConflict:
			status = http.StatusConflict
		}

		http.Error(wr, serviceErr.Message, status)
		return
	}

	http.Error(wr, "Internal server error", http.StatusInternalServerError)
}
