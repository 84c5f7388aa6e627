package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/server"
)

const (
	feedQueueSize = 32
	writeWait     = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FeedEvent is one bus event as sent to feed clients. In JSON, Data is
// the event payload when it is valid JSON and a string otherwise. In
// CBOR, Data carries the raw payload bytes.
type FeedEvent struct {
	Channel   uint16          `json:"channel" cbor:"1,keyasint"`
	Type      uint32          `json:"type" cbor:"2,keyasint"`
	Name      string          `json:"name" cbor:"3,keyasint"`
	Timestamp time.Time       `json:"timestamp" cbor:"4,keyasint"`
	FromISR   bool            `json:"from_isr,omitempty" cbor:"5,keyasint,omitempty"`
	Data      json.RawMessage `json:"data" cbor:"6,keyasint"`
}

func feedEvent(e broker.Event) FeedEvent {
	return FeedEvent{
		Channel:   e.Channel,
		Type:      e.Type,
		Name:      server.TypeName(e.Type),
		Timestamp: e.Timestamp,
		FromISR:   e.FromISR,
		Data:      append(json.RawMessage(nil), e.Payload...),
	}
}

type feedEncoder func(FeedEvent) (int, []byte, error)

func encodeJSON(ev FeedEvent) (int, []byte, error) {
	if !json.Valid(ev.Data) {
		// Truncated log records and other non-JSON payloads
		s, err := json.Marshal(string(ev.Data))
		if err != nil {
			return 0, nil, err
		}
		ev.Data = s
	}
	data, err := json.Marshal(ev)
	return websocket.TextMessage, data, err
}

func encodeCBOR(ev FeedEvent) (int, []byte, error) {
	data, err := cbor.Marshal(ev)
	return websocket.BinaryMessage, data, err
}

// HandleFeed streams one bus channel over a websocket. The channel is
// given by id or name; ?encoding=cbor switches to binary CBOR messages.
func (m *Monitor) HandleFeed(wr http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	encode := feedEncoder(encodeJSON)
	switch r.URL.Query().Get("encoding") {
	case "", "json":
	case "cbor":
		encode = encodeCBOR
	default:
		http.Error(wr, "unknown encoding", http.StatusBadRequest)
		return
	}

	// Subscribe before upgrading so lookup errors are plain HTTP errors.
	q, id, err := m.services.Bus.Subscribe(ref, feedQueueSize)
	if err != nil {
		m.handleError(wr, err)
		return
	}
	defer m.services.Bus.Unsubscribe(id, q)

	conn, err := upgrader.Upgrade(wr, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade feed connection", "error", err)
		return
	}
	defer conn.Close()

	clientID := "feed-" + uuid.New().String()
	slog.Info("Feed client connected", "client", clientID, "channel", ref, "remote_addr", r.RemoteAddr)
	defer slog.Info("Feed client disconnected", "client", clientID)

	// The read loop only notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-q.C():
			ev := feedEvent(e)
			e.Release()
			kind, data, err := encode(ev)
			if err != nil {
				slog.Warn("Failed to encode feed event", "client", clientID, "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(kind, data); err != nil {
				slog.Debug("Feed write failed", "client", clientID, "error", err)
				return
			}
		}
	}
}
