package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/ipcpipe/proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  proto.FrameSize * 4,
	WriteBufferSize: proto.FrameSize * 4,
	CheckOrigin: func(r *http.Request) bool {
		return true // The link is a process-to-process channel, not a browser endpoint
	},
}

// WSLink carries frames as binary websocket messages, one frame per
// message. It either listens for a single peer (NewWSLink + Start) or
// dials one (DialWS).
type WSLink struct {
	*link
	Addr   string
	server *http.Server
}

func NewWSLink(addr string) *WSLink {
	return &WSLink{link: newLink("ws-link", "websocket", addr), Addr: addr}
}

// Handler exposes the upgrade endpoint so the link can be mounted on an
// existing server.
func (t *WSLink) Handler() http.Handler {
	return http.HandlerFunc(t.handleWebSocket)
}

func (t *WSLink) Start() error {
	slog.Info("Starting websocket link", "addr", t.Addr)

	mux := http.NewServeMux()
	mux.Handle("/link", t.Handler())
	t.server = &http.Server{Addr: t.Addr, Handler: mux}

	err := t.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket link listen: %w", err)
	}
	return nil
}

func (t *WSLink) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if t.connected.Load() {
		slog.Warn("Link peer already attached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "peer already attached", http.StatusConflict)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade link connection", "error", err)
		return
	}
	fc := &wsConn{conn: conn}
	if err := t.bind(fc, generatePeerId("ws")); err != nil {
		slog.Warn("Rejecting link connection", "remote_addr", r.RemoteAddr, "error", err)
		fc.close()
		return
	}
	if err := t.run(fc); err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		slog.Warn("Websocket link connection error", "addr", r.RemoteAddr, "error", err)
	}
}

// DialWS connects to a listening peer and serves the connection in the
// background until it drops or the link is closed.
func DialWS(ctx context.Context, url string) (*WSLink, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket link %s: %w", url, err)
	}
	t := &WSLink{link: newLink("ws-link", "websocket", url), Addr: url}
	fc := &wsConn{conn: conn}
	if err := t.bind(fc, generatePeerId("ws")); err != nil {
		fc.close()
		return nil, err
	}
	go func() {
		if err := t.run(fc); err != nil {
			slog.Warn("Websocket link closed", "url", url, "error", err)
		}
	}()
	return t, nil
}

func (t *WSLink) Close() error {
	if !t.shutdown() {
		return nil
	}
	slog.Info("Shutting down websocket link", "addr", t.Addr)
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) readFrame(f *proto.Frame) error {
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	if kind != websocket.BinaryMessage {
		return errMalformed{fmt.Errorf("unexpected websocket message type %d", kind)}
	}
	if err := f.UnmarshalBinary(data); err != nil {
		return errMalformed{err}
	}
	return nil
}

func (c *wsConn) writeFrame(f proto.Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// Shutdown lets a listening link run as a server component.
func (t *WSLink) Shutdown() error {
	return t.Close()
}
