package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/mbocsi/ipcpipe/proto"
)

// TCPLink carries frames over a byte stream as back-to-back fixed-size
// images. The server side serves one peer at a time.
type TCPLink struct {
	*link
	Addr     string
	listener net.Listener
}

func NewTCPLink(addr string) *TCPLink {
	return &TCPLink{link: newLink("tcp-link", "tcp", addr), Addr: addr}
}

func (t *TCPLink) Start() error {
	slog.Info("Starting tcp link", "addr", t.Addr)

	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return fmt.Errorf("tcp link listen: %w", err)
	}
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
	defer l.Close()

	for {
		conn, err := l.Accept()
		if err != nil {
			if t.isClosed() {
				return nil
			}
			return err
		}
		go t.handleConnection(conn)
	}
}

// ListenAddr returns the bound address once Start has opened the listener.
func (t *TCPLink) ListenAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCPLink) handleConnection(c net.Conn) {
	fc := &tcpConn{conn: c}
	if err := t.bind(fc, generatePeerId("tcp")); err != nil {
		slog.Warn("Rejecting link connection", "remote_addr", c.RemoteAddr().String(), "error", err)
		c.Close()
		return
	}
	if err := t.run(fc); err != nil && err != io.EOF {
		slog.Warn("Tcp link connection error", "addr", c.RemoteAddr().String(), "error", err)
	}
}

// DialTCP connects to a listening peer and serves the connection in the
// background.
func DialTCP(ctx context.Context, addr string) (*TCPLink, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp link %s: %w", addr, err)
	}
	t := NewTCPLink(addr)
	fc := &tcpConn{conn: c}
	if err := t.bind(fc, generatePeerId("tcp")); err != nil {
		c.Close()
		return nil, err
	}
	go func() {
		if err := t.run(fc); err != nil && err != io.EOF {
			slog.Warn("Tcp link closed", "addr", addr, "error", err)
		}
	}()
	return t, nil
}

func (t *TCPLink) Close() error {
	if !t.shutdown() {
		return nil
	}
	slog.Debug("Shutting down tcp link", "addr", t.Addr)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

type tcpConn struct {
	conn net.Conn
	buf  [proto.FrameSize]byte
}

func (c *tcpConn) readFrame(f *proto.Frame) error {
	if _, err := io.ReadFull(c.conn, c.buf[:]); err != nil {
		return err
	}
	return f.UnmarshalBinary(c.buf[:])
}

func (c *tcpConn) writeFrame(f proto.Frame) error {
	data, err := f.AppendBinary(make([]byte, 0, proto.FrameSize))
	if err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *tcpConn) close() error {
	return c.conn.Close()
}

func (t *TCPLink) Shutdown() error {
	return t.Close()
}
