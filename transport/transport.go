package transport

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mbocsi/ipcpipe/proto"
)

// SendResult is the outcome of a single non-blocking send attempt.
type SendResult int

const (
	Sent  SendResult = iota // Frame accepted by the primitive
	Busy                    // Primitive slot occupied, try again later
	Error                   // Link down or closed
)

func (r SendResult) String() string {
	switch r {
	case Sent:
		return "sent"
	case Busy:
		return "busy"
	case Error:
		return "error"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// InboundSink receives frames from the primitive's delivery context.
// Deliver runs in an interrupt-equivalent context: it must not block,
// allocate or call back into the sender path. It reports whether the
// frame was kept.
type InboundSink interface {
	Deliver(f *proto.Frame) bool
}

// Adapter wraps a primitive that moves one frame at a time.
type Adapter interface {
	TrySend(f proto.Frame) SendResult
	RegisterInbound(sink InboundSink)
	Meta() Metadata
	Close() error
}

type Metadata struct {
	Name      string `json:"name"`      // Human-friendly name, e.g. "loopback-a"
	Protocol  string `json:"protocol"`  // "loopback", "websocket", "tcp"
	Address   string `json:"address"`   // Bind or peer address, empty for loopback
	PeerID    string `json:"peer_id"`   // Id assigned to the current peer connection
	Connected bool   `json:"connected"` // Whether a peer is attached

	Sent      uint64 `json:"sent"`      // Frames accepted by TrySend
	Busy      uint64 `json:"busy"`      // TrySend calls rejected with Busy
	Errors    uint64 `json:"errors"`    // TrySend calls rejected with Error plus write failures
	Received  uint64 `json:"received"`  // Frames handed to the sink and kept
	Rejected  uint64 `json:"rejected"`  // Frames the sink refused
	Unclaimed uint64 `json:"unclaimed"` // Frames that arrived before a sink was registered
	Malformed uint64 `json:"malformed"` // Undecodable inbound messages
}

func generatePeerId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
