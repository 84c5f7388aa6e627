package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	PayloadSize = 128                      // Bytes of payload carried by every frame
	HeaderSize  = 12                       // origin + ack mask + command + value
	FrameSize   = HeaderSize + PayloadSize // Size of one binary frame image
)

var (
	ErrPayloadTooLarge = errors.New("proto: payload too large")
	ErrShortPayload    = errors.New("proto: payload too short")
	ErrFrameSize       = errors.New("proto: invalid frame size")
	ErrUnknownCommand  = errors.New("proto: unknown command")
)

// Frame is the fixed-size unit moved by a transport in one operation.
// Frames are always copied by value; nothing holds a reference into one
// after handing it off.
type Frame struct {
	OriginID uint16            `json:"origin_id"` // Sender endpoint id
	AckMask  uint16            `json:"ack_mask"`  // Opaque, owned by the transport
	Command  Command           `json:"command"`   // Command or event code
	Value    uint32            `json:"value"`     // Command argument, counter or packed page index
	Payload  [PayloadSize]byte `json:"payload"`   // Unused bytes are zero
}

// NewFrame builds a frame, rejecting payloads that do not fit.
func NewFrame(origin uint16, cmd Command, value uint32, payload []byte) (Frame, error) {
	f := Frame{OriginID: origin, Command: cmd, Value: value}
	if len(payload) > PayloadSize {
		return Frame{}, fmt.Errorf("%w: %d bytes for %s", ErrPayloadTooLarge, len(payload), cmd)
	}
	copy(f.Payload[:], payload)
	return f, nil
}

// MarshalBinary encodes the frame in host byte order. Both ends of a link
// share the same representation so no normalization is done.
func (f Frame) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, FrameSize))
}

func (f Frame) AppendBinary(b []byte) ([]byte, error) {
	b = binary.NativeEndian.AppendUint16(b, f.OriginID)
	b = binary.NativeEndian.AppendUint16(b, f.AckMask)
	b = binary.NativeEndian.AppendUint32(b, uint32(f.Command))
	b = binary.NativeEndian.AppendUint32(b, f.Value)
	return append(b, f.Payload[:]...), nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) != FrameSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(data), FrameSize)
	}
	f.OriginID = binary.NativeEndian.Uint16(data[0:2])
	f.AckMask = binary.NativeEndian.Uint16(data[2:4])
	f.Command = Command(binary.NativeEndian.Uint32(data[4:8]))
	f.Value = binary.NativeEndian.Uint32(data[8:12])
	copy(f.Payload[:], data[HeaderSize:])
	return nil
}

func (f Frame) String() string {
	return fmt.Sprintf("frame{origin=%d cmd=%s value=%#x}", f.OriginID, f.Command, f.Value)
}
