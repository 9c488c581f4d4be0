package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPayloadTooLarge indicates the payload exceeds Protocol.MaxPayload.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrInvalidProtocol indicates the Protocol can't be used.
	ErrInvalidProtocol = errors.New("invalid framing protocol")
)

// Protocol fixes the wire format of a deployment.
type Protocol struct {
	Sync        []byte
	LengthWidth int
	ByteOrder   binary.ByteOrder
	Checksum    Checksum
	MaxPayload  int
}

// DefaultProtocol is the deployment default.
var DefaultProtocol = Protocol{
	Sync:        []byte{0xde, 0xad, 0xbe, 0xef},
	LengthWidth: 4,
	ByteOrder:   binary.BigEndian,
	Checksum:    CRC32,
	MaxPayload:  500,
}

// Validate checks the protocol is usable.
func (p Protocol) Validate() error {
	if len(p.Sync) == 0 {
		return fmt.Errorf("%w: empty sync pattern", ErrInvalidProtocol)
	}
	if p.ByteOrder == nil {
		return fmt.Errorf("%w: missing byte order", ErrInvalidProtocol)
	}
	if p.Checksum == nil {
		return fmt.Errorf("%w: missing checksum", ErrInvalidProtocol)
	}
	if !validWidth(p.Checksum.Size()) {
		return fmt.Errorf("%w: checksum width %d", ErrInvalidProtocol, p.Checksum.Size())
	}
	if !validWidth(p.LengthWidth) {
		return fmt.Errorf("%w: length width %d", ErrInvalidProtocol, p.LengthWidth)
	}
	if p.MaxPayload < 0 || uint64(p.MaxPayload) > maxUint(p.LengthWidth) {
		return fmt.Errorf("%w: max payload %d doesn't fit %d-byte length", ErrInvalidProtocol, p.MaxPayload, p.LengthWidth)
	}
	return nil
}

// Overhead is the number of frame bytes around the payload.
func (p Protocol) Overhead() int {
	return len(p.Sync) + p.LengthWidth + p.Checksum.Size()
}

// FrameSize is the encoded size of a frame with n payload bytes.
func (p Protocol) FrameSize(n int) int {
	return p.Overhead() + n
}

// String implements fmt.Stringer.
func (p Protocol) String() string {
	var order string
	switch p.ByteOrder {
	case binary.BigEndian:
		order = "be"
	case binary.LittleEndian:
		order = "le"
	default:
		order = "?"
	}
	var sum string
	if p.Checksum != nil {
		sum = p.Checksum.Name()
	}
	return fmt.Sprintf("sync=%X len=%d/%s sum=%s max=%d", p.Sync, p.LengthWidth, order, sum, p.MaxPayload)
}

// EncodeTo writes a frame for payload into dst, which must hold
// FrameSize(len(payload)) bytes, and returns the bytes written.
func (p Protocol) EncodeTo(dst, payload []byte) (int, error) {
	if len(payload) > p.MaxPayload {
		return 0, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), p.MaxPayload)
	}
	size := p.FrameSize(len(payload))
	if len(dst) < size {
		return 0, fmt.Errorf("frame buffer too small: %d < %d", len(dst), size)
	}
	n := copy(dst, p.Sync)
	p.putUint(dst[n:], p.LengthWidth, uint32(len(payload)))
	n += p.LengthWidth
	n += copy(dst[n:], payload)
	body := dst[len(p.Sync):n]
	p.putUint(dst[n:], p.Checksum.Size(), p.Checksum.Compute(body))
	return size, nil
}

// AppendFrame appends the frame of payload to dst.
func (p Protocol) AppendFrame(dst, payload []byte) ([]byte, error) {
	off := len(dst)
	dst = append(dst, make([]byte, p.FrameSize(len(payload)))...)
	if _, err := p.EncodeTo(dst[off:], payload); err != nil {
		return dst[:off], err
	}
	return dst, nil
}

func (p Protocol) putUint(dst []byte, width int, v uint32) {
	switch width {
	case 1:
		dst[0] = byte(v)
	case 2:
		p.ByteOrder.PutUint16(dst, uint16(v))
	case 4:
		p.ByteOrder.PutUint32(dst, v)
	}
}

func (p Protocol) uint(src []byte, width int) uint32 {
	switch width {
	case 1:
		return uint32(src[0])
	case 2:
		return uint32(p.ByteOrder.Uint16(src))
	default:
		return p.ByteOrder.Uint32(src)
	}
}

func validWidth(w int) bool {
	return w == 1 || w == 2 || w == 4
}

func maxUint(width int) uint64 {
	return 1<<(8*uint(width)) - 1
}

// ByteOrderByName parses "big"/"be" or "little"/"le".
func ByteOrderByName(name string) (binary.ByteOrder, error) {
	switch strings.ToLower(name) {
	case "big", "be", "":
		return binary.BigEndian, nil
	case "little", "le":
		return binary.LittleEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", name)
}
