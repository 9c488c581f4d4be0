// Package packet defines the com packets carried in frame payloads.
package packet

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	tspb "github.com/golang/protobuf/ptypes/timestamp"

	"github.com/robotalks/comcore/pkg/bufpool"
)

// Type is the packet type.
type Type uint32

// Packet types.
const (
	TypeCommand         Type = 0
	TypeTelemetry       Type = 1
	TypeLog             Type = 2
	TypeCommandResponse Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeCommand:
		return "cmd"
	case TypeTelemetry:
		return "tlm"
	case TypeLog:
		return "evt"
	case TypeCommandResponse:
		return "rsp"
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// ErrMalformed indicates a packet can't be decoded.
var ErrMalformed = errors.New("malformed packet")

// Packet is a decoded com packet.
type Packet struct {
	Type Type
	// ID is the opcode, channel ID or event ID depending on Type.
	ID uint32
	// Seq correlates a command with its response.
	Seq     uint32
	Time    time.Time
	Payload []byte
}

// Marshal encodes the packet.
func (p *Packet) Marshal() ([]byte, error) {
	buf := proto.NewBuffer(nil)
	buf.EncodeVarint(uint64(p.Type))
	buf.EncodeVarint(uint64(p.ID))
	buf.EncodeVarint(uint64(p.Seq))
	ts := &tspb.Timestamp{}
	if !p.Time.IsZero() {
		var err error
		if ts, err = ptypes.TimestampProto(p.Time); err != nil {
			return nil, err
		}
	}
	if err := buf.EncodeMessage(ts); err != nil {
		return nil, err
	}
	if err := buf.EncodeRawBytes(p.Payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo encodes the packet into a buffer allocated from pool.
func (p *Packet) EncodeTo(pool *bufpool.Pool) (bufpool.Buffer, error) {
	data, err := p.Marshal()
	if err != nil {
		return bufpool.Buffer{}, err
	}
	b, err := pool.Allocate(len(data))
	if err != nil {
		return bufpool.Buffer{}, err
	}
	copy(b.Bytes(), data)
	return b, nil
}

// Decode decodes a packet. The payload is copied.
func Decode(data []byte) (*Packet, error) {
	buf := proto.NewBuffer(data)
	var vals [3]uint64
	for n := range vals {
		v, err := buf.DecodeVarint()
		if err != nil {
			return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
		}
		if v > 0xffffffff {
			return nil, fmt.Errorf("%w: header field %d overflow", ErrMalformed, n)
		}
		vals[n] = v
	}
	p := &Packet{Type: Type(vals[0]), ID: uint32(vals[1]), Seq: uint32(vals[2])}
	var ts tspb.Timestamp
	if err := buf.DecodeMessage(&ts); err != nil {
		return nil, fmt.Errorf("%w: time: %v", ErrMalformed, err)
	}
	if ts.Seconds != 0 || ts.Nanos != 0 {
		t, err := ptypes.Timestamp(&ts)
		if err != nil {
			return nil, fmt.Errorf("%w: time: %v", ErrMalformed, err)
		}
		p.Time = t
	}
	payload, err := buf.DecodeRawBytes(true)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	p.Payload = payload
	return p, nil
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s id=%d seq=%d len=%d", p.Type, p.ID, p.Seq, len(p.Payload))
}
