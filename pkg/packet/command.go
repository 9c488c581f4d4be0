package packet

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// Status is the result of a command.
type Status uint32

// Command statuses.
const (
	StatusOK Status = iota
	StatusInvalidOpcode
	StatusValidationError
	StatusFormatError
	StatusExecutionError
	StatusBusy
	StatusNotImplemented
)

var statusNames = map[Status]string{
	StatusOK:              "OK",
	StatusInvalidOpcode:   "INVALID_OPCODE",
	StatusValidationError: "VALIDATION_ERROR",
	StatusFormatError:     "FORMAT_ERROR",
	StatusExecutionError:  "EXECUTION_ERROR",
	StatusBusy:            "BUSY",
	StatusNotImplemented:  "NOT_IMPLEMENTED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", uint32(s))
}

// NewCommand creates a command packet.
func NewCommand(opcode, seq uint32, args []byte) *Packet {
	return &Packet{Type: TypeCommand, ID: opcode, Seq: seq, Payload: args}
}

// NewResponse creates a command response packet.
func NewResponse(opcode, seq uint32, status Status, data []byte) *Packet {
	buf := proto.NewBuffer(nil)
	buf.EncodeVarint(uint64(status))
	buf.EncodeRawBytes(data)
	return &Packet{Type: TypeCommandResponse, ID: opcode, Seq: seq, Payload: buf.Bytes()}
}

// Response decodes the status and data of a response packet.
func (p *Packet) Response() (Status, []byte, error) {
	if p.Type != TypeCommandResponse {
		return 0, nil, fmt.Errorf("%w: %s is not a response", ErrMalformed, p.Type)
	}
	buf := proto.NewBuffer(p.Payload)
	status, err := buf.DecodeVarint()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: status: %v", ErrMalformed, err)
	}
	data, err := buf.DecodeRawBytes(true)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: response data: %v", ErrMalformed, err)
	}
	return Status(status), data, nil
}
