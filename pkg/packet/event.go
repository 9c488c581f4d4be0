package packet

import (
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"
)

// Severity is the severity of an event.
type Severity uint32

// Event severities.
const (
	SeverityDiagnostic Severity = iota
	SeverityActivityLo
	SeverityActivityHi
	SeverityWarningLo
	SeverityWarningHi
	SeverityFatal
	SeverityCommand
)

var severityNames = [...]string{
	SeverityDiagnostic: "DIAGNOSTIC",
	SeverityActivityLo: "ACTIVITY_LO",
	SeverityActivityHi: "ACTIVITY_HI",
	SeverityWarningLo:  "WARNING_LO",
	SeverityWarningHi:  "WARNING_HI",
	SeverityFatal:      "FATAL",
	SeverityCommand:    "COMMAND",
}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("SEVERITY(%d)", uint32(s))
}

// Event is the content of a log packet.
type Event struct {
	ID       uint32
	Severity Severity
	Time     time.Time
	Text     string
}

// Packet encodes the event.
func (e *Event) Packet() *Packet {
	buf := proto.NewBuffer(nil)
	buf.EncodeVarint(uint64(e.Severity))
	buf.EncodeStringBytes(e.Text)
	return &Packet{Type: TypeLog, ID: e.ID, Time: e.Time, Payload: buf.Bytes()}
}

// Event decodes a log packet.
func (p *Packet) Event() (*Event, error) {
	if p.Type != TypeLog {
		return nil, fmt.Errorf("%w: %s is not an event", ErrMalformed, p.Type)
	}
	buf := proto.NewBuffer(p.Payload)
	sev, err := buf.DecodeVarint()
	if err != nil {
		return nil, fmt.Errorf("%w: severity: %v", ErrMalformed, err)
	}
	text, err := buf.DecodeStringBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: text: %v", ErrMalformed, err)
	}
	return &Event{ID: p.ID, Severity: Severity(sev), Time: p.Time, Text: text}, nil
}

// Telemetry is the content of a telemetry packet.
type Telemetry struct {
	Channel uint32
	Time    time.Time
	Value   []byte
}

// Packet encodes the telemetry sample.
func (t *Telemetry) Packet() *Packet {
	return &Packet{Type: TypeTelemetry, ID: t.Channel, Time: t.Time, Payload: t.Value}
}

// Telemetry decodes a telemetry packet.
func (p *Packet) Telemetry() (*Telemetry, error) {
	if p.Type != TypeTelemetry {
		return nil, fmt.Errorf("%w: %s is not telemetry", ErrMalformed, p.Type)
	}
	return &Telemetry{Channel: p.ID, Time: p.Time, Value: p.Payload}, nil
}
