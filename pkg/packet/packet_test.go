package packet

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/comcore/pkg/bufpool"
)

func TestPacketEncodeDecode(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	testCases := []struct {
		name string
		pkt  Packet
	}{
		{"command", Packet{Type: TypeCommand, ID: 0x0101, Seq: 7, Payload: []byte{1, 2, 3}}},
		{"telemetry", Packet{Type: TypeTelemetry, ID: 300, Time: now, Payload: []byte{0xff}}},
		{"empty", Packet{Type: TypeLog}},
		{"large ids", Packet{Type: TypeCommandResponse, ID: 0xffffffff, Seq: 0xfffffffe, Payload: make([]byte, 200)}},
	}
	pool := bufpool.MustNew([]bufpool.BinConfig{{Size: 512, Count: 1}})
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.pkt.EncodeTo(pool)
			require.NoError(t, err)
			defer b.Release()
			p, err := Decode(b.Bytes())
			require.NoError(t, err)
			require.Equal(t, tc.pkt.Type, p.Type)
			require.Equal(t, tc.pkt.ID, p.ID)
			require.Equal(t, tc.pkt.Seq, p.Seq)
			require.True(t, tc.pkt.Time.Equal(p.Time), "%v != %v", tc.pkt.Time, p.Time)
			require.Equal(t, tc.pkt.Payload, p.Payload)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := (&Packet{Type: TypeCommand, ID: 1, Payload: []byte{1, 2, 3, 4}}).Marshal()
	require.NoError(t, err)
	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated header", valid[:2]},
		{"truncated payload", valid[:len(valid)-1]},
		{"overflow", []byte{0xff, 0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			require.True(t, errors.Is(err, ErrMalformed), "%v", err)
		})
	}
}

func TestResponse(t *testing.T) {
	p := NewResponse(0x10, 42, StatusNotImplemented, []byte("todo"))
	data, err := p.Marshal()
	require.NoError(t, err)
	p, err = Decode(data)
	require.NoError(t, err)
	status, msg, err := p.Response()
	require.NoError(t, err)
	require.Equal(t, StatusNotImplemented, status)
	require.Equal(t, []byte("todo"), msg)
	require.Equal(t, uint32(42), p.Seq)
	require.Equal(t, "NOT_IMPLEMENTED", status.String())

	_, _, err = NewCommand(1, 1, nil).Response()
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestEvent(t *testing.T) {
	ev := &Event{ID: 5, Severity: SeverityWarningHi, Time: time.Unix(10, 0), Text: "pool exhausted"}
	data, err := ev.Packet().Marshal()
	require.NoError(t, err)
	p, err := Decode(data)
	require.NoError(t, err)
	got, err := p.Event()
	require.NoError(t, err)
	require.Equal(t, ev.ID, got.ID)
	require.Equal(t, ev.Severity, got.Severity)
	require.Equal(t, ev.Text, got.Text)
	require.True(t, ev.Time.Equal(got.Time))
	require.Equal(t, "WARNING_HI", got.Severity.String())

	_, err = p.Telemetry()
	require.True(t, errors.Is(err, ErrMalformed))
}
