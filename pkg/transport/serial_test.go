package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptionsNormalize(t *testing.T) {
	testCases := []struct {
		name   string
		in     PortOptions
		expect PortOptions
		err    bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: " even "}, PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}, false},
		{"odd", PortOptions{Parity: "o"}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "O"}, false},
		{"data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := tc.in.Normalize()
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, opts)
		})
	}
	require.Equal(t, "115200 8N1", PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}.String())
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	require.Equal(t, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		StopBits: serial.TwoStopBits,
		Parity:   serial.EvenParity,
	}, mode)

	_, err = PortOptions{DataBits: 4}.SerialMode()
	require.Error(t, err)
}
