package ground

import (
	"io"
	"net"
	"strings"

	"github.com/robotalks/comcore/pkg/transport"
)

// WebsocketOrigin is the origin used when dialing websocket targets.
var WebsocketOrigin = "http://localhost/"

// Open opens a byte stream to the device. target is a serial device path,
// tcp://host:port, or a ws:// or wss:// URL.
func Open(target string, opts transport.PortOptions) (io.ReadWriteCloser, error) {
	switch {
	case strings.HasPrefix(target, "tcp://"):
		return net.Dial("tcp", strings.TrimPrefix(target, "tcp://"))
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		conn, err := transport.DialWebsocket(target, WebsocketOrigin)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return transport.OpenSerial(target, opts)
}
