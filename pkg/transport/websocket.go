package transport

import (
	"io"
	"net/http"

	"golang.org/x/net/websocket"
)

// WebsocketConn carries the byte stream over a websocket. Every Write is sent
// as one binary message; reads return message contents in order.
type WebsocketConn websocket.Conn

// NewWebsocketConn wraps a websocket.Conn.
func NewWebsocketConn(conn *websocket.Conn) *WebsocketConn {
	conn.PayloadType = websocket.BinaryFrame
	return (*WebsocketConn)(conn)
}

// DialWebsocket connects to a simulated link.
func DialWebsocket(url, origin string) (*WebsocketConn, error) {
	conn, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, err
	}
	return NewWebsocketConn(conn), nil
}

// WebsocketHandler serves a simulated link. fn runs for the lifetime of each
// connection.
func WebsocketHandler(fn func(io.ReadWriteCloser)) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		fn(NewWebsocketConn(conn))
	})
}

// Read implements io.Reader.
func (c *WebsocketConn) Read(p []byte) (int, error) {
	return (*websocket.Conn)(c).Read(p)
}

// Write implements io.Writer.
func (c *WebsocketConn) Write(p []byte) (int, error) {
	return (*websocket.Conn)(c).Write(p)
}

// Close implements io.Closer.
func (c *WebsocketConn) Close() error {
	return (*websocket.Conn)(c).Close()
}
