// Package transport bridges byte-stream drivers (UART, TCP, websocket) to the
// buffer-based message path.
//
// The Adapter owns two directions:
//   - outbound: framed buffers are written to the driver only after the driver
//     signalled readiness; the buffer always goes back to its pool.
//   - inbound: bytes delivered by the driver are fed to a framing.ByteSink and
//     the driver's receive buffer is handed back to the driver.
//
// Driver receive buffers and message buffers come from different pools and
// are never interchanged.
package transport
