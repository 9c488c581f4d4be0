package transport

import (
	"context"
	"errors"

	"github.com/robotalks/comcore/pkg/bufpool"
)

// ErrNotReady indicates the driver hasn't signalled readiness.
var ErrNotReady = errors.New("transport not ready")

// RecvStatus is the status of a receive completion.
type RecvStatus int

// Receive statuses.
const (
	RecvOK RecvStatus = iota
	RecvError
)

func (s RecvStatus) String() string {
	switch s {
	case RecvOK:
		return "ok"
	case RecvError:
		return "error"
	}
	return "unknown"
}

// Driver is the byte-level transport.
type Driver interface {
	// Send writes data to the link.
	Send(data []byte) error
	// ReturnBuffer gives a receive buffer back to the driver.
	ReturnBuffer(bufpool.Buffer)
}

// Receiver is notified by the driver.
type Receiver interface {
	// DriverReady signals the driver can accept outbound data.
	DriverReady(context.Context)
	// Received delivers a receive buffer. The receiver must eventually
	// return the buffer through Driver.ReturnBuffer.
	Received(context.Context, bufpool.Buffer, RecvStatus)
}
