package cmddisp

import (
	"context"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/packet"
)

// StatusFunc receives the status of a forwarded command.
type StatusFunc func(opcode, seq uint32, status packet.Status)

// Forwarder feeds commands from a sequencer into the command path and
// relays each completion status back to it.
type Forwarder struct {
	next     bufpool.Sink
	onStatus StatusFunc

	forwarded uint64
	completed uint64
}

// NewForwarder creates a Forwarder sending command packets to next.
func NewForwarder(next bufpool.Sink, onStatus StatusFunc) *Forwarder {
	return &Forwarder{next: next, onStatus: onStatus}
}

// SendBuffer implements bufpool.Sink.
func (f *Forwarder) SendBuffer(ctx context.Context, b bufpool.Buffer) error {
	atomic.AddUint64(&f.forwarded, 1)
	return f.next.SendBuffer(ctx, b)
}

// Attach relays responses of d to the status callback.
func (f *Forwarder) Attach(d *Dispatcher) {
	d.OnResponse(f.CommandResponse)
}

// CommandResponse relays a completed command.
func (f *Forwarder) CommandResponse(cmd *Command, res Result) {
	atomic.AddUint64(&f.completed, 1)
	glog.V(2).Infof("forward status %#x seq %d: %s", cmd.Opcode, cmd.Seq, res.Status)
	if f.onStatus != nil {
		f.onStatus(cmd.Opcode, cmd.Seq, res.Status)
	}
}

// Counts returns forwarded and completed command counts.
func (f *Forwarder) Counts() (forwarded, completed uint64) {
	return atomic.LoadUint64(&f.forwarded), atomic.LoadUint64(&f.completed)
}
