package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/framing"
)

// AdapterStats counts adapter traffic.
type AdapterStats struct {
	Sent            uint64
	SendErrors      uint64
	DroppedNotReady uint64
	ReceivedBytes   uint64
	ReceiveErrors   uint64
}

// Adapter connects a Driver to the buffer path. It implements bufpool.Sink
// for outbound frames and Receiver for the driver.
type Adapter struct {
	driver  Driver
	inbound framing.ByteSink

	ready           int32
	sent            uint64
	sendErrors      uint64
	droppedNotReady uint64
	receivedBytes   uint64
	receiveErrors   uint64
}

// NewAdapter creates an Adapter.
func NewAdapter(driver Driver, inbound framing.ByteSink) *Adapter {
	return &Adapter{driver: driver, inbound: inbound}
}

// Ready indicates the driver signalled readiness.
func (a *Adapter) Ready() bool {
	return atomic.LoadInt32(&a.ready) != 0
}

// Reset clears readiness. It's used when the link is re-initialized.
func (a *Adapter) Reset() {
	atomic.StoreInt32(&a.ready, 0)
}

// DriverReady implements Receiver.
func (a *Adapter) DriverReady(ctx context.Context) {
	if atomic.SwapInt32(&a.ready, 1) == 0 {
		glog.Info("transport ready")
	}
}

// SendBuffer implements bufpool.Sink. The buffer is always released.
func (a *Adapter) SendBuffer(ctx context.Context, b bufpool.Buffer) error {
	defer b.Release()
	if !a.Ready() {
		atomic.AddUint64(&a.droppedNotReady, 1)
		glog.V(1).Infof("transport not ready, drop %d bytes", b.Len())
		return ErrNotReady
	}
	if err := a.driver.Send(b.Bytes()); err != nil {
		atomic.AddUint64(&a.sendErrors, 1)
		glog.V(1).Infof("transport send %d bytes error: %v", b.Len(), err)
		return fmt.Errorf("transport send: %w", err)
	}
	atomic.AddUint64(&a.sent, 1)
	return nil
}

// Received implements Receiver.
func (a *Adapter) Received(ctx context.Context, b bufpool.Buffer, status RecvStatus) {
	defer a.driver.ReturnBuffer(b)
	if status != RecvOK {
		atomic.AddUint64(&a.receiveErrors, 1)
		glog.Warningf("transport receive %s", status)
		return
	}
	if b.Len() == 0 {
		return
	}
	atomic.AddUint64(&a.receivedBytes, uint64(b.Len()))
	a.inbound.Feed(ctx, b.Bytes())
}

// Stats returns a snapshot of the counters.
func (a *Adapter) Stats() AdapterStats {
	return AdapterStats{
		Sent:            atomic.LoadUint64(&a.sent),
		SendErrors:      atomic.LoadUint64(&a.sendErrors),
		DroppedNotReady: atomic.LoadUint64(&a.droppedNotReady),
		ReceivedBytes:   atomic.LoadUint64(&a.receivedBytes),
		ReceiveErrors:   atomic.LoadUint64(&a.receiveErrors),
	}
}
