package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
)

// DefaultRecvBins is the receive pool of a StreamDriver when none is given.
var DefaultRecvBins = []bufpool.BinConfig{{Size: 64, Count: 8}}

// StreamDriver is a Driver over an io.ReadWriter.
type StreamDriver struct {
	ReadWriter io.ReadWriter
	Receiver   Receiver
	// Backoff is the wait before retrying when the receive pool is empty.
	Backoff time.Duration

	pool *bufpool.Pool
	lock sync.Mutex
}

type recvChunk struct {
	buf bufpool.Buffer
	err error
}

// NewStreamDriver creates a StreamDriver. A nil pool selects DefaultRecvBins.
func NewStreamDriver(rw io.ReadWriter, pool *bufpool.Pool) *StreamDriver {
	if pool == nil {
		pool = bufpool.MustNew(DefaultRecvBins, bufpool.WithName("recv"))
	}
	return &StreamDriver{ReadWriter: rw, pool: pool, Backoff: time.Millisecond}
}

// Pool returns the receive pool.
func (d *StreamDriver) Pool() *bufpool.Pool {
	return d.pool
}

// Send implements Driver.
func (d *StreamDriver) Send(data []byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	_, err := d.ReadWriter.Write(data)
	return err
}

// ReturnBuffer implements Driver.
func (d *StreamDriver) ReturnBuffer(b bufpool.Buffer) {
	if !b.IsZero() {
		b.Release()
	}
}

// Name implements framework.Named.
func (d *StreamDriver) Name() string {
	return "transport.stream"
}

// Run signals readiness and delivers received bytes until ctx is done or the
// stream fails.
func (d *StreamDriver) Run(ctx context.Context) error {
	chunkCh := make(chan recvChunk)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.readLoop(subCtx, chunkCh)

	d.Receiver.DriverReady(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-chunkCh:
			if c.err != nil {
				d.Receiver.Received(ctx, c.buf, RecvError)
				return c.err
			}
			d.Receiver.Received(ctx, c.buf, RecvOK)
		}
	}
}

func (d *StreamDriver) readLoop(ctx context.Context, chunkCh chan<- recvChunk) {
	size := d.pool.MaxSize()
	deliver := func(c recvChunk) bool {
		select {
		case chunkCh <- c:
			return true
		case <-ctx.Done():
			if !c.buf.IsZero() {
				c.buf.Release()
			}
			return false
		}
	}
	for {
		buf, err := d.pool.Allocate(size)
		if err != nil {
			glog.V(1).Infof("transport: receive pool: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.Backoff):
			}
			continue
		}
		n, err := d.ReadWriter.Read(buf.Bytes())
		if n > 0 {
			if !deliver(recvChunk{buf: buf.Resize(n)}) {
				return
			}
		} else {
			buf.Release()
		}
		if err != nil {
			deliver(recvChunk{err: err})
			return
		}
	}
}
