package framing

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
)

// FramerStats counts framer outcomes.
type FramerStats struct {
	Frames uint64
	Errors uint64
}

// Framer wraps outbound payloads into frames.
type Framer struct {
	proto  Protocol
	pool   *bufpool.Pool
	next   bufpool.Sink
	frames uint64
	errors uint64
}

// NewFramer creates a Framer allocating frames from pool and forwarding them
// to next. It panics if proto is invalid.
func NewFramer(proto Protocol, pool *bufpool.Pool, next bufpool.Sink) *Framer {
	if err := proto.Validate(); err != nil {
		panic(err)
	}
	return &Framer{proto: proto, pool: pool, next: next}
}

// Protocol returns the wire format.
func (f *Framer) Protocol() Protocol {
	return f.proto
}

// Frame encodes the payload in b into a new buffer. On success b is released
// and the frame returned. On error the caller keeps b.
func (f *Framer) Frame(b bufpool.Buffer) (bufpool.Buffer, error) {
	payload := b.Bytes()
	if len(payload) > f.proto.MaxPayload {
		atomic.AddUint64(&f.errors, 1)
		return bufpool.Buffer{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), f.proto.MaxPayload)
	}
	out, err := f.pool.Allocate(f.proto.FrameSize(len(payload)))
	if err != nil {
		atomic.AddUint64(&f.errors, 1)
		return bufpool.Buffer{}, fmt.Errorf("framer: %w", err)
	}
	if _, err := f.proto.EncodeTo(out.Bytes(), payload); err != nil {
		out.Release()
		atomic.AddUint64(&f.errors, 1)
		return bufpool.Buffer{}, err
	}
	b.Release()
	atomic.AddUint64(&f.frames, 1)
	return out, nil
}

// SendBuffer implements bufpool.Sink.
func (f *Framer) SendBuffer(ctx context.Context, b bufpool.Buffer) error {
	out, err := f.Frame(b)
	if err != nil {
		glog.V(1).Infof("framer: drop %d bytes: %v", b.Len(), err)
		b.Release()
		return err
	}
	return f.next.SendBuffer(ctx, out)
}

// Stats returns a snapshot of the counters.
func (f *Framer) Stats() FramerStats {
	return FramerStats{
		Frames: atomic.LoadUint64(&f.frames),
		Errors: atomic.LoadUint64(&f.errors),
	}
}
