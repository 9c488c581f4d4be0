package bufpool

import (
	"context"
	"fmt"
)

// Buffer is a handle to a slot drawn from a Pool, with a logical length no
// larger than the slot capacity. The zero value is an empty handle.
type Buffer struct {
	pool *Pool
	bin  int
	slot int
	gen  uint32
	size int
}

// IsZero reports whether the handle refers to no slot.
func (b Buffer) IsZero() bool {
	return b.pool == nil
}

// Pool returns the pool the buffer was drawn from.
func (b Buffer) Pool() *Pool {
	return b.pool
}

// Bin returns the index of the bin the buffer was drawn from.
func (b Buffer) Bin() int {
	return b.bin
}

// Slot returns the slot index inside the bin.
func (b Buffer) Slot() int {
	return b.slot
}

// Gen returns the generation tag of the handle.
func (b Buffer) Gen() uint32 {
	return b.gen
}

// Len returns the logical length.
func (b Buffer) Len() int {
	return b.size
}

// Cap returns the slot size.
func (b Buffer) Cap() int {
	if b.pool == nil {
		return 0
	}
	return b.pool.bins[b.bin].size
}

// Bytes returns the logical contents. The slice capacity is clamped to the
// slot so appends never spill into a neighbouring slot.
func (b Buffer) Bytes() []byte {
	if b.pool == nil {
		return nil
	}
	bn := b.pool.bins[b.bin]
	off := bn.offset + b.slot*bn.size
	return b.pool.data[off : off+b.size : off+bn.size]
}

// Resize returns the handle with a new logical length.
func (b Buffer) Resize(n int) Buffer {
	if n < 0 || n > b.Cap() {
		panic(fmt.Sprintf("bufpool: resize %d out of range [0, %d]", n, b.Cap()))
	}
	b.size = n
	return b
}

// Release returns the buffer to the pool it was drawn from.
func (b Buffer) Release() {
	if b.pool == nil {
		panic(&InvalidReleaseError{Bin: -1, Slot: -1, Reason: "zero buffer handle"})
	}
	b.pool.Release(b)
}

// String implements fmt.Stringer.
func (b Buffer) String() string {
	if b.pool == nil {
		return "Buffer(nil)"
	}
	return fmt.Sprintf("Buffer(bin=%d slot=%d gen=%d len=%d)", b.bin, b.slot, b.gen, b.size)
}

// Sink accepts buffers. SendBuffer moves ownership: the sink owns the buffer
// whether or not an error is returned.
type Sink interface {
	SendBuffer(context.Context, Buffer) error
}

// SinkFunc is the func form of Sink.
type SinkFunc func(context.Context, Buffer) error

// SendBuffer implements Sink.
func (f SinkFunc) SendBuffer(ctx context.Context, b Buffer) error {
	return f(ctx, b)
}
