package framing

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
)

// State is the state of the Deframer.
type State int

// Deframer states.
const (
	StateSeekingSync State = iota
	StateReadingLength
	StateReadingPayload
	StateReadingChecksum
	StateDispatchReady
)

var stateNames = [...]string{
	StateSeekingSync:     "SEEKING_SYNC",
	StateReadingLength:   "READING_LENGTH",
	StateReadingPayload:  "READING_PAYLOAD",
	StateReadingChecksum: "READING_CHECKSUM",
	StateDispatchReady:   "DISPATCH_READY",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// ByteSink consumes raw inbound bytes.
type ByteSink interface {
	Feed(ctx context.Context, data []byte)
}

// ByteSinkFunc is the func form of ByteSink.
type ByteSinkFunc func(ctx context.Context, data []byte)

// Feed implements ByteSink.
func (f ByteSinkFunc) Feed(ctx context.Context, data []byte) {
	f(ctx, data)
}

// DeframerStats counts deframer outcomes.
type DeframerStats struct {
	Frames         uint64
	ChecksumErrors uint64
	LengthErrors   uint64
	NoBuffer       uint64
	// Discarded counts bytes dropped while searching for sync.
	Discarded uint64
}

// Deframer reassembles frames from an arbitrarily chunked byte stream and
// dispatches each payload, in a pool buffer, to the sink.
// Each payload is dispatched as soon as its frame completes. The sink owns
// dispatched buffers and may call State and Stats, but must not feed the same
// Deframer. Concurrent feeds are serialized.
type Deframer struct {
	proto Protocol
	pool  *bufpool.Pool
	sink  bufpool.Sink

	feed    sync.Mutex
	lock    sync.Mutex
	state   State
	raw     []byte
	replay  []byte
	length  int
	payload bufpool.Buffer
	stats   DeframerStats
}

// NewDeframer creates a Deframer. It panics if proto is invalid.
func NewDeframer(proto Protocol, pool *bufpool.Pool, sink bufpool.Sink) *Deframer {
	if err := proto.Validate(); err != nil {
		panic(err)
	}
	return &Deframer{
		proto: proto,
		pool:  pool,
		sink:  sink,
		raw:   make([]byte, 0, proto.FrameSize(proto.MaxPayload)),
	}
}

// Protocol returns the wire format.
func (d *Deframer) Protocol() Protocol {
	return d.proto
}

// Feed implements ByteSink.
func (d *Deframer) Feed(ctx context.Context, data []byte) {
	d.feed.Lock()
	defer d.feed.Unlock()
	for {
		d.lock.Lock()
		n, ready := d.next(data)
		d.lock.Unlock()
		data = data[n:]
		if ready.IsZero() {
			return
		}
		if err := d.sink.SendBuffer(ctx, ready); err != nil {
			glog.V(1).Infof("deframer: sink error: %v", err)
		}
	}
}

// FeedByte feeds a single byte.
func (d *Deframer) FeedByte(ctx context.Context, b byte) {
	d.Feed(ctx, []byte{b})
}

// Write implements io.Writer.
func (d *Deframer) Write(p []byte) (int, error) {
	d.Feed(context.Background(), p)
	return len(p), nil
}

// State returns the current state.
func (d *Deframer) State() State {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.state
}

// Stats returns a snapshot of the counters.
func (d *Deframer) Stats() DeframerStats {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.stats
}

// Reset drops any partial frame and returns to seeking sync.
func (d *Deframer) Reset() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.clear()
	d.replay = nil
}

// next scans pending replay bytes, then data, until a frame completes or the
// input runs out. It returns the number of data bytes consumed and the
// completed payload, if any.
func (d *Deframer) next(data []byte) (int, bufpool.Buffer) {
	n := 0
	for {
		var b byte
		if len(d.replay) > 0 {
			b, d.replay = d.replay[0], d.replay[1:]
		} else if n < len(data) {
			b = data[n]
			n++
		} else {
			return n, bufpool.Buffer{}
		}
		if replay := d.step(b); len(replay) > 0 {
			d.replay = append(replay, d.replay...)
		}
		if d.state == StateDispatchReady {
			return n, d.packetReady()
		}
	}
}

func (d *Deframer) headerSize() int {
	return len(d.proto.Sync) + d.proto.LengthWidth
}

// step consumes one byte. On rejecting a candidate it returns the bytes
// after the rejected sync start, which must be scanned again.
func (d *Deframer) step(b byte) []byte {
	d.raw = append(d.raw, b)
	switch d.state {
	case StateSeekingSync:
		if b != d.proto.Sync[len(d.raw)-1] {
			return d.resync()
		}
		if len(d.raw) == len(d.proto.Sync) {
			d.state = StateReadingLength
		}
	case StateReadingLength:
		if len(d.raw) < d.headerSize() {
			break
		}
		length := d.proto.uint(d.raw[len(d.proto.Sync):], d.proto.LengthWidth)
		if length > uint32(d.proto.MaxPayload) {
			d.stats.LengthErrors++
			glog.V(2).Infof("deframer: invalid length %d", length)
			return d.resync()
		}
		buf, err := d.pool.Allocate(int(length))
		if err != nil {
			d.stats.NoBuffer++
			glog.V(2).Infof("deframer: no buffer for %d bytes: %v", length, err)
			return d.resync()
		}
		d.length, d.payload = int(length), buf
		if d.length == 0 {
			d.state = StateReadingChecksum
		} else {
			d.state = StateReadingPayload
		}
	case StateReadingPayload:
		n := len(d.raw) - d.headerSize()
		d.payload.Bytes()[n-1] = b
		if n == d.length {
			d.state = StateReadingChecksum
		}
	case StateReadingChecksum:
		if len(d.raw) < d.proto.FrameSize(d.length) {
			break
		}
		end := d.headerSize() + d.length
		want := d.proto.Checksum.Compute(d.raw[len(d.proto.Sync):end])
		got := d.proto.uint(d.raw[end:], d.proto.Checksum.Size())
		if want != got {
			d.stats.ChecksumErrors++
			glog.V(2).Infof("deframer: checksum mismatch %#x != %#x", got, want)
			return d.resync()
		}
		d.state = StateDispatchReady
	}
	return nil
}

func (d *Deframer) packetReady() bufpool.Buffer {
	d.stats.Frames++
	b := d.payload
	d.payload = bufpool.Buffer{}
	d.raw = d.raw[:0]
	d.state = StateSeekingSync
	return b
}

func (d *Deframer) resync() []byte {
	d.stats.Discarded++
	var replay []byte
	if len(d.raw) > 1 {
		replay = append(replay, d.raw[1:]...)
	}
	d.clear()
	return replay
}

func (d *Deframer) clear() {
	if !d.payload.IsZero() {
		d.payload.Release()
		d.payload = bufpool.Buffer{}
	}
	d.raw = d.raw[:0]
	d.length = 0
	d.state = StateSeekingSync
}
