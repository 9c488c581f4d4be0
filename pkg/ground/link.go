// Package ground implements the ground side of a device link: framing,
// command/response correlation, a hex monitor and an MQTT bridge.
package ground

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/framing"
	"github.com/robotalks/comcore/pkg/packet"
	"github.com/robotalks/comcore/pkg/transport"
)

// PacketHandler handles packets decoded from the device.
type PacketHandler interface {
	HandlePacket(ctx context.Context, pkt *packet.Packet)
}

// PacketHandlerFunc is the func form of PacketHandler.
type PacketHandlerFunc func(context.Context, *packet.Packet)

// HandlePacket implements PacketHandler.
func (f PacketHandlerFunc) HandlePacket(ctx context.Context, pkt *packet.Packet) {
	f(ctx, pkt)
}

// Direction of link traffic.
type Direction int

// Directions.
const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "TX"
	}
	return "RX"
}

// TapFunc observes raw bytes on the link.
type TapFunc func(dir Direction, data []byte)

// LinkStats reports the counters of a Link.
type LinkStats struct {
	Deframer  framing.DeframerStats
	Framer    framing.FramerStats
	Transport transport.AdapterStats
	Malformed uint64
}

// Link is a framed packet link over a byte stream.
type Link struct {
	// Handler receives decoded packets. Set before Run.
	Handler PacketHandler

	pool      *bufpool.Pool
	driver    *transport.StreamDriver
	adapter   *transport.Adapter
	framer    *framing.Framer
	deframer  *framing.Deframer
	tap       atomic.Value
	malformed uint64
}

// NewLink creates a Link using proto over rw.
func NewLink(proto framing.Protocol, rw io.ReadWriter) (*Link, error) {
	if err := proto.Validate(); err != nil {
		return nil, err
	}
	bins := []bufpool.BinConfig{{Size: 64, Count: 16}}
	if size := proto.FrameSize(proto.MaxPayload); size > 64 {
		bins = append(bins, bufpool.BinConfig{Size: size, Count: 16})
	}
	pool, err := bufpool.New(bins, bufpool.WithName("ground"), bufpool.WithSpill())
	if err != nil {
		return nil, err
	}
	l := &Link{pool: pool}
	l.driver = transport.NewStreamDriver(rw, nil)
	l.deframer = framing.NewDeframer(proto, pool, bufpool.SinkFunc(l.deliver))
	l.adapter = transport.NewAdapter(l.driver, framing.ByteSinkFunc(l.inbound))
	l.driver.Receiver = l.adapter
	l.framer = framing.NewFramer(proto, pool, bufpool.SinkFunc(l.outbound))
	return l, nil
}

// Name implements framework.Named.
func (l *Link) Name() string {
	return "ground.link"
}

// SetTap installs fn to observe raw traffic. nil removes it.
func (l *Link) SetTap(fn TapFunc) {
	l.tap.Store(fn)
}

// Ready reports whether the stream is being served.
func (l *Link) Ready() bool {
	return l.adapter.Ready()
}

// Protocol returns the framing protocol.
func (l *Link) Protocol() framing.Protocol {
	return l.framer.Protocol()
}

// Send frames and writes a packet.
func (l *Link) Send(ctx context.Context, pkt *packet.Packet) error {
	b, err := pkt.EncodeTo(l.pool)
	if err != nil {
		return err
	}
	return l.framer.SendBuffer(ctx, b)
}

// Run serves the stream until ctx is done or the stream fails.
func (l *Link) Run(ctx context.Context) error {
	defer l.adapter.Reset()
	return l.driver.Run(ctx)
}

// Stats returns a snapshot of the counters.
func (l *Link) Stats() LinkStats {
	return LinkStats{
		Deframer:  l.deframer.Stats(),
		Framer:    l.framer.Stats(),
		Transport: l.adapter.Stats(),
		Malformed: atomic.LoadUint64(&l.malformed),
	}
}

func (l *Link) observe(dir Direction, data []byte) {
	if fn, _ := l.tap.Load().(TapFunc); fn != nil {
		fn(dir, data)
	}
}

func (l *Link) inbound(ctx context.Context, data []byte) {
	l.observe(Inbound, data)
	l.deframer.Feed(ctx, data)
}

func (l *Link) outbound(ctx context.Context, b bufpool.Buffer) error {
	l.observe(Outbound, b.Bytes())
	return l.adapter.SendBuffer(ctx, b)
}

func (l *Link) deliver(ctx context.Context, b bufpool.Buffer) error {
	pkt, err := packet.Decode(b.Bytes())
	b.Release()
	if err != nil {
		atomic.AddUint64(&l.malformed, 1)
		glog.Warningf("ground: %v", err)
		return err
	}
	glog.V(3).Infof("ground: RX %s", pkt)
	if h := l.Handler; h != nil {
		h.HandlePacket(ctx, pkt)
	}
	return nil
}
