// Package topology wires the communication core for a device.
//
// Setup builds every component from a Config and connects them by explicit
// calls:
//
//	link -> StreamDriver -> Adapter -> Deframer -> Dispatcher
//	Sampler/EventLogger/Dispatcher -> Queue -> Drain -> Framer -> Adapter -> link
//	RateGroupDriver -> blink | telemetry | health rate groups
package topology

import (
	"context"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/cmddisp"
	"github.com/robotalks/comcore/pkg/comqueue"
	fx "github.com/robotalks/comcore/pkg/framework"
	"github.com/robotalks/comcore/pkg/framing"
	"github.com/robotalks/comcore/pkg/gpio"
	"github.com/robotalks/comcore/pkg/packet"
	"github.com/robotalks/comcore/pkg/telemetry"
	"github.com/robotalks/comcore/pkg/transport"
)

// Device command opcodes.
const (
	OpBlinkEnable uint32 = 0x10
)

// Event IDs.
const (
	EventStartup    uint32 = 0x01
	EventPoolStress uint32 = 0x02
	EventQueueDrops uint32 = 0x03
	EventSlips      uint32 = 0x04
)

// Telemetry channel IDs.
const (
	ChannelPoolInUse  uint32 = 0x01
	ChannelQueueLen   uint32 = 0x02
	ChannelFramesIn   uint32 = 0x03
	ChannelFramesOut  uint32 = 0x04
	ChannelTicks      uint32 = 0x05
	ChannelDroppedOut uint32 = 0x06
)

// Topology is the wired communication core.
type Topology struct {
	Config *Config

	Pool       *bufpool.Pool
	Queue      *comqueue.Queue
	Driver     *transport.StreamDriver
	Adapter    *transport.Adapter
	Framer     *framing.Framer
	Deframer   *framing.Deframer
	Dispatcher *cmddisp.Dispatcher
	Events     *telemetry.EventLogger
	Sampler    *telemetry.Sampler
	Blinker    *gpio.Blinker
	RateDriver *fx.RateGroupDriver
	Groups     []*fx.RateGroup

	drain  *comqueue.Drain
	active []*fx.ActiveRateGroup
	health healthCheck
}

// Setup builds the topology over link, driving the LED through out.
func Setup(cfg *Config, link io.ReadWriter, out gpio.DigitalOutput) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proto, err := cfg.Framing.Protocol()
	if err != nil {
		return nil, err
	}
	prEvents, _ := cfg.Priority(ClassEvents)
	prResponses, _ := cfg.Priority(ClassResponses)
	prTelemetry, _ := cfg.Priority(ClassTelemetry)

	t := &Topology{Config: cfg}
	if t.Pool, err = bufpool.New(cfg.Pool, bufpool.WithName("comms")); err != nil {
		return nil, err
	}
	recvPool, err := bufpool.New(cfg.RecvPool, bufpool.WithName("recv"))
	if err != nil {
		return nil, err
	}
	if t.Queue, err = comqueue.New(cfg.Queue); err != nil {
		return nil, err
	}

	t.Driver = transport.NewStreamDriver(link, recvPool)
	t.Dispatcher = cmddisp.New(t.Pool, t.Queue, prResponses)
	t.Dispatcher.MaxResponse = proto.MaxPayload
	t.Deframer = framing.NewDeframer(proto, t.Pool, t.Dispatcher)
	t.Adapter = transport.NewAdapter(t.Driver, t.Deframer)
	t.Driver.Receiver = t.Adapter
	t.Framer = framing.NewFramer(proto, t.Pool, t.Adapter)
	t.drain = &comqueue.Drain{Queue: t.Queue, Sink: t.Framer}

	t.Events = telemetry.NewEventLogger(t.Pool, t.Queue, prEvents)
	t.Sampler = telemetry.NewSampler(t.Pool, t.Queue, prTelemetry)
	t.Blinker = gpio.NewBlinker(out, cfg.BlinkEvery, t.Events)
	t.health.t = t

	if err = t.registerCommands(); err != nil {
		return nil, err
	}
	t.registerChannels()
	if err = t.connectRateGroups(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topology) registerCommands() error {
	if err := cmddisp.RegisterBuiltins(t.Dispatcher, cmddisp.StatsReporterFunc(t.ReportStats)); err != nil {
		return err
	}
	return t.Dispatcher.Register(OpBlinkEnable, "BLINK_ENABLE", cmddisp.HandlerFunc(func(ctx context.Context, cmd *cmddisp.Command) cmddisp.Result {
		if len(cmd.Args) != 1 || cmd.Args[0] > 1 {
			return cmddisp.Result{Status: packet.StatusFormatError}
		}
		if err := t.Blinker.SetEnabled(cmd.Args[0] == 1); err != nil {
			return cmddisp.Failed(err)
		}
		return cmddisp.OK(nil)
	}))
}

func varint(v uint64) []byte {
	return proto.EncodeVarint(v)
}

func (t *Topology) registerChannels() {
	t.Sampler.Register(
		telemetry.Channel{ID: ChannelPoolInUse, Name: "pool.inuse", Read: func() []byte {
			return varint(uint64(t.Pool.InUse()))
		}},
		telemetry.Channel{ID: ChannelQueueLen, Name: "queue.len", Read: func() []byte {
			return varint(uint64(t.Queue.Len()))
		}},
		telemetry.Channel{ID: ChannelFramesIn, Name: "deframer.frames", Read: func() []byte {
			return varint(t.Deframer.Stats().Frames)
		}},
		telemetry.Channel{ID: ChannelFramesOut, Name: "transport.sent", Read: func() []byte {
			return varint(t.Adapter.Stats().Sent)
		}},
		telemetry.Channel{ID: ChannelTicks, Name: "rategroup.ticks", Read: func() []byte {
			return varint(t.RateDriver.Ticks())
		}},
		telemetry.Channel{ID: ChannelDroppedOut, Name: "transport.dropped", Read: func() []byte {
			return varint(t.Adapter.Stats().DroppedNotReady)
		}},
	)
}

func (t *Topology) connectRateGroups() error {
	cfg := t.Config
	t.RateDriver = fx.NewRateGroupDriver()
	t.RateDriver.Interval = cfg.TickInterval
	t.RateDriver.FireOnZero = cfg.FireOnZero
	groups := []struct {
		name string
		conf RateGroupConfig
		ts   []fx.Tickable
	}{
		{"blink", cfg.Blink, []fx.Tickable{t.Blinker}},
		{"telemetry", cfg.Telemetry, []fx.Tickable{t.Sampler}},
		{"health", cfg.Health, []fx.Tickable{&t.health}},
	}
	dividers := make([]fx.Divider, len(groups))
	for n, g := range groups {
		dividers[n] = g.conf.Divider()
	}
	if err := t.RateDriver.Configure(dividers...); err != nil {
		return err
	}
	for n, g := range groups {
		rg := fx.NewRateGroup(g.name).Configure(uint32(n)).Add(g.ts...)
		t.Groups = append(t.Groups, rg)
		var out fx.Tickable = rg
		if g.conf.Active {
			active := fx.NewActiveRateGroup(rg)
			t.active = append(t.active, active)
			out = active
		}
		if err := t.RateDriver.Connect(n, out); err != nil {
			return err
		}
	}
	return nil
}

// Run runs the topology until ctx is done or a component fails.
func (t *Topology) Run(ctx context.Context) error {
	runners := []fx.Runnable{t.drain, t.Driver}
	for _, a := range t.active {
		runners = append(runners, fx.NamedRun("rategroup."+a.Name(), a))
	}
	runners = append(runners, t.RateDriver)
	t.Events.Log(EventStartup, packet.SeverityActivityHi, "comcore started: %s %s", t.Config.Device, t.Config.Serial)
	return fx.RunAll(ctx, runners...)
}

// Teardown releases queued buffers and the partial inbound frame. It reports
// buffers still outstanding afterwards.
func (t *Topology) Teardown() error {
	flushed := t.Queue.Flush(func(b bufpool.Buffer) { b.Release() })
	t.Deframer.Reset()
	t.Adapter.Reset()
	glog.Infof("teardown: flushed %d queued buffers", flushed)
	if n := t.Pool.InUse(); n > 0 {
		return fmt.Errorf("teardown: %d buffers still in use", n)
	}
	return nil
}

// Slips returns the total cycle slips of the active rate groups.
func (t *Topology) Slips() uint64 {
	var n uint64
	for _, a := range t.active {
		n += a.Slips()
	}
	return n
}

// ReportStats reports component statistics as text lines.
func (t *Topology) ReportStats(ctx context.Context) []string {
	var lines []string
	for _, s := range t.Pool.Stats() {
		lines = append(lines, fmt.Sprintf("pool bin %d: inuse=%d free=%d hw=%d fail=%d", s.Size, s.InUse, s.Free, s.HighWater, s.Failures))
	}
	for _, s := range t.Queue.Stats() {
		lines = append(lines, fmt.Sprintf("queue %s: count=%d hw=%d dropped=%d", s.Name, s.Count, s.HighWater, s.Dropped))
	}
	ds := t.Deframer.Stats()
	lines = append(lines, fmt.Sprintf("deframer: frames=%d checksum=%d length=%d nobuf=%d discarded=%d",
		ds.Frames, ds.ChecksumErrors, ds.LengthErrors, ds.NoBuffer, ds.Discarded))
	as := t.Adapter.Stats()
	lines = append(lines, fmt.Sprintf("transport: sent=%d errors=%d notready=%d rx=%d rxerr=%d",
		as.Sent, as.SendErrors, as.DroppedNotReady, as.ReceivedBytes, as.ReceiveErrors))
	cs := t.Dispatcher.Stats()
	lines = append(lines, fmt.Sprintf("commands: total=%d errors=%d malformed=%d dropped=%d",
		cs.Commands, cs.Errors, cs.Malformed, cs.ResponseDrops))
	lines = append(lines, fmt.Sprintf("rategroups: ticks=%d slips=%d", t.RateDriver.Ticks(), t.Slips()))
	return lines
}

// healthCheck raises events when buffers, queue slots or cycles are lost.
type healthCheck struct {
	t        *Topology
	failures uint64
	drops    uint64
	slips    uint64
}

func (h *healthCheck) OnTick(tc fx.TickContext, token uint32) {
	var failures, drops uint64
	for _, s := range h.t.Pool.Stats() {
		failures += uint64(s.Failures)
	}
	for _, s := range h.t.Queue.Stats() {
		drops += uint64(s.Dropped)
	}
	slips := h.t.Slips()
	if failures > h.failures {
		h.t.Events.Log(EventPoolStress, packet.SeverityWarningLo, "pool allocation failures: %d new", failures-h.failures)
	}
	if drops > h.drops {
		h.t.Events.Log(EventQueueDrops, packet.SeverityWarningLo, "queue drops: %d new", drops-h.drops)
	}
	if slips > h.slips {
		h.t.Events.Log(EventSlips, packet.SeverityWarningHi, "rate group slips: %d new", slips-h.slips)
	}
	h.failures, h.drops, h.slips = failures, drops, slips
}
