// Package telemetry produces telemetry and event packets on the outbound
// queue. Producers never block: when the pool or queue is full the packet is
// dropped and counted.
package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/comqueue"
	fx "github.com/robotalks/comcore/pkg/framework"
	"github.com/robotalks/comcore/pkg/packet"
)

// Channel is a telemetry channel.
type Channel struct {
	ID   uint32
	Name string
	Read func() []byte
}

// SamplerStats counts sampler activity.
type SamplerStats struct {
	Samples uint64
	Drops   uint64
}

// Sampler samples channels on each activation.
type Sampler struct {
	pool     *bufpool.Pool
	out      comqueue.Enqueuer
	priority int

	lock     sync.Mutex
	channels []Channel

	samples uint64
	drops   uint64
}

// NewSampler creates a Sampler.
func NewSampler(pool *bufpool.Pool, out comqueue.Enqueuer, priority int) *Sampler {
	return &Sampler{pool: pool, out: out, priority: priority}
}

// Register adds channels.
func (s *Sampler) Register(chs ...Channel) *Sampler {
	s.lock.Lock()
	s.channels = append(s.channels, chs...)
	s.lock.Unlock()
	return s
}

// Channels lists registered channels.
func (s *Sampler) Channels() []Channel {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Channel(nil), s.channels...)
}

// OnTick implements framework.Tickable.
func (s *Sampler) OnTick(tc fx.TickContext, token uint32) {
	for _, ch := range s.Channels() {
		tlm := &packet.Telemetry{Channel: ch.ID, Time: tc.Time, Value: ch.Read()}
		if err := send(s.pool, s.out, s.priority, tlm.Packet()); err != nil {
			atomic.AddUint64(&s.drops, 1)
			glog.V(2).Infof("drop telemetry %s: %v", ch.Name, err)
			continue
		}
		atomic.AddUint64(&s.samples, 1)
	}
}

// Stats returns a snapshot of the counters.
func (s *Sampler) Stats() SamplerStats {
	return SamplerStats{
		Samples: atomic.LoadUint64(&s.samples),
		Drops:   atomic.LoadUint64(&s.drops),
	}
}

func send(pool *bufpool.Pool, out comqueue.Enqueuer, priority int, pkt *packet.Packet) error {
	b, err := pkt.EncodeTo(pool)
	if err != nil {
		return err
	}
	if err = out.Enqueue(priority, b); err != nil {
		b.Release()
		return err
	}
	return nil
}
