package framework

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

// RateGroup runs its consumers in registration order on each activation.
// It's passive: activations run on the caller's goroutine.
type RateGroup struct {
	name string

	lock        sync.Mutex
	consumers   []Tickable
	tokens      []uint32
	activations uint64
}

// NewRateGroup creates a RateGroup.
func NewRateGroup(name string) *RateGroup {
	return &RateGroup{name: name}
}

// Name implements Named.
func (g *RateGroup) Name() string {
	return g.name
}

// Configure sets the per-consumer tokens, by registration index. Consumers
// without a configured token get zero.
func (g *RateGroup) Configure(tokens ...uint32) *RateGroup {
	g.lock.Lock()
	g.tokens = append([]uint32(nil), tokens...)
	g.lock.Unlock()
	return g
}

// Add registers consumers.
func (g *RateGroup) Add(ts ...Tickable) *RateGroup {
	g.lock.Lock()
	g.consumers = append(g.consumers, ts...)
	g.lock.Unlock()
	return g
}

// Activations returns how many times the group ran.
func (g *RateGroup) Activations() uint64 {
	return atomic.LoadUint64(&g.activations)
}

// OnTick implements Tickable.
func (g *RateGroup) OnTick(tc TickContext, token uint32) {
	g.lock.Lock()
	consumers, tokens := g.consumers, g.tokens
	g.lock.Unlock()
	atomic.AddUint64(&g.activations, 1)
	for n, t := range consumers {
		var tok uint32
		if n < len(tokens) {
			tok = tokens[n]
		}
		t.OnTick(tc, tok)
	}
}

type activation struct {
	tc    TickContext
	token uint32
}

// ActiveRateGroup runs a RateGroup on its own goroutine. A tick arriving
// while the previous activation is pending or running is a cycle slip and
// is dropped.
type ActiveRateGroup struct {
	*RateGroup

	busy  int32
	slips uint64
	ch    chan activation
}

// NewActiveRateGroup wraps a RateGroup.
func NewActiveRateGroup(g *RateGroup) *ActiveRateGroup {
	return &ActiveRateGroup{RateGroup: g, ch: make(chan activation, 1)}
}

// OnTick implements Tickable.
func (a *ActiveRateGroup) OnTick(tc TickContext, token uint32) {
	if !atomic.CompareAndSwapInt32(&a.busy, 0, 1) {
		atomic.AddUint64(&a.slips, 1)
		glog.Warningf("%s: cycle slip at tick %d", a.name, tc.Tick)
		return
	}
	a.ch <- activation{tc: tc, token: token}
}

// Slips returns the number of cycle slips.
func (a *ActiveRateGroup) Slips() uint64 {
	return atomic.LoadUint64(&a.slips)
}

// Run implements Runnable.
func (a *ActiveRateGroup) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case act := <-a.ch:
			act.tc.Context = ctx
			a.RateGroup.OnTick(act.tc, act.token)
			atomic.StoreInt32(&a.busy, 0)
		}
	}
}
