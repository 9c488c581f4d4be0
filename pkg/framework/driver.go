package framework

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultTickInterval is the base tick of the rate group driver (1 kHz).
const DefaultTickInterval = time.Millisecond

// Divider selects the ticks on which an output fires: those where
// tick % Divisor == Offset.
type Divider struct {
	Divisor uint32 `yaml:"divisor"`
	Offset  uint32 `yaml:"offset"`
}

// Validate checks the divider.
func (d Divider) Validate() error {
	if d.Divisor == 0 {
		return fmt.Errorf("%w: zero divisor", ErrInvalidDivider)
	}
	if d.Offset >= d.Divisor {
		return fmt.Errorf("%w: offset %d >= divisor %d", ErrInvalidDivider, d.Offset, d.Divisor)
	}
	return nil
}

// RateGroupDriver divides a base tick into rate group activations.
type RateGroupDriver struct {
	// Interval is the base tick used by Run.
	Interval time.Duration
	// FireOnZero evaluates tick zero on the first Tick.
	FireOnZero bool

	lock     sync.Mutex
	dividers []Divider
	outputs  [][]Tickable
	started  bool
	ticked   bool
	tick     uint64
}

// NewRateGroupDriver creates a RateGroupDriver.
func NewRateGroupDriver() *RateGroupDriver {
	return &RateGroupDriver{Interval: DefaultTickInterval}
}

// Name implements Named.
func (d *RateGroupDriver) Name() string {
	return "framework.rategroupdriver"
}

// Configure sets the dividers. It must be called before Start.
func (d *RateGroupDriver) Configure(dividers ...Divider) error {
	for n, div := range dividers {
		if err := div.Validate(); err != nil {
			return fmt.Errorf("divider %d: %w", n, err)
		}
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	d.dividers = append([]Divider(nil), dividers...)
	d.outputs = make([][]Tickable, len(dividers))
	return nil
}

// Connect attaches Tickables to divider n. They are activated in the
// order connected.
func (d *RateGroupDriver) Connect(n int, ts ...Tickable) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	if n < 0 || n >= len(d.outputs) {
		return fmt.Errorf("%w: %d", ErrNoSuchDivider, n)
	}
	d.outputs[n] = append(d.outputs[n], ts...)
	return nil
}

// Start completes configuration. Tick is only accepted afterwards.
func (d *RateGroupDriver) Start() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if len(d.dividers) == 0 {
		return ErrNotConfigured
	}
	d.started = true
	return nil
}

// Ticks returns the current tick count.
func (d *RateGroupDriver) Ticks() uint64 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.tick
}

// Tick advances the counter and activates every output whose divider
// matches the new count, synchronously and in divider order.
func (d *RateGroupDriver) Tick(ctx context.Context) error {
	d.lock.Lock()
	if !d.started {
		d.lock.Unlock()
		return ErrNotStarted
	}
	if d.ticked || !d.FireOnZero {
		d.tick++
	}
	d.ticked = true
	tc := TickContext{Context: ctx, Tick: d.tick, Time: time.Now()}
	var fire []int
	for n, div := range d.dividers {
		if tc.Tick%uint64(div.Divisor) == uint64(div.Offset) {
			fire = append(fire, n)
		}
	}
	outputs := d.outputs
	d.lock.Unlock()

	for _, n := range fire {
		for _, t := range outputs[n] {
			t.OnTick(tc, uint32(n))
		}
	}
	return nil
}

// Run drives Tick from a ticker until ctx is done.
func (d *RateGroupDriver) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	interval := d.Interval
	if interval == 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	glog.V(1).Infof("rate group driver running at %v", interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// RunOrFail is intended to be used in main to simply run the driver.
func (d *RateGroupDriver) RunOrFail() {
	if err := d.Run(context.TODO()); err != nil {
		log.Fatalln(err)
	}
}
