// Package gpio has the digital output collaborator and a blinker driven by a
// rate group.
package gpio

import (
	"sync"

	fx "github.com/robotalks/comcore/pkg/framework"
	"github.com/robotalks/comcore/pkg/packet"
)

// DigitalOutput is a driver for a digital pin.
type DigitalOutput interface {
	Write(on bool) error
}

// DigitalOutputFunc is the func form of DigitalOutput.
type DigitalOutputFunc func(bool) error

// Write implements DigitalOutput.
func (f DigitalOutputFunc) Write(on bool) error {
	return f(on)
}

// Pin is an in-memory DigitalOutput.
type Pin struct {
	lock        sync.Mutex
	on          bool
	transitions int
}

// Write implements DigitalOutput.
func (p *Pin) Write(on bool) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.on != on {
		p.transitions++
	}
	p.on = on
	return nil
}

// State returns the pin level and the number of transitions.
func (p *Pin) State() (on bool, transitions int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.on, p.transitions
}

// EventSink reports blinker events.
type EventSink interface {
	Log(id uint32, sev packet.Severity, format string, args ...interface{}) error
}

// Blinker event IDs.
const (
	EventLedState  uint32 = 0x100
	EventLedFailed uint32 = 0x101
)

// Blinker toggles an output every Every activations.
type Blinker struct {
	Output DigitalOutput
	Every  int
	Events EventSink

	lock     sync.Mutex
	count    int
	on       bool
	enabled  bool
	failures int
}

// NewBlinker creates an enabled Blinker.
func NewBlinker(out DigitalOutput, every int, events EventSink) *Blinker {
	if every < 1 {
		every = 1
	}
	return &Blinker{Output: out, Every: every, Events: events, enabled: true}
}

// SetEnabled starts or stops blinking. Stopping turns the output off.
func (b *Blinker) SetEnabled(enabled bool) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.enabled, b.count = enabled, 0
	if !enabled && b.on {
		return b.writeLocked(false)
	}
	return nil
}

// OnTick implements framework.Tickable.
func (b *Blinker) OnTick(tc fx.TickContext, token uint32) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.enabled {
		return
	}
	b.count++
	if b.count < b.Every {
		return
	}
	b.count = 0
	b.writeLocked(!b.on)
}

func (b *Blinker) writeLocked(on bool) error {
	if err := b.Output.Write(on); err != nil {
		b.failures++
		if b.Events != nil {
			b.Events.Log(EventLedFailed, packet.SeverityWarningHi, "led write failed: %v", err)
		}
		return err
	}
	b.on = on
	if b.Events != nil {
		state := "OFF"
		if on {
			state = "ON"
		}
		b.Events.Log(EventLedState, packet.SeverityActivityLo, "led %s", state)
	}
	return nil
}

// Failures returns the number of failed writes.
func (b *Blinker) Failures() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.failures
}
