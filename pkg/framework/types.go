package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// TickContext is passed to Tickables on activation.
type TickContext struct {
	context.Context
	// Tick is the driver tick count which caused the activation.
	Tick uint64
	// Time is when the tick was taken.
	Time time.Time
}

// Tickable is activated periodically by a rate group.
type Tickable interface {
	// OnTick runs one activation. token is the context value configured
	// for this consumer.
	OnTick(tc TickContext, token uint32)
}

// TickFunc is the func form of Tickable.
type TickFunc func(TickContext, uint32)

// OnTick implements Tickable.
func (f TickFunc) OnTick(tc TickContext, token uint32) {
	f(tc, token)
}
