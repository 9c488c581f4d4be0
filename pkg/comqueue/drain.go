package comqueue

import (
	"context"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
)

// Drain is the task moving buffers from a Queue to a single sink.
type Drain struct {
	Queue *Queue
	Sink  bufpool.Sink
}

// Name implements framework.Named.
func (d *Drain) Name() string {
	return "comqueue.drain"
}

// Run implements framework.Runnable.
func (d *Drain) Run(ctx context.Context) error {
	for {
		b, err := d.Queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		if err := d.Sink.SendBuffer(ctx, b); err != nil {
			glog.V(1).Infof("drain: send error: %v", err)
		}
	}
}
