package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/comqueue"
	"github.com/robotalks/comcore/pkg/packet"
)

// EventStats counts logged events.
type EventStats struct {
	Sent  uint64
	Drops uint64
}

// EventLogger emits event packets and mirrors them to the local log.
type EventLogger struct {
	pool     *bufpool.Pool
	out      comqueue.Enqueuer
	priority int
	// Now is the clock of event timestamps.
	Now func() time.Time

	sent  uint64
	drops uint64
}

// NewEventLogger creates an EventLogger.
func NewEventLogger(pool *bufpool.Pool, out comqueue.Enqueuer, priority int) *EventLogger {
	return &EventLogger{pool: pool, out: out, priority: priority, Now: time.Now}
}

// Log emits an event. A dropped event returns the error but is otherwise
// only counted.
func (l *EventLogger) Log(id uint32, sev packet.Severity, format string, args ...interface{}) error {
	ev := &packet.Event{ID: id, Severity: sev, Time: l.Now(), Text: fmt.Sprintf(format, args...)}
	switch sev {
	case packet.SeverityWarningLo, packet.SeverityWarningHi:
		glog.Warningf("event %d: %s", id, ev.Text)
	case packet.SeverityFatal:
		glog.Errorf("event %d: %s", id, ev.Text)
	case packet.SeverityDiagnostic:
		glog.V(1).Infof("event %d: %s", id, ev.Text)
	default:
		glog.Infof("event %d: %s", id, ev.Text)
	}
	if err := send(l.pool, l.out, l.priority, ev.Packet()); err != nil {
		atomic.AddUint64(&l.drops, 1)
		return err
	}
	atomic.AddUint64(&l.sent, 1)
	return nil
}

// Stats returns a snapshot of the counters.
func (l *EventLogger) Stats() EventStats {
	return EventStats{
		Sent:  atomic.LoadUint64(&l.sent),
		Drops: atomic.LoadUint64(&l.drops),
	}
}
