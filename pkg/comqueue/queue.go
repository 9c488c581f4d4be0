// Package comqueue provides the strictly prioritized outbound message queue
// draining to a single transport.
package comqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/bufpool"
)

var (
	// ErrQueueFull indicates the sub-queue for the priority is at depth.
	// The caller keeps ownership of the buffer.
	ErrQueueFull = errors.New("queue full")
	// ErrUnknownPriority indicates no sub-queue is configured for the priority.
	ErrUnknownPriority = errors.New("unknown priority")
	// ErrInvalidConfig indicates the entry table can't be used.
	ErrInvalidConfig = errors.New("invalid queue config")
)

// Enqueuer accepts outbound buffers at a priority. On error the caller keeps
// ownership of the buffer.
type Enqueuer interface {
	Enqueue(priority int, b bufpool.Buffer) error
}

// Entry configures one traffic class. Priority 0 is the highest.
type Entry struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	Depth    int    `yaml:"depth"`
}

// EntryStats reports the state of a sub-queue.
type EntryStats struct {
	Name      string
	Priority  int
	Depth     int
	Count     int
	HighWater int
	Dropped   int
}

type subQueue struct {
	Entry
	ring      []bufpool.Buffer
	head      int
	count     int
	highWater int
	dropped   int
}

func (q *subQueue) push(b bufpool.Buffer) {
	q.ring[(q.head+q.count)%len(q.ring)] = b
	q.count++
	if q.count > q.highWater {
		q.highWater = q.count
	}
}

func (q *subQueue) pop() bufpool.Buffer {
	b := q.ring[q.head]
	q.ring[q.head] = bufpool.Buffer{}
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return b
}

// Queue holds buffers pending transmission in strictly ordered sub-queues.
type Queue struct {
	levels []*subQueue
	lock   sync.Mutex
	wakeCh chan struct{}
}

// New creates a Queue. Priorities must be distinct and depths positive.
func New(entries []Entry) (*Queue, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidConfig)
	}
	q := &Queue{wakeCh: make(chan struct{}, 1)}
	seen := make(map[int]bool)
	for _, e := range entries {
		if e.Depth <= 0 {
			return nil, fmt.Errorf("%w: %q depth %d", ErrInvalidConfig, e.Name, e.Depth)
		}
		if e.Priority < 0 || seen[e.Priority] {
			return nil, fmt.Errorf("%w: %q priority %d", ErrInvalidConfig, e.Name, e.Priority)
		}
		seen[e.Priority] = true
		q.levels = append(q.levels, &subQueue{Entry: e, ring: make([]bufpool.Buffer, e.Depth)})
	}
	sort.Slice(q.levels, func(i, j int) bool { return q.levels[i].Priority < q.levels[j].Priority })
	return q, nil
}

// MustNew is New that panics on error.
func MustNew(entries []Entry) *Queue {
	q, err := New(entries)
	if err != nil {
		panic(err)
	}
	return q
}

// Enqueue appends a buffer to the sub-queue of the priority. It never
// blocks; on error the caller still owns the buffer.
func (q *Queue) Enqueue(priority int, b bufpool.Buffer) error {
	q.lock.Lock()
	var level *subQueue
	for _, l := range q.levels {
		if l.Priority == priority {
			level = l
			break
		}
	}
	if level == nil {
		q.lock.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownPriority, priority)
	}
	if level.count >= level.Depth {
		level.dropped++
		q.lock.Unlock()
		glog.V(2).Infof("queue %q full, drop", level.Name)
		return ErrQueueFull
	}
	level.push(b)
	q.lock.Unlock()
	q.wakeUp()
	return nil
}

// TryDequeue pops the oldest buffer of the highest non-empty priority.
func (q *Queue) TryDequeue() (bufpool.Buffer, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	for _, l := range q.levels {
		if l.count > 0 {
			b := l.pop()
			if q.lenLocked() > 0 {
				q.wakeUp()
			}
			return b, true
		}
	}
	return bufpool.Buffer{}, false
}

// Dequeue blocks until a buffer is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (bufpool.Buffer, error) {
	for {
		if b, ok := q.TryDequeue(); ok {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return bufpool.Buffer{}, ctx.Err()
		case <-q.wakeCh:
		}
	}
}

// Len returns the number of queued buffers across all priorities.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.lenLocked()
}

// Flush removes every queued buffer and passes it to release.
func (q *Queue) Flush(release func(bufpool.Buffer)) int {
	q.lock.Lock()
	var bufs []bufpool.Buffer
	for _, l := range q.levels {
		for l.count > 0 {
			bufs = append(bufs, l.pop())
		}
	}
	q.lock.Unlock()
	for _, b := range bufs {
		release(b)
	}
	return len(bufs)
}

// Stats returns a snapshot ordered by priority.
func (q *Queue) Stats() []EntryStats {
	q.lock.Lock()
	defer q.lock.Unlock()
	stats := make([]EntryStats, len(q.levels))
	for n, l := range q.levels {
		stats[n] = EntryStats{
			Name:      l.Name,
			Priority:  l.Priority,
			Depth:     l.Depth,
			Count:     l.count,
			HighWater: l.highWater,
			Dropped:   l.dropped,
		}
	}
	return stats
}

func (q *Queue) lenLocked() (n int) {
	for _, l := range q.levels {
		n += l.count
	}
	return
}

func (q *Queue) wakeUp() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}
