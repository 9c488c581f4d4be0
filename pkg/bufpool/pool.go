package bufpool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"
)

// BinConfig defines a size class.
type BinConfig struct {
	Size  int `yaml:"size"`
	Count int `yaml:"count"`
}

// BinStats reports the state of a bin.
type BinStats struct {
	Size      int
	Count     int
	InUse     int
	Free      int
	HighWater int
	Failures  int
}

// Option customizes a Pool.
type Option func(*Pool)

// WithName names the pool in log messages.
func WithName(name string) Option {
	return func(p *Pool) { p.name = name }
}

// WithSpill lets an allocation fall through to larger bins when the
// best-fit bin is empty.
func WithSpill() Option {
	return func(p *Pool) { p.spill = true }
}

// ErrInvalidSize indicates a negative allocation request.
var ErrInvalidSize = errors.New("invalid buffer size")

type bin struct {
	size   int
	count  int
	offset int

	free      []int
	inUse     []bool
	gens      []uint32
	highWater int
	failures  int
}

// Pool owns a fixed set of fixed-size slots grouped into bins.
type Pool struct {
	name  string
	spill bool
	bins  []*bin
	data  []byte
	lock  sync.Mutex
}

// New creates a Pool from a bin table. Bins are sorted ascending by size.
func New(bins []BinConfig, opts ...Option) (*Pool, error) {
	if len(bins) == 0 {
		return nil, fmt.Errorf("%w: no bins", ErrInvalidConfig)
	}
	sorted := make([]BinConfig, len(bins))
	copy(sorted, bins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	p := &Pool{name: "pool"}
	for _, opt := range opts {
		opt(p)
	}
	total := 0
	for n, cfg := range sorted {
		if cfg.Size <= 0 || cfg.Count <= 0 {
			return nil, fmt.Errorf("%w: bin %d has size %d count %d", ErrInvalidConfig, n, cfg.Size, cfg.Count)
		}
		if n > 0 && sorted[n-1].Size == cfg.Size {
			return nil, fmt.Errorf("%w: duplicate bin size %d", ErrInvalidConfig, cfg.Size)
		}
		b := &bin{
			size:   cfg.Size,
			count:  cfg.Count,
			offset: total,
			free:   make([]int, cfg.Count),
			inUse:  make([]bool, cfg.Count),
			gens:   make([]uint32, cfg.Count),
		}
		// lowest slot index comes out first.
		for i := range b.free {
			b.free[i] = cfg.Count - 1 - i
		}
		total += cfg.Size * cfg.Count
		p.bins = append(p.bins, b)
	}
	p.data = make([]byte, total)
	return p, nil
}

// MustNew is New that panics on error.
func MustNew(bins []BinConfig, opts ...Option) *Pool {
	p, err := New(bins, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// MaxSize returns the largest slot size.
func (p *Pool) MaxSize() int {
	return p.bins[len(p.bins)-1].size
}

// Allocate returns a buffer from the smallest bin with slot size >= size.
// The returned buffer has logical length size.
func (p *Pool) Allocate(size int) (Buffer, error) {
	if size < 0 {
		return Buffer{}, ErrInvalidSize
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	for n, b := range p.bins {
		if b.size < size {
			continue
		}
		if len(b.free) == 0 {
			b.failures++
			if p.spill {
				continue
			}
			glog.V(2).Infof("%s: bin %d (%d bytes) exhausted", p.name, n, b.size)
			return Buffer{}, ErrPoolExhausted
		}
		slot := b.free[len(b.free)-1]
		b.free = b.free[:len(b.free)-1]
		b.inUse[slot] = true
		if used := b.count - len(b.free); used > b.highWater {
			b.highWater = used
		}
		return Buffer{pool: p, bin: n, slot: slot, gen: b.gens[slot], size: size}, nil
	}
	glog.V(2).Infof("%s: no bin can hold %d bytes", p.name, size)
	return Buffer{}, ErrPoolExhausted
}

// Release returns a buffer to its bin. An invalid handle panics with
// *InvalidReleaseError.
func (p *Pool) Release(buf Buffer) {
	p.lock.Lock()
	defer p.lock.Unlock()
	fault := func(reason string) {
		panic(&InvalidReleaseError{Bin: buf.bin, Slot: buf.slot, Gen: buf.gen, Reason: reason})
	}
	if buf.pool != p {
		fault("buffer not owned by " + p.name)
	}
	if buf.bin < 0 || buf.bin >= len(p.bins) {
		fault("bin out of range")
	}
	b := p.bins[buf.bin]
	if buf.slot < 0 || buf.slot >= b.count {
		fault("slot out of range")
	}
	if b.gens[buf.slot] != buf.gen {
		fault("stale handle")
	}
	if !b.inUse[buf.slot] {
		fault("slot already free")
	}
	b.inUse[buf.slot] = false
	b.gens[buf.slot]++
	b.free = append(b.free, buf.slot)
}

// Stats returns a snapshot of all bins in ascending size order.
func (p *Pool) Stats() []BinStats {
	p.lock.Lock()
	defer p.lock.Unlock()
	stats := make([]BinStats, len(p.bins))
	for n, b := range p.bins {
		stats[n] = BinStats{
			Size:      b.size,
			Count:     b.count,
			InUse:     b.count - len(b.free),
			Free:      len(b.free),
			HighWater: b.highWater,
			Failures:  b.failures,
		}
	}
	return stats
}

// InUse returns the total number of allocated slots.
func (p *Pool) InUse() int {
	n := 0
	for _, s := range p.Stats() {
		n += s.InUse
	}
	return n
}
