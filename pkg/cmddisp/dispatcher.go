// Package cmddisp dispatches inbound command packets to registered handlers
// and queues their responses.
package cmddisp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/comqueue"
	"github.com/robotalks/comcore/pkg/packet"
)

// ErrDuplicateOpcode indicates the opcode is already registered.
var ErrDuplicateOpcode = errors.New("duplicate opcode")

// Command is a decoded inbound command.
type Command struct {
	Opcode uint32
	Seq    uint32
	Args   []byte
}

// Result is the outcome of a command.
type Result struct {
	Status packet.Status
	Data   []byte
}

// OK is a successful result carrying data.
func OK(data []byte) Result {
	return Result{Status: packet.StatusOK, Data: data}
}

// Failed is an execution error result.
func Failed(err error) Result {
	return Result{Status: packet.StatusExecutionError, Data: []byte(err.Error())}
}

// NotImplemented is the result of commands with no behavior yet.
var NotImplemented = Result{Status: packet.StatusNotImplemented}

// Handler executes a command.
type Handler interface {
	HandleCommand(context.Context, *Command) Result
}

// HandlerFunc is the func form of Handler.
type HandlerFunc func(context.Context, *Command) Result

// HandleCommand implements Handler.
func (f HandlerFunc) HandleCommand(ctx context.Context, cmd *Command) Result {
	return f(ctx, cmd)
}

// NotImplementedHandler answers every command with NotImplemented.
var NotImplementedHandler = HandlerFunc(func(context.Context, *Command) Result {
	return NotImplemented
})

// Registration describes a registered command.
type Registration struct {
	Opcode  uint32
	Name    string
	Handler Handler
}

// Stats counts dispatcher activity.
type Stats struct {
	Commands      uint64
	Errors        uint64
	Malformed     uint64
	ResponseDrops uint64
}

// ResponseHook observes every command response.
type ResponseHook func(cmd *Command, res Result)

// Dispatcher implements bufpool.Sink for inbound payloads.
type Dispatcher struct {
	// MaxResponse bounds the encoded size of a response packet. Zero means
	// unbounded.
	MaxResponse int

	pool     *bufpool.Pool
	out      comqueue.Enqueuer
	priority int

	lock     sync.RWMutex
	handlers map[uint32]*Registration
	hooks    []ResponseHook

	commands      uint64
	errors        uint64
	malformed     uint64
	responseDrops uint64
}

// New creates a Dispatcher. Responses are allocated from pool and enqueued
// to out at priority.
func New(pool *bufpool.Pool, out comqueue.Enqueuer, priority int) *Dispatcher {
	return &Dispatcher{
		pool:     pool,
		out:      out,
		priority: priority,
		handlers: make(map[uint32]*Registration),
	}
}

// Register adds a command.
func (d *Dispatcher) Register(opcode uint32, name string, h Handler) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if reg, exist := d.handlers[opcode]; exist {
		return fmt.Errorf("%w: %#x already used by %s", ErrDuplicateOpcode, opcode, reg.Name)
	}
	d.handlers[opcode] = &Registration{Opcode: opcode, Name: name, Handler: h}
	return nil
}

// OnResponse adds a hook called after each command completes.
func (d *Dispatcher) OnResponse(hook ResponseHook) {
	d.lock.Lock()
	d.hooks = append(d.hooks, hook)
	d.lock.Unlock()
}

// Registrations lists registered commands by opcode.
func (d *Dispatcher) Registrations() []Registration {
	d.lock.RLock()
	regs := make([]Registration, 0, len(d.handlers))
	for _, reg := range d.handlers {
		regs = append(regs, *reg)
	}
	d.lock.RUnlock()
	sort.Slice(regs, func(i, j int) bool { return regs[i].Opcode < regs[j].Opcode })
	return regs
}

// Dispatch executes a command without sending a response.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *Command) Result {
	atomic.AddUint64(&d.commands, 1)
	d.lock.RLock()
	reg := d.handlers[cmd.Opcode]
	d.lock.RUnlock()
	if reg == nil {
		atomic.AddUint64(&d.errors, 1)
		glog.Warningf("invalid opcode %#x", cmd.Opcode)
		return Result{Status: packet.StatusInvalidOpcode}
	}
	res := reg.Handler.HandleCommand(ctx, cmd)
	if res.Status != packet.StatusOK {
		atomic.AddUint64(&d.errors, 1)
		glog.Warningf("command %s seq %d: %s", reg.Name, cmd.Seq, res.Status)
	} else {
		glog.V(2).Infof("command %s seq %d: OK", reg.Name, cmd.Seq)
	}
	return res
}

// SendBuffer implements bufpool.Sink. b holds an encoded command packet and
// is released after dispatch.
func (d *Dispatcher) SendBuffer(ctx context.Context, b bufpool.Buffer) error {
	pkt, err := packet.Decode(b.Bytes())
	b.Release()
	if err != nil {
		atomic.AddUint64(&d.malformed, 1)
		glog.V(1).Infof("drop inbound packet: %v", err)
		return err
	}
	if pkt.Type != packet.TypeCommand {
		atomic.AddUint64(&d.malformed, 1)
		glog.V(1).Infof("drop inbound %s packet", pkt.Type)
		return fmt.Errorf("%w: unexpected %s packet", packet.ErrMalformed, pkt.Type)
	}
	cmd := &Command{Opcode: pkt.ID, Seq: pkt.Seq, Args: pkt.Payload}
	res := d.Dispatch(ctx, cmd)
	d.lock.RLock()
	hooks := d.hooks
	d.lock.RUnlock()
	for _, hook := range hooks {
		hook(cmd, res)
	}
	return d.respond(cmd, res)
}

// ResponseCapacity returns the most response data cmd can carry within
// MaxResponse, or -1 if responses are unbounded.
func (d *Dispatcher) ResponseCapacity(cmd *Command) int {
	if d.MaxResponse <= 0 {
		return -1
	}
	base, err := packet.NewResponse(cmd.Opcode, cmd.Seq, packet.StatusExecutionError, nil).Marshal()
	if err != nil {
		return 0
	}
	// base already holds one byte for each of the two data length prefixes.
	size := func(n int) int {
		inner := proto.SizeVarint(uint64(n)) + n
		outer := proto.SizeVarint(uint64(1+inner)) + 1 + inner
		return len(base) - 3 + outer
	}
	n := d.MaxResponse - len(base)
	for n > 0 && size(n) > d.MaxResponse {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

func (d *Dispatcher) respond(cmd *Command, res Result) error {
	if limit := d.ResponseCapacity(cmd); limit >= 0 && len(res.Data) > limit {
		atomic.AddUint64(&d.errors, 1)
		glog.Warningf("response %#x seq %d: %d bytes of data exceeds %d", cmd.Opcode, cmd.Seq, len(res.Data), limit)
		res = Result{Status: packet.StatusExecutionError}
	}
	rsp, err := packet.NewResponse(cmd.Opcode, cmd.Seq, res.Status, res.Data).EncodeTo(d.pool)
	if err != nil {
		atomic.AddUint64(&d.responseDrops, 1)
		glog.V(1).Infof("drop response %#x seq %d: %v", cmd.Opcode, cmd.Seq, err)
		return err
	}
	if err = d.out.Enqueue(d.priority, rsp); err != nil {
		rsp.Release()
		atomic.AddUint64(&d.responseDrops, 1)
		glog.V(1).Infof("drop response %#x seq %d: %v", cmd.Opcode, cmd.Seq, err)
		return err
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Commands:      atomic.LoadUint64(&d.commands),
		Errors:        atomic.LoadUint64(&d.errors),
		Malformed:     atomic.LoadUint64(&d.malformed),
		ResponseDrops: atomic.LoadUint64(&d.responseDrops),
	}
}
