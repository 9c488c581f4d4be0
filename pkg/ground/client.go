package ground

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/packet"
)

// DefaultCommandExpiration is the default expiration expecting a response.
const DefaultCommandExpiration = 1 * time.Second

// Result is the result of a command.
type Result struct {
	Status packet.Status
	Data   []byte
	Err    error
}

// StatusError is a response with a status other than OK.
type StatusError struct {
	Opcode uint32
	Status packet.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("command %#x: %s", e.Opcode, e.Status)
}

// Command is a pending command waiting for its response.
type Command struct {
	Opcode uint32
	Seq    uint32

	expireAt time.Time
	elem     *list.Element
	resultCh chan Result
}

// ResultChan returns the chan to retrieve result. It receives exactly once.
func (c *Command) ResultChan() <-chan Result {
	return c.resultCh
}

// Wait waits for the result or ctx.
func (c *Command) Wait(ctx context.Context) Result {
	select {
	case r := <-c.resultCh:
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Client sends commands over a Link and correlates responses by sequence.
type Client struct {
	Expiration time.Duration
	// Monitor receives telemetry and events.
	Monitor PacketHandler

	link     *Link
	seq      uint32
	commands list.List
	seqMap   map[uint32]*Command
	lock     sync.Mutex
}

// NewClient creates a client and takes over the handler of link.
func NewClient(link *Link) *Client {
	c := &Client{
		Expiration: DefaultCommandExpiration,
		link:       link,
		seqMap:     make(map[uint32]*Command),
	}
	link.Handler = c
	return c
}

// Link returns the wrapped Link.
func (c *Client) Link() *Link {
	return c.link
}

// Do sends a command and returns a Command for the result.
func (c *Client) Do(ctx context.Context, opcode uint32, args []byte) *Command {
	c.lock.Lock()
	c.seq++
	if c.seq == 0 {
		c.seq++
	}
	cmd := &Command{
		Opcode:   opcode,
		Seq:      c.seq,
		expireAt: time.Now().Add(c.Expiration),
		resultCh: make(chan Result, 1),
	}
	cmd.elem = c.commands.PushBack(cmd)
	c.seqMap[cmd.Seq] = cmd
	c.lock.Unlock()

	if err := c.link.Send(ctx, packet.NewCommand(opcode, cmd.Seq, args)); err != nil {
		c.complete(cmd.Seq, Result{Err: err})
	}
	return cmd
}

// Call is Do followed by Wait. A status other than OK is returned as
// *StatusError along with the result.
func (c *Client) Call(ctx context.Context, opcode uint32, args []byte) (Result, error) {
	r := c.Do(ctx, opcode, args).Wait(ctx)
	if r.Err != nil {
		return r, r.Err
	}
	if r.Status != packet.StatusOK {
		return r, &StatusError{Opcode: opcode, Status: r.Status}
	}
	return r, nil
}

// Pending returns the number of commands waiting for responses.
func (c *Client) Pending() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.commands.Len()
}

// HandlePacket implements PacketHandler.
func (c *Client) HandlePacket(ctx context.Context, pkt *packet.Packet) {
	if pkt.Type != packet.TypeCommandResponse {
		if m := c.Monitor; m != nil {
			m.HandlePacket(ctx, pkt)
		}
		return
	}
	status, data, err := pkt.Response()
	if err != nil {
		glog.Warningf("ground: seq %d: %v", pkt.Seq, err)
		c.complete(pkt.Seq, Result{Err: err})
		return
	}
	if !c.complete(pkt.Seq, Result{Status: status, Data: data}) {
		glog.V(1).Infof("ground: unexpected response seq %d", pkt.Seq)
	}
}

// PurgeExpired fails commands expired at now with context.DeadlineExceeded.
func (c *Client) PurgeExpired(now time.Time) int {
	var expired []*Command
	c.lock.Lock()
	for c.commands.Len() > 0 {
		elem := c.commands.Front()
		cmd := elem.Value.(*Command)
		if cmd.expireAt.After(now) {
			break
		}
		c.commands.Remove(elem)
		delete(c.seqMap, cmd.Seq)
		expired = append(expired, cmd)
	}
	c.lock.Unlock()
	for _, cmd := range expired {
		cmd.resultCh <- Result{Err: context.DeadlineExceeded}
	}
	return len(expired)
}

// Name implements framework.Named.
func (c *Client) Name() string {
	return "ground.client"
}

// Run serves the link and purges expired commands.
func (c *Client) Run(ctx context.Context) error {
	interval := c.Expiration / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.link.Run(ctx)
	}()
	for {
		select {
		case err := <-errCh:
			c.PurgeExpired(time.Now().Add(c.Expiration))
			return err
		case now := <-ticker.C:
			c.PurgeExpired(now)
		}
	}
}

func (c *Client) complete(seq uint32, r Result) bool {
	c.lock.Lock()
	cmd := c.seqMap[seq]
	if cmd != nil {
		c.commands.Remove(cmd.elem)
		delete(c.seqMap, seq)
	}
	c.lock.Unlock()
	if cmd == nil {
		return false
	}
	cmd.resultCh <- r
	return true
}
