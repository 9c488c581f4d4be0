package cmddisp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/comqueue"
	"github.com/robotalks/comcore/pkg/packet"
)

const responsePriority = 1

type dispatcherTest struct {
	pool  *bufpool.Pool
	queue *comqueue.Queue
	disp  *Dispatcher
}

func newDispatcherTest(t *testing.T, depth int) *dispatcherTest {
	dt := &dispatcherTest{
		pool: bufpool.MustNew([]bufpool.BinConfig{{Size: 128, Count: 8}}),
		queue: comqueue.MustNew([]comqueue.Entry{
			{Name: "events", Priority: 0, Depth: 4},
			{Name: "responses", Priority: responsePriority, Depth: depth},
		}),
	}
	dt.disp = New(dt.pool, dt.queue, responsePriority)
	return dt
}

func (dt *dispatcherTest) send(t *testing.T, pkt *packet.Packet) error {
	b, err := pkt.EncodeTo(dt.pool)
	require.NoError(t, err)
	return dt.disp.SendBuffer(context.Background(), b)
}

func (dt *dispatcherTest) response(t *testing.T) (*packet.Packet, packet.Status, []byte) {
	b, ok := dt.queue.TryDequeue()
	require.True(t, ok)
	defer b.Release()
	pkt, err := packet.Decode(b.Bytes())
	require.NoError(t, err)
	status, data, err := pkt.Response()
	require.NoError(t, err)
	return pkt, status, data
}

func TestBuiltins(t *testing.T) {
	dt := newDispatcherTest(t, 8)
	require.NoError(t, RegisterBuiltins(dt.disp, StatsReporterFunc(func(context.Context) []string {
		return []string{"a=1", "b=2"}
	})))

	testCases := []struct {
		name   string
		opcode uint32
		args   []byte
		status packet.Status
		data   []byte
	}{
		{"no-op", OpNoOp, nil, packet.StatusOK, nil},
		{"ping", OpPing, []byte("hi"), packet.StatusOK, []byte("hi")},
		{"stats", OpStats, nil, packet.StatusOK, []byte("a=1\nb=2")},
		{"todo", OpTodo, nil, packet.StatusNotImplemented, nil},
		{"invalid", 0x7f, nil, packet.StatusInvalidOpcode, nil},
	}
	for n, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seq := uint32(100 + n)
			require.NoError(t, dt.send(t, packet.NewCommand(tc.opcode, seq, tc.args)))
			pkt, status, data := dt.response(t)
			require.Equal(t, tc.opcode, pkt.ID)
			require.Equal(t, seq, pkt.Seq)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.data, data)
		})
	}
	require.Zero(t, dt.pool.InUse())
	require.Equal(t, Stats{Commands: 5, Errors: 2}, dt.disp.Stats())

	regs := dt.disp.Registrations()
	require.Len(t, regs, 4)
	require.Equal(t, "TODO", regs[3].Name)
	require.True(t, errors.Is(dt.disp.Register(OpPing, "PING2", NotImplementedHandler), ErrDuplicateOpcode))
}

func TestStatsWithoutReporter(t *testing.T) {
	dt := newDispatcherTest(t, 1)
	require.NoError(t, RegisterBuiltins(dt.disp, nil))
	res := dt.disp.Dispatch(context.Background(), &Command{Opcode: OpStats})
	require.Equal(t, NotImplemented, res)
}

func TestResponseCapacity(t *testing.T) {
	testCases := []struct {
		name   string
		max    int
		opcode uint32
		seq    uint32
	}{
		{"small", 40, OpStats, 1},
		{"below prefix growth", 127, OpStats, 0x7f},
		{"across prefix growth", 140, OpStats, 0x80},
		{"default payload", 500, 0x3fff, 0xffffffff},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := &Dispatcher{MaxResponse: tc.max}
			cmd := &Command{Opcode: tc.opcode, Seq: tc.seq}
			n := d.ResponseCapacity(cmd)
			require.True(t, n > 0)
			fit, err := packet.NewResponse(tc.opcode, tc.seq, packet.StatusOK, make([]byte, n)).Marshal()
			require.NoError(t, err)
			require.True(t, len(fit) <= tc.max, "%d > %d", len(fit), tc.max)
			over, err := packet.NewResponse(tc.opcode, tc.seq, packet.StatusOK, make([]byte, n+1)).Marshal()
			require.NoError(t, err)
			require.True(t, len(over) > tc.max, "%d <= %d", len(over), tc.max)
		})
	}
	require.Equal(t, -1, (&Dispatcher{}).ResponseCapacity(&Command{}))
}

func TestStatsFitsResponse(t *testing.T) {
	dt := newDispatcherTest(t, 4)
	dt.disp.MaxResponse = 100
	var lines []string
	for n := 0; n < 20; n++ {
		lines = append(lines, fmt.Sprintf("counter %02d: %d", n, uint64(math.MaxUint64)))
	}
	require.NoError(t, RegisterBuiltins(dt.disp, StatsReporterFunc(func(context.Context) []string {
		return lines
	})))

	require.NoError(t, dt.send(t, packet.NewCommand(OpStats, 0xffffffff, nil)))
	b, ok := dt.queue.TryDequeue()
	require.True(t, ok)
	require.True(t, b.Len() <= dt.disp.MaxResponse, "%d bytes", b.Len())
	pkt, err := packet.Decode(b.Bytes())
	b.Release()
	require.NoError(t, err)
	status, data, err := pkt.Response()
	require.NoError(t, err)
	require.Equal(t, packet.StatusOK, status)
	require.NotEmpty(t, data)
	full := strings.Join(lines, "\n")
	require.True(t, strings.HasPrefix(full, string(data)))
	require.Equal(t, byte('\n'), full[len(data)])

	require.NoError(t, dt.disp.Register(0x30, "DUMP", HandlerFunc(func(context.Context, *Command) Result {
		return OK(make([]byte, 120))
	})))
	require.NoError(t, dt.send(t, packet.NewCommand(0x30, 2, nil)))
	_, status, data = dt.response(t)
	require.Equal(t, packet.StatusExecutionError, status)
	require.Empty(t, data)
	require.Zero(t, dt.pool.InUse())
	require.Equal(t, Stats{Commands: 2, Errors: 1}, dt.disp.Stats())
}

func TestHandlerResults(t *testing.T) {
	dt := newDispatcherTest(t, 4)
	require.NoError(t, dt.disp.Register(0x20, "FAIL", HandlerFunc(func(context.Context, *Command) Result {
		return Failed(errors.New("boom"))
	})))
	require.NoError(t, dt.disp.Register(0x21, "ARGS", HandlerFunc(func(ctx context.Context, cmd *Command) Result {
		if len(cmd.Args) != 2 {
			return Result{Status: packet.StatusFormatError}
		}
		return OK(nil)
	})))
	require.NoError(t, dt.send(t, packet.NewCommand(0x20, 1, nil)))
	_, status, data := dt.response(t)
	require.Equal(t, packet.StatusExecutionError, status)
	require.Equal(t, []byte("boom"), data)

	require.NoError(t, dt.send(t, packet.NewCommand(0x21, 2, []byte{1})))
	_, status, _ = dt.response(t)
	require.Equal(t, packet.StatusFormatError, status)
}

func TestMalformedAndDrops(t *testing.T) {
	dt := newDispatcherTest(t, 1)
	require.NoError(t, RegisterBuiltins(dt.disp, nil))

	b, err := dt.pool.Allocate(2)
	require.NoError(t, err)
	copy(b.Bytes(), []byte{0xff, 0xff})
	require.True(t, errors.Is(dt.disp.SendBuffer(context.Background(), b), packet.ErrMalformed))

	tlm := &packet.Telemetry{Channel: 1, Value: []byte{1}}
	require.True(t, errors.Is(dt.send(t, tlm.Packet()), packet.ErrMalformed))

	require.NoError(t, dt.send(t, packet.NewCommand(OpNoOp, 1, nil)))
	require.True(t, errors.Is(dt.send(t, packet.NewCommand(OpNoOp, 2, nil)), comqueue.ErrQueueFull))
	require.Equal(t, 1, dt.pool.InUse())
	require.Equal(t, Stats{Commands: 2, Malformed: 2, ResponseDrops: 1}, dt.disp.Stats())
}

func TestForwarder(t *testing.T) {
	dt := newDispatcherTest(t, 4)
	require.NoError(t, RegisterBuiltins(dt.disp, nil))
	type status struct {
		opcode, seq uint32
		status      packet.Status
	}
	var got []status
	fwd := NewForwarder(dt.disp, func(opcode, seq uint32, s packet.Status) {
		got = append(got, status{opcode, seq, s})
	})
	fwd.Attach(dt.disp)

	for n, op := range []uint32{OpPing, OpTodo} {
		b, err := packet.NewCommand(op, uint32(n+1), nil).EncodeTo(dt.pool)
		require.NoError(t, err)
		require.NoError(t, fwd.SendBuffer(context.Background(), b))
	}
	require.Equal(t, []status{
		{OpPing, 1, packet.StatusOK},
		{OpTodo, 2, packet.StatusNotImplemented},
	}, got)
	forwarded, completed := fwd.Counts()
	require.Equal(t, uint64(2), forwarded)
	require.Equal(t, uint64(2), completed)
	require.Equal(t, 2, dt.queue.Len())
	dt.queue.Flush(func(b bufpool.Buffer) { b.Release() })
	require.Zero(t, dt.pool.InUse())
}
