package topology

import (
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/cmddisp"
	"github.com/robotalks/comcore/pkg/framing"
	"github.com/robotalks/comcore/pkg/gpio"
	"github.com/robotalks/comcore/pkg/packet"
)

type groundSide struct {
	conn      net.Conn
	proto     framing.Protocol
	responses chan *packet.Packet
	telemetry int32
	events    int32
}

func newGroundSide(conn net.Conn, proto framing.Protocol) *groundSide {
	g := &groundSide{conn: conn, proto: proto, responses: make(chan *packet.Packet, 16)}
	pool := bufpool.MustNew([]bufpool.BinConfig{{Size: 512, Count: 4}})
	deframer := framing.NewDeframer(proto, pool, bufpool.SinkFunc(func(ctx context.Context, b bufpool.Buffer) error {
		defer b.Release()
		pkt, err := packet.Decode(b.Bytes())
		if err != nil {
			return err
		}
		switch pkt.Type {
		case packet.TypeCommandResponse:
			g.responses <- pkt
		case packet.TypeTelemetry:
			atomic.AddInt32(&g.telemetry, 1)
		case packet.TypeLog:
			atomic.AddInt32(&g.events, 1)
		}
		return nil
	}))
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			deframer.Feed(context.Background(), buf[:n])
		}
	}()
	return g
}

func (g *groundSide) do(t *testing.T, opcode, seq uint32, args ...byte) (packet.Status, []byte) {
	data, err := packet.NewCommand(opcode, seq, args).Marshal()
	require.NoError(t, err)
	frame, err := g.proto.AppendFrame(nil, data)
	require.NoError(t, err)
	_, err = g.conn.Write(frame)
	require.NoError(t, err)
	select {
	case pkt := <-g.responses:
		require.Equal(t, seq, pkt.Seq)
		require.Equal(t, opcode, pkt.ID)
		status, data, err := pkt.Response()
		require.NoError(t, err)
		return status, data
	case <-time.After(5 * time.Second):
		t.Fatalf("no response for %#x", opcode)
	}
	return 0, nil
}

func TestTopologyRun(t *testing.T) {
	conf := Default()
	conf.Blink.Divisor, conf.BlinkEvery = 10, 2
	conf.Telemetry.Divisor = 50
	conf.Health.Divisor = 100

	local, peer := net.Pipe()
	defer peer.Close()
	defer local.Close()
	pin := &gpio.Pin{}
	topo, err := Setup(conf, local, pin)
	require.NoError(t, err)
	proto, err := conf.Framing.Protocol()
	require.NoError(t, err)
	ground := newGroundSide(peer, proto)
	require.Equal(t, proto.MaxPayload, topo.Dispatcher.MaxResponse)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- topo.Run(ctx) }()
	require.Eventually(t, topo.Adapter.Ready, 5*time.Second, time.Millisecond)

	status, data := ground.do(t, cmddisp.OpPing, 1, 'x')
	require.Equal(t, packet.StatusOK, status)
	require.Equal(t, []byte("x"), data)

	status, data = ground.do(t, cmddisp.OpStats, 2)
	require.Equal(t, packet.StatusOK, status)
	require.True(t, strings.HasPrefix(string(data), "pool bin 64:"), string(data))

	status, _ = ground.do(t, cmddisp.OpTodo, 3)
	require.Equal(t, packet.StatusNotImplemented, status)

	status, _ = ground.do(t, 0x99, 4)
	require.Equal(t, packet.StatusInvalidOpcode, status)

	status, _ = ground.do(t, OpBlinkEnable, 5, 7)
	require.Equal(t, packet.StatusFormatError, status)

	require.Eventually(t, func() bool {
		_, transitions := pin.State()
		return transitions > 0 && atomic.LoadInt32(&ground.telemetry) > 0 && atomic.LoadInt32(&ground.events) > 0
	}, 5*time.Second, time.Millisecond)

	status, _ = ground.do(t, OpBlinkEnable, 6, 0)
	require.Equal(t, packet.StatusOK, status)
	on, transitions := pin.State()
	require.False(t, on)
	time.Sleep(50 * time.Millisecond)
	_, after := pin.State()
	require.Equal(t, transitions, after)

	cancel()
	select {
	case err = <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("topology didn't stop")
	}
	require.NoError(t, topo.Teardown())
	require.NotZero(t, topo.RateDriver.Ticks())
	require.NotZero(t, topo.Groups[0].Activations())
}
