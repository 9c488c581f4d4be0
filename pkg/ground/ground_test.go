package ground

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/comcore/pkg/cmddisp"
	"github.com/robotalks/comcore/pkg/framing"
	"github.com/robotalks/comcore/pkg/gpio"
	"github.com/robotalks/comcore/pkg/mqtt"
	"github.com/robotalks/comcore/pkg/packet"
	"github.com/robotalks/comcore/pkg/topology"
	"github.com/robotalks/comcore/pkg/transport"
)

type device struct {
	topo   *topology.Topology
	local  net.Conn
	peer   net.Conn
	cancel context.CancelFunc
	doneCh chan struct{}
}

func startDevice(t *testing.T) *device {
	conf := topology.Default()
	conf.Telemetry.Divisor = 20
	local, peer := net.Pipe()
	topo, err := topology.Setup(conf, local, &gpio.Pin{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	d := &device{topo: topo, local: local, peer: peer, cancel: cancel, doneCh: make(chan struct{})}
	go func() {
		defer close(d.doneCh)
		topo.Run(ctx)
	}()
	require.Eventually(t, topo.Adapter.Ready, 5*time.Second, time.Millisecond)
	return d
}

func (d *device) stop(t *testing.T) {
	d.cancel()
	d.peer.Close()
	select {
	case <-d.doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("device didn't stop")
	}
	d.local.Close()
}

func startClient(t *testing.T, rw io.ReadWriter, monitor PacketHandler) (*Client, context.CancelFunc) {
	link, err := NewLink(framing.DefaultProtocol, rw)
	require.NoError(t, err)
	client := NewClient(link)
	client.Monitor = monitor
	ctx, cancel := context.WithCancel(context.Background())
	go client.Run(ctx)
	require.Eventually(t, link.Ready, 5*time.Second, time.Millisecond)
	return client, cancel
}

func TestHexDump(t *testing.T) {
	out := HexDump([]byte("0123456789abcdefXY"))
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "00000000  30 31 32 33 34 35 36 37  38 39 61 62 63 64 65 66  |0123456789abcdef|", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "00000010  58 59 "))
	require.True(t, strings.HasSuffix(lines[1], "|XY|"))

	var buf bytes.Buffer
	m := NewMonitor(&buf)
	m.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	m.Tap(Outbound, []byte{0xde, 0xad, '!'})
	require.True(t, strings.HasPrefix(buf.String(), "12:00:00.000 TX 3 bytes\n00000000  de ad 21 "), buf.String())
	require.True(t, strings.HasSuffix(buf.String(), "|..!|\n"))
}

func TestClientWithDevice(t *testing.T) {
	dev := startDevice(t)
	defer dev.stop(t)
	var telemetry, events int32
	client, cancel := startClient(t, dev.peer, PacketHandlerFunc(func(ctx context.Context, pkt *packet.Packet) {
		switch pkt.Type {
		case packet.TypeTelemetry:
			atomic.AddInt32(&telemetry, 1)
		case packet.TypeLog:
			atomic.AddInt32(&events, 1)
		}
	}))
	defer cancel()

	var taps int32
	client.Link().SetTap(func(dir Direction, data []byte) {
		atomic.AddInt32(&taps, 1)
	})

	ctx := context.Background()
	r, err := client.Call(ctx, cmddisp.OpPing, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, packet.StatusOK, r.Status)
	require.Equal(t, []byte("hi"), r.Data)

	_, err = client.Call(ctx, 0x99, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, packet.StatusInvalidOpcode, statusErr.Status)

	r, err = client.Call(ctx, cmddisp.OpStats, nil)
	require.NoError(t, err)
	require.Contains(t, string(r.Data), "pool bin 64:")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&telemetry) > 0 && atomic.LoadInt32(&events) > 0
	}, 5*time.Second, time.Millisecond)
	require.NotZero(t, atomic.LoadInt32(&taps))
	require.Zero(t, client.Pending())
	stats := client.Link().Stats()
	require.NotZero(t, stats.Deframer.Frames)
	require.Equal(t, uint64(3), stats.Framer.Frames)
	require.Zero(t, stats.Malformed)
}

func TestClientExpiration(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()
	defer local.Close()
	go io.Copy(io.Discard, peer)

	link, err := NewLink(framing.DefaultProtocol, local)
	require.NoError(t, err)
	client := NewClient(link)
	client.Expiration = 20 * time.Millisecond

	cmd := client.Do(context.Background(), cmddisp.OpPing, nil)
	r := cmd.Wait(context.Background())
	require.True(t, errors.Is(r.Err, transport.ErrNotReady))
	require.Zero(t, client.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)
	require.Eventually(t, link.Ready, 5*time.Second, time.Millisecond)

	cmd = client.Do(context.Background(), cmddisp.OpPing, nil)
	require.Equal(t, 1, client.Pending())
	select {
	case r = <-cmd.ResultChan():
		require.True(t, errors.Is(r.Err, context.DeadlineExceeded))
	case <-time.After(5 * time.Second):
		t.Fatal("command didn't expire")
	}
	require.Zero(t, client.Pending())
}

func TestClientUnexpectedResponse(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()
	defer local.Close()
	link, err := NewLink(framing.DefaultProtocol, local)
	require.NoError(t, err)
	client := NewClient(link)
	client.HandlePacket(context.Background(), packet.NewResponse(cmddisp.OpPing, 42, packet.StatusOK, nil))
	require.Equal(t, 0, client.PurgeExpired(time.Now()))
}

type fakeBroker struct {
	lock      sync.Mutex
	published map[string][][]byte
	handlers  map[string]mqtt.Handler
}

func (b *fakeBroker) Publish(topic string, payload []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

func (b *fakeBroker) Subscribe(topic string, handler mqtt.Handler) (func() error, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string]mqtt.Handler)
	}
	b.handlers[topic] = handler
	return func() error {
		b.lock.Lock()
		defer b.lock.Unlock()
		delete(b.handlers, topic)
		return nil
	}, nil
}

func (b *fakeBroker) handler(topic string) mqtt.Handler {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.handlers[topic]
}

func (b *fakeBroker) envelopes(topic string) []*Envelope {
	b.lock.Lock()
	defer b.lock.Unlock()
	var envs []*Envelope
	for _, data := range b.published[topic] {
		var env Envelope
		if err := json.Unmarshal(data, &env); err == nil {
			envs = append(envs, &env)
		}
	}
	return envs
}

func TestBridge(t *testing.T) {
	dev := startDevice(t)
	defer dev.stop(t)

	link, err := NewLink(framing.DefaultProtocol, dev.peer)
	require.NoError(t, err)
	client := NewClient(link)
	broker := &fakeBroker{}
	bridge := NewBridge(client, "dev1", broker, broker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	require.Eventually(t, func() bool {
		return link.Ready() && broker.handler("dev1/cmd") != nil
	}, 5*time.Second, time.Millisecond)

	req, err := json.Marshal(&CommandRequest{ID: "req-1", Opcode: cmddisp.OpPing, Args: []byte("hi")})
	require.NoError(t, err)
	broker.handler("dev1/cmd")("dev1/cmd", req)
	broker.handler("dev1/cmd")("dev1/cmd", []byte("not json"))

	require.Eventually(t, func() bool {
		return len(broker.envelopes("dev1/rsp")) > 0 &&
			len(broker.envelopes("dev1/tlm")) > 0 &&
			len(broker.envelopes("dev1/evt")) > 0
	}, 5*time.Second, time.Millisecond)

	rsp := broker.envelopes("dev1/rsp")[0]
	require.Equal(t, "req-1", rsp.CorrelationID)
	require.Equal(t, "OK", rsp.Status)
	require.Equal(t, []byte("hi"), rsp.Data)
	require.Empty(t, rsp.Error)
	_, err = uuid.Parse(rsp.ID)
	require.NoError(t, err)

	evt := broker.envelopes("dev1/evt")[0]
	require.Equal(t, "dev1", evt.Device)
	require.Equal(t, "evt", evt.Kind)
	require.NotEmpty(t, evt.Severity)
	require.NotEmpty(t, evt.Text)

	tlm := broker.envelopes("dev1/tlm")[0]
	require.Equal(t, "tlm", tlm.Kind)
	require.NotEmpty(t, tlm.Data)
}

func TestOpenTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	conn, err := Open("tcp://"+ln.Addr().String(), transport.PortOptions{})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("echo"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, []byte("echo"), buf)
}
