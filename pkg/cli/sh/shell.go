// Package sh provides the interactive ground shell.
package sh

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/comcore/pkg/cmddisp"
	"github.com/robotalks/comcore/pkg/ground"
	"github.com/robotalks/comcore/pkg/packet"
	"github.com/robotalks/comcore/pkg/topology"
	"github.com/robotalks/comcore/pkg/transport"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	Timeout     time.Duration

	Shell  *ishell.Shell
	Config *topology.Config
	Conn   *Conn
}

// Conn is a connected device.
type Conn struct {
	Target string
	Cancel func()
	Stream io.Closer
	Client *ground.Client

	monitor int32
}

// Monitor modes.
const (
	MonitorOff int32 = iota
	MonitorPackets
	MonitorHex
)

// ErrNotConnected indicates the command requires a connection.
var ErrNotConnected = errors.New("not connected")

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	timeout    = time.Second

	// commands
	commands = []*ishell.Cmd{
		&PortsCmd,
		&ConnectCmd,
		&DisconnectCmd,
		&PingCmd,
		&CmdCmd,
		&StatsCmd,
		&MonitorCmd,
	}
)

// SetupFlags sets command line flags.
func SetupFlags() {
	topology.SetupFlags()
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.DurationVar(&timeout, "timeout", timeout, "Command timeout.")
}

// New creates a new shell.
func New(conf *topology.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     timeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(ErrNotConnected)
			return
		}
		fn(c)
	}
}

// ParseOpcode parses a decimal, 0x hex or 0 octal opcode.
func ParseOpcode(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid opcode %q", s)
	}
	return uint32(v), nil
}

// ParseArgs decodes command arguments given as hex bytes, e.g. "01 ff" or
// "01ff".
func ParseArgs(args []string) ([]byte, error) {
	data, err := hex.DecodeString(strings.Join(args, ""))
	if err != nil {
		return nil, fmt.Errorf("invalid args: %v", err)
	}
	return data, nil
}

type jsonResult struct {
	Status string `json:"status"`
	Data   []byte `json:"data,omitempty"`
}

// FormatResult formats the result of a command.
func FormatResult(r ground.Result, asJSON bool) (string, error) {
	if asJSON {
		out, err := json.Marshal(&jsonResult{Status: r.Status.String(), Data: r.Data})
		return string(out), err
	}
	if len(r.Data) == 0 {
		return r.Status.String(), nil
	}
	return fmt.Sprintf("%s %q", r.Status, r.Data), nil
}

// FormatPacket formats telemetry and events for display.
func FormatPacket(pkt *packet.Packet) string {
	ts := pkt.Time.Format("15:04:05.000")
	switch pkt.Type {
	case packet.TypeLog:
		if ev, err := pkt.Event(); err == nil {
			return fmt.Sprintf("%s evt %#x %s: %s", ts, ev.ID, ev.Severity, ev.Text)
		}
	case packet.TypeTelemetry:
		return fmt.Sprintf("%s tlm %#x % x", ts, pkt.ID, pkt.Payload)
	}
	return fmt.Sprintf("%s %s", ts, pkt)
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect opens target and starts a client on it.
func (s *Shell) Connect(target string) error {
	stream, err := ground.Open(target, s.Config.Serial)
	if err != nil {
		return err
	}
	if err := s.ConnectStream(target, stream); err != nil {
		stream.Close()
		return err
	}
	return nil
}

// ConnectStream starts a client on an opened stream.
func (s *Shell) ConnectStream(target string, stream io.ReadWriteCloser) error {
	proto, err := s.Config.Framing.Protocol()
	if err != nil {
		return err
	}
	link, err := ground.NewLink(proto, stream)
	if err != nil {
		return err
	}
	conn := &Conn{Target: target, Stream: stream, Client: ground.NewClient(link)}
	conn.Client.Expiration = s.Timeout
	conn.Client.Monitor = ground.PacketHandlerFunc(func(ctx context.Context, pkt *packet.Packet) {
		if atomic.LoadInt32(&conn.monitor) != MonitorOff {
			s.Shell.Println(FormatPacket(pkt))
		}
	})
	var ctx context.Context
	ctx, conn.Cancel = context.WithCancel(context.Background())
	s.Disconnect()
	s.Conn = conn
	go func() {
		if err := conn.Client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Shell.Printf("%s: %v\n", target, err)
		}
	}()
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", target))
	return nil
}

// Disconnect disconnects current device.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Cancel()
		s.Conn.Stream.Close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// SetMonitor sets the monitor mode of the connection.
func (s *Shell) SetMonitor(mode int32) error {
	if s.Conn == nil {
		return ErrNotConnected
	}
	atomic.StoreInt32(&s.Conn.monitor, mode)
	link := s.Conn.Client.Link()
	if mode == MonitorHex {
		link.SetTap(ground.NewMonitor(os.Stdout).Tap)
	} else {
		link.SetTap(nil)
	}
	return nil
}

// Do runs a command and waits for result.
func (s *Shell) Do(opcode uint32, args []byte) (ground.Result, error) {
	if s.Conn == nil {
		return ground.Result{}, ErrNotConnected
	}
	r := s.Conn.Client.Do(context.Background(), opcode, args).Wait(context.Background())
	return r, r.Err
}

// DoCommand runs a command and prints the result.
func DoCommand(c *ishell.Context, opcode uint32, args []byte) {
	s := ShellFrom(c)
	r, err := s.Do(opcode, args)
	if err != nil {
		c.Err(err)
		return
	}
	out, err := FormatResult(r, s.OutputJSON)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(out)
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.Device != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Device)
		}
		if err := s.Connect(s.Config.Device); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Device, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			ports, err := transport.ListPorts()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if ports == nil {
					ports = []string{}
				}
				out, err := json.Marshal(ports)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(ports) == 0 {
				c.Println("No serial ports found")
				return
			}
			for _, port := range ports {
				c.Println(port)
			}
		},
	}

	// ConnectCmd connects a device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[DEVICE|tcp://HOST:PORT|ws://URL]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			target := s.Config.Device
			if len(c.Args) > 0 {
				target = c.Args[0]
			}
			if err := s.Connect(target); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current device.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// PingCmd sends PING.
	PingCmd = ishell.Cmd{
		Name: "ping",
		Help: "[TEXT]",
		Func: MustBeConnected(func(c *ishell.Context) {
			start := time.Now()
			DoCommand(c, cmddisp.OpPing, []byte(strings.Join(c.Args, " ")))
			c.Printf("%v\n", time.Since(start))
		}),
	}

	// CmdCmd sends a raw command.
	CmdCmd = ishell.Cmd{
		Name: "cmd",
		Help: "OPCODE [HEX-ARGS]",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(errors.New("opcode expected"))
				return
			}
			opcode, err := ParseOpcode(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			args, err := ParseArgs(c.Args[1:])
			if err != nil {
				c.Err(err)
				return
			}
			DoCommand(c, opcode, args)
		}),
	}

	// StatsCmd prints device and link statistics.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			r, err := s.Do(cmddisp.OpStats, nil)
			if err != nil {
				c.Err(err)
				return
			}
			if r.Status != packet.StatusOK {
				c.Println(r.Status.String())
			} else {
				c.Print(string(r.Data))
				if !strings.HasSuffix(string(r.Data), "\n") {
					c.Println()
				}
			}
			st := s.Conn.Client.Link().Stats()
			c.Printf("ground: frames rx=%d tx=%d checksum=%d discarded=%d malformed=%d\n",
				st.Deframer.Frames, st.Framer.Frames, st.Deframer.ChecksumErrors, st.Deframer.Discarded, st.Malformed)
		}),
	}

	// MonitorCmd switches printing of telemetry and events.
	MonitorCmd = ishell.Cmd{
		Name:    "monitor",
		Aliases: []string{"m"},
		Help:    "on|off|hex",
		Func: MustBeConnected(func(c *ishell.Context) {
			mode := MonitorPackets
			if len(c.Args) > 0 {
				switch c.Args[0] {
				case "on":
				case "off":
					mode = MonitorOff
				case "hex":
					mode = MonitorHex
				default:
					c.Err(fmt.Errorf("unknown monitor mode %q", c.Args[0]))
					return
				}
			}
			if err := ShellFrom(c).SetMonitor(mode); err != nil {
				c.Err(err)
			}
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	SetupFlags()
	flag.Parse()
	New(topology.MustNewConfig()).WithAutoConnect(len(flag.Args()) > 0).Run(flag.Args()...)
}
