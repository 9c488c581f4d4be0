package topology

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/robotalks/comcore/pkg/bufpool"
	"github.com/robotalks/comcore/pkg/comqueue"
	fx "github.com/robotalks/comcore/pkg/framework"
	"github.com/robotalks/comcore/pkg/framing"
	"github.com/robotalks/comcore/pkg/transport"
)

// Traffic class names in the queue table.
const (
	ClassEvents    = "events"
	ClassResponses = "responses"
	ClassTelemetry = "telemetry"
)

// ErrInvalidConfig indicates the configuration can't be used.
var ErrInvalidConfig = errors.New("invalid topology config")

// FramingConfig describes the wire format.
type FramingConfig struct {
	// Sync is the sync pattern in hex.
	Sync        string `yaml:"sync"`
	LengthWidth int    `yaml:"length_width"`
	ByteOrder   string `yaml:"byte_order"`
	Checksum    string `yaml:"checksum"`
	MaxPayload  int    `yaml:"max_payload"`
}

// Protocol builds the framing protocol.
func (c FramingConfig) Protocol() (framing.Protocol, error) {
	var p framing.Protocol
	sync, err := hex.DecodeString(c.Sync)
	if err != nil {
		return p, fmt.Errorf("sync: %w", err)
	}
	order, err := framing.ByteOrderByName(c.ByteOrder)
	if err != nil {
		return p, err
	}
	sum, err := framing.ChecksumByName(c.Checksum)
	if err != nil {
		return p, err
	}
	p = framing.Protocol{
		Sync:        sync,
		LengthWidth: c.LengthWidth,
		ByteOrder:   order,
		Checksum:    sum,
		MaxPayload:  c.MaxPayload,
	}
	return p, p.Validate()
}

// RateGroupConfig configures one rate group.
type RateGroupConfig struct {
	Divisor uint32 `yaml:"divisor"`
	Offset  uint32 `yaml:"offset"`
	// Active runs the group on its own goroutine.
	Active bool `yaml:"active"`
}

// Divider converts to a driver divider.
func (c RateGroupConfig) Divider() fx.Divider {
	return fx.Divider{Divisor: c.Divisor, Offset: c.Offset}
}

// Config configures the device topology.
type Config struct {
	Device       string                `yaml:"device"`
	Serial       transport.PortOptions `yaml:"serial"`
	TickInterval time.Duration         `yaml:"tick_interval"`
	FireOnZero   bool                  `yaml:"fire_on_zero"`

	// Blink, Telemetry and Health are the three rate groups, in divider order.
	Blink     RateGroupConfig `yaml:"blink"`
	Telemetry RateGroupConfig `yaml:"telemetry"`
	Health    RateGroupConfig `yaml:"health"`

	// BlinkEvery is the number of blink group activations per LED toggle.
	BlinkEvery int `yaml:"blink_every"`

	Pool     []bufpool.BinConfig `yaml:"pool"`
	RecvPool []bufpool.BinConfig `yaml:"recv_pool"`
	Queue    []comqueue.Entry    `yaml:"queue"`
	Framing  FramingConfig       `yaml:"framing"`
}

var defaultConfig = Config{
	Device:       "/dev/ttyACM0",
	Serial:       transport.PortOptions{BaudRate: transport.DefaultBaudRate},
	TickInterval: fx.DefaultTickInterval,
	Blink:        RateGroupConfig{Divisor: 100},
	Telemetry:    RateGroupConfig{Divisor: 200, Active: true},
	Health:       RateGroupConfig{Divisor: 1000, Active: true},
	BlinkEvery:   5,
	Pool: []bufpool.BinConfig{
		{Size: 512, Count: 10},
		{Size: 64, Count: 16},
	},
	RecvPool: transport.DefaultRecvBins,
	Queue: []comqueue.Entry{
		{Name: ClassEvents, Priority: 0, Depth: 16},
		{Name: ClassResponses, Priority: 1, Depth: 8},
		{Name: ClassTelemetry, Priority: 2, Depth: 32},
	},
	Framing: FramingConfig{
		Sync:        "deadbeef",
		LengthWidth: 4,
		ByteOrder:   "big",
		Checksum:    framing.CRC32.Name(),
		MaxPayload:  500,
	},
}

// Overrides are settings from the environment and command line. They are
// applied on top of the configuration file.
type Overrides struct {
	ConfigFile string
	Device     string
	BaudRate   int
}

var overrides Overrides

func init() {
	overrides.ConfigFile = os.Getenv("COMCORE_CONFIG")
	overrides.Device = os.Getenv("COMCORE_DEVICE")
	if val := os.Getenv("COMCORE_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			overrides.BaudRate = baud
		}
	}
}

// SetupConfigFlag sets only the config file flag.
func SetupConfigFlag() {
	flag.StringVar(&overrides.ConfigFile, "config", overrides.ConfigFile, "Topology config file (YAML)")
}

// SetupFlags sets command line flags.
func SetupFlags() {
	SetupConfigFlag()
	flag.StringVar(&overrides.Device, "device", overrides.Device, "Serial device")
	flag.IntVar(&overrides.BaudRate, "baud", overrides.BaudRate, "Serial baud rate")
}

// Apply overlays non-empty overrides.
func (o Overrides) Apply(c *Config) {
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.BaudRate > 0 {
		c.Serial.BaudRate = o.BaudRate
	}
}

// Default returns a copy of the built-in defaults.
func Default() *Config {
	conf := defaultConfig
	conf.Pool = append([]bufpool.BinConfig(nil), defaultConfig.Pool...)
	conf.RecvPool = append([]bufpool.BinConfig(nil), defaultConfig.RecvPool...)
	conf.Queue = append([]comqueue.Entry(nil), defaultConfig.Queue...)
	return &conf
}

// LoadFile overlays a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	return c.LoadYAML(data)
}

// LoadYAML overlays YAML content. Tables present in data replace the
// defaults entirely.
func (c *Config) LoadYAML(data []byte) error {
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// NewConfig creates a Config from defaults, the config file, environment
// and flags, in that order.
func NewConfig() (*Config, error) {
	conf := Default()
	if overrides.ConfigFile != "" {
		if err := conf.LoadFile(overrides.ConfigFile); err != nil {
			return nil, err
		}
	}
	overrides.Apply(conf)
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// MustNewConfig creates a Config and fails on error.
func MustNewConfig() *Config {
	conf, err := NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	return conf
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := c.Serial.Normalize(); err != nil {
		return fmt.Errorf("%w: serial: %v", ErrInvalidConfig, err)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("%w: tick interval %v", ErrInvalidConfig, c.TickInterval)
	}
	for name, rg := range map[string]RateGroupConfig{"blink": c.Blink, "telemetry": c.Telemetry, "health": c.Health} {
		if err := rg.Divider().Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}
	if c.BlinkEvery < 1 {
		return fmt.Errorf("%w: blink_every %d", ErrInvalidConfig, c.BlinkEvery)
	}
	if _, err := bufpool.New(c.Pool); err != nil {
		return fmt.Errorf("%w: pool: %v", ErrInvalidConfig, err)
	}
	if _, err := bufpool.New(c.RecvPool); err != nil {
		return fmt.Errorf("%w: recv_pool: %v", ErrInvalidConfig, err)
	}
	if _, err := comqueue.New(c.Queue); err != nil {
		return fmt.Errorf("%w: queue: %v", ErrInvalidConfig, err)
	}
	for _, class := range []string{ClassEvents, ClassResponses, ClassTelemetry} {
		if _, err := c.Priority(class); err != nil {
			return err
		}
	}
	proto, err := c.Framing.Protocol()
	if err != nil {
		return fmt.Errorf("%w: framing: %v", ErrInvalidConfig, err)
	}
	var largest int
	for _, bin := range c.Pool {
		if bin.Size > largest {
			largest = bin.Size
		}
	}
	if size := proto.FrameSize(proto.MaxPayload); size > largest {
		return fmt.Errorf("%w: largest pool bin %d can't hold a %d-byte frame", ErrInvalidConfig, largest, size)
	}
	return nil
}

// Priority looks up the queue priority of a traffic class.
func (c *Config) Priority(class string) (int, error) {
	for _, e := range c.Queue {
		if e.Name == class {
			return e.Priority, nil
		}
	}
	return 0, fmt.Errorf("%w: no queue entry for %s", ErrInvalidConfig, class)
}
