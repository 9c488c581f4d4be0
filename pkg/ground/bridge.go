package ground

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/robotalks/comcore/pkg/mqtt"
	"github.com/robotalks/comcore/pkg/packet"
)

// Bridge topic suffixes under the device.
const (
	TopicTelemetry = "tlm"
	TopicEvents    = "evt"
	TopicCommands  = "cmd"
	TopicResponses = "rsp"
)

// Envelope is the JSON message published by a Bridge.
type Envelope struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlationID,omitempty"`
	Device        string    `json:"device"`
	Kind          string    `json:"kind"`
	Code          uint32    `json:"code"`
	Time          time.Time `json:"time,omitempty"`
	Severity      string    `json:"severity,omitempty"`
	Text          string    `json:"text,omitempty"`
	Status        string    `json:"status,omitempty"`
	Error         string    `json:"error,omitempty"`
	Data          []byte    `json:"data,omitempty"`
}

// CommandRequest is the JSON message accepted on the command topic.
type CommandRequest struct {
	ID     string `json:"id,omitempty"`
	Opcode uint32 `json:"opcode"`
	Args   []byte `json:"args,omitempty"`
}

// Bridge publishes device telemetry and events to MQTT and forwards
// commands from MQTT to the device.
type Bridge struct {
	Device     string
	Publisher  mqtt.Publisher
	Subscriber mqtt.Subscriber
	// NewID generates envelope IDs.
	NewID func() string

	client *Client
}

// NewBridge creates a Bridge for client. It takes over client.Monitor.
func NewBridge(client *Client, device string, pub mqtt.Publisher, sub mqtt.Subscriber) *Bridge {
	b := &Bridge{
		Device:     device,
		Publisher:  pub,
		Subscriber: sub,
		NewID:      uuid.NewString,
		client:     client,
	}
	client.Monitor = b
	return b
}

// Topic returns the topic of kind under the device.
func (b *Bridge) Topic(kind string) string {
	return b.Device + "/" + kind
}

// HandlePacket implements PacketHandler.
func (b *Bridge) HandlePacket(ctx context.Context, pkt *packet.Packet) {
	env := &Envelope{Kind: pkt.Type.String(), Code: pkt.ID, Time: pkt.Time}
	switch pkt.Type {
	case packet.TypeTelemetry:
		env.Data = pkt.Payload
		b.publish(TopicTelemetry, env)
	case packet.TypeLog:
		ev, err := pkt.Event()
		if err != nil {
			glog.Warningf("bridge: %v", err)
			return
		}
		env.Severity, env.Text = ev.Severity.String(), ev.Text
		b.publish(TopicEvents, env)
	default:
		glog.V(1).Infof("bridge: ignore %s", pkt)
	}
}

// HandleCommand executes a request and publishes its response.
func (b *Bridge) HandleCommand(ctx context.Context, req *CommandRequest) {
	if req.ID == "" {
		req.ID = b.NewID()
	}
	env := &Envelope{Kind: packet.TypeCommandResponse.String(), CorrelationID: req.ID, Code: req.Opcode}
	r, err := b.client.Call(ctx, req.Opcode, req.Args)
	if r.Err != nil {
		env.Error = r.Err.Error()
	} else {
		env.Status, env.Data = r.Status.String(), r.Data
		if err != nil {
			env.Error = err.Error()
		}
	}
	env.Time = time.Now()
	b.publish(TopicResponses, env)
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "ground.bridge"
}

// Run subscribes the command topic and serves the client until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	unsub, err := b.Subscriber.Subscribe(b.Topic(TopicCommands), func(topic string, payload []byte) {
		var req CommandRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			glog.Warningf("bridge: invalid command on %q: %v", topic, err)
			return
		}
		go b.HandleCommand(ctx, &req)
	})
	if err != nil {
		return err
	}
	defer unsub()
	return b.client.Run(ctx)
}

func (b *Bridge) publish(kind string, env *Envelope) {
	env.ID, env.Device = b.NewID(), b.Device
	data, err := json.Marshal(env)
	if err != nil {
		glog.Errorf("bridge: encode %s: %v", kind, err)
		return
	}
	if err := b.Publisher.Publish(b.Topic(kind), data); err != nil {
		glog.Warningf("bridge: publish %s: %v", kind, err)
	}
}
