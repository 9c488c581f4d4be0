package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/comcore/pkg/env"
	fx "github.com/robotalks/comcore/pkg/framework"
	"github.com/robotalks/comcore/pkg/ground"
	"github.com/robotalks/comcore/pkg/mqtt"
	"github.com/robotalks/comcore/pkg/topology"
)

var (
	mqttURL  = "mqtt://localhost:1883/comcore/"
	target   string
	deviceID string
	baudRate int
)

func init() {
	if val := os.Getenv("COMCORE_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&target, "serial", target, "Serial device, tcp://HOST:PORT or ws:// URL of the device link.")
	flag.IntVar(&baudRate, "baud", baudRate, "Serial baud rate.")
	flag.StringVar(&deviceID, "device", deviceID, "Device ID in topics, defaults to an ID derived from the machine ID.")
	topology.SetupConfigFlag()
}

func main() {
	flag.Parse()

	conf := topology.MustNewConfig()
	if target == "" {
		target = conf.Device
	}
	if baudRate > 0 {
		conf.Serial.BaudRate = baudRate
	}
	if deviceID == "" {
		hostname, _ := os.Hostname()
		deviceID = env.DeviceID("combridge", hostname)
	}
	proto, err := conf.Framing.Protocol()
	if err != nil {
		log.Fatalln(err)
	}

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if err := q.Connect(); err != nil {
		log.Fatalln(err)
	}
	defer q.Close()

	stream, err := ground.Open(target, conf.Serial)
	if err != nil {
		log.Fatalln(err)
	}
	defer stream.Close()
	link, err := ground.NewLink(proto, stream)
	if err != nil {
		log.Fatalln(err)
	}
	bridge := ground.NewBridge(ground.NewClient(link), deviceID, q, q)
	glog.Infof("bridging %s as %q to %s", target, deviceID, mqttURL)

	if err := fx.NewRunner().HandleSignals().Go(bridge).Wait(); err != nil {
		log.Fatalln(err)
	}
}
