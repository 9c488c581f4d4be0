package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"io"
	"io/ioutil"
	"log"
	"net"
	"net/http"

	"github.com/golang/glog"

	fx "github.com/robotalks/comcore/pkg/framework"
	"github.com/robotalks/comcore/pkg/gpio"
	"github.com/robotalks/comcore/pkg/topology"
	"github.com/robotalks/comcore/pkg/transport"
)

var (
	ledPath    string
	listenAddr string
)

func init() {
	topology.SetupFlags()
	flag.StringVar(&ledPath, "led", ledPath, "LED brightness file, e.g. /sys/class/leds/led0/brightness.")
	flag.StringVar(&listenAddr, "ws", listenAddr, "Serve a simulated link over websocket on this address instead of the serial port.")
}

func ledOutput() gpio.DigitalOutput {
	if ledPath == "" {
		return gpio.DigitalOutputFunc(func(on bool) error {
			glog.V(2).Infof("LED %v", on)
			return nil
		})
	}
	return gpio.DigitalOutputFunc(func(on bool) error {
		val := []byte("0")
		if on {
			val = []byte("1")
		}
		return ioutil.WriteFile(ledPath, val, 0644)
	})
}

func runTopology(ctx context.Context, conf *topology.Config, link io.ReadWriter) error {
	topo, err := topology.Setup(conf, link, ledOutput())
	if err != nil {
		return err
	}
	err = topo.Run(ctx)
	if terr := topo.Teardown(); terr != nil {
		glog.Warning(terr)
	}
	return err
}

func serveSerial(ctx context.Context, conf *topology.Config) error {
	port, err := transport.OpenSerial(conf.Device, conf.Serial)
	if err != nil {
		return err
	}
	defer port.Close()
	glog.Infof("serving %s %s", conf.Device, conf.Serial)
	return runTopology(ctx, conf, port)
}

func serveWebsocket(ctx context.Context, conf *topology.Config) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	connCh := make(chan struct{}, 1)
	handler := transport.WebsocketHandler(func(conn io.ReadWriteCloser) {
		select {
		case connCh <- struct{}{}:
			defer func() { <-connCh }()
		default:
			glog.Warning("link busy, reject connection")
			conn.Close()
			return
		}
		glog.Info("link connected")
		connCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		err := fx.RunWithContextCloser(connCtx, conn, func() error {
			return runTopology(connCtx, conf, conn)
		})
		glog.Infof("link disconnected: %v", err)
	})
	glog.Infof("serving websocket link on %s", ln.Addr())
	server := &http.Server{Handler: handler}
	return fx.RunWithContextCancel(ctx, func() { server.Close() }, func() error {
		return server.Serve(ln)
	})
}

func main() {
	flag.Parse()
	conf := topology.MustNewConfig()

	serve := serveSerial
	if listenAddr != "" {
		serve = serveWebsocket
	}
	r := fx.NewRunner().HandleSignals()
	err := r.Go(fx.NamedRun("comcored", fx.RunFunc(func(ctx context.Context) error {
		return serve(ctx, conf)
	}))).Wait()
	if err != nil {
		log.Fatalln(err)
	}
}
