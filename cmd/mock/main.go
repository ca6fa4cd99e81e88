package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/httpblinds"
	"github.com/hubertat/httpblinds/api"
	"github.com/hubertat/httpblinds/drivers"
)

var (
	Version string
	Build   string

	deviceAddr = flag.String("device", "127.0.0.1:8090", "address of the mocked blind http api")
	apiPort    = flag.Int("api", 8091, "port of the bridge status api, 0 disables it")
	stepEvery  = flag.Duration("step", 500*time.Millisecond, "how often the mocked blind moves one step")
	noise      = flag.Int("noise", 2, "maximum reading error of the mocked blind")
)

func main() {
	flag.Parse()
	log.SetLevel(log.DebugLevel)

	log.Info("httpblinds mock started", "version", Version)
	log.Info("mock instance for testing purposes, should work on MacOs")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := drivers.NewMockDevice(100)
	mock.Noise = *noise
	mock.Battery = 18
	mock.MonitorStateChanges(os.Stdout)
	go mock.Run(ctx, *stepEvery)

	listener, err := net.Listen("tcp", *deviceAddr)
	if err != nil {
		log.Fatal("mock device failed to listen", "err", err)
	}
	go func() {
		err := http.Serve(listener, mock.Handler())
		log.Error("mock device stopped", "err", err)
	}()

	base := "http://" + listener.Addr().String()
	blind := &httpblinds.Blind{
		Name:                            "mock blind",
		GetCurrentPositionUrl:           base + "/position",
		SetTargetPositionUrl:            base + "/position/%position%",
		GetCurrentPositionPollingMillis: 1000,
		CurrentPositionTolerance:        *noise,
		GetBatteryLevelUrl:              base + "/battery",
	}
	if *apiPort > 0 {
		blind.Api = &api.Config{Host: "127.0.0.1", Port: *apiPort}
	}

	hb := &httpblinds.HttpBlinds{
		Name:        "httpblinds mock",
		HkPin:       "88008800",
		HkDirectory: "./mock_homekit",
		Blinds:      []*httpblinds.Blind{blind},
	}

	log.Info("will init blinds...")
	err = hb.Init()
	defer hb.Close()
	if err != nil {
		log.Fatal(err)
	}

	err = hb.Start(ctx)
	if err != nil {
		log.Fatal(err)
	}
	hb.PrintStatus(os.Stdout)

	log.Info("starting mock with HomeKit service")
	log.Fatal(hb.StartHomeKit(ctx, "mock: "+Version))
}
