package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"
	"github.com/urfave/cli/v2"

	"github.com/hubertat/httpblinds"
)

var (
	Version string
	Build   string

	hbService = servicemaker.ServiceMaker{
		User:               "httpblinds",
		UserGroups:         []string{},
		ServicePath:        "/etc/systemd/system/httpblinds.service",
		ServiceDescription: "httpblinds service: HomeKit bridge for http controlled window blinds. github.com/hubertat/httpblinds",
		ExecDir:            "/srv/httpblinds",
		ExecName:           "httpblinds",
	}
)

func run(c *cli.Context) error {
	level, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return cli.Exit(err, 2)
	}
	log.SetLevel(level)
	log.Info("httpblinds started", "version", Version, "build", Build)

	if c.Bool("install") {
		err := hbService.InstallService()
		if err != nil {
			return err
		}
		log.Info("service installed!")
		return nil
	}

	hb, err := httpblinds.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("will init blinds...")
	err = hb.Init()
	defer hb.Close()
	if err != nil {
		return err
	}

	err = hb.Start(ctx)
	if err != nil {
		return err
	}

	hb.PrintStatus(os.Stdout)

	if len(hb.HkPin) != 8 {
		log.Warn("HomeKit pin not configured (8 digits required), bridge will not be published")
		<-ctx.Done()
		return nil
	}

	log.Info("Starting with HomeKit server")
	return hb.StartHomeKit(ctx, Version)
}

func main() {
	app := &cli.App{
		Name:    "httpblinds",
		Usage:   "HomeKit bridge for window blinds with a plain http api",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.json",
				Usage:   "path of the configuration file (json or yaml)",
				EnvVars: []string{"HTTPBLINDS_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "install",
				Usage: "install service in os",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"HTTPBLINDS_LOG_LEVEL"},
			},
		},
		Action: run,
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
