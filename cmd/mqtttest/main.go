package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/httpblinds/mqtt"
)

const clientID = "httpblinds-mqtttest" // Change this to something random if using a public test server

var (
	broker = flag.String("broker", "mqtt://127.0.0.1:1883", "mqtt broker url")
	prefix = flag.String("prefix", mqtt.DefaultTopicPrefix, "topic prefix used by the bridge")
	blind  = flag.String("blind", "", "blind name, required with -set")
	set    = flag.Int("set", -1, "publish a target position command for -blind and exit")
)

type Handler struct {
	topic string
}

func (h *Handler) MqttSubscribeTopic() string {
	return h.topic
}

func (h *Handler) MqttHandle(pub *paho.Publish) {
	log.Info("received mqtt message", "topic", pub.Topic, "payload", string(pub.Payload), "retain", pub.Retain)
}

func main() {
	flag.Parse()
	log.SetLevel(log.DebugLevel)

	mc, err := mqtt.NewMqttClient(*broker, clientID)
	if err != nil {
		log.Fatal("failed to create mqtt client", "err", err)
	}

	mqttHandlers := []mqtt.MqttHandler{
		&Handler{topic: *prefix + "/#"},
	}

	err = mc.Connect(mqttHandlers)
	if err != nil {
		log.Fatal("failed to connect to mqtt broker", "err", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		mc.Disconnect(ctx)
	}()

	if *set >= 0 {
		if len(*blind) == 0 {
			log.Fatal("-blind is required with -set")
		}
		topic := mqtt.BlindTopic(*prefix, *blind, mqtt.TopicTargetPosition) + "/set"
		err = mc.Publish(topic, []byte(strconv.Itoa(*set)), false)
		if err != nil {
			log.Fatal("publish failed", "err", err)
		}
		log.Info("position command sent", "topic", topic, "position", *set)
		return
	}

	log.Info("mqtt client connected, watching blinds", "prefix", *prefix)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}
