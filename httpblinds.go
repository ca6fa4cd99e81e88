// Package httpblinds bridges window blinds with a plain HTTP control surface
// to HomeKit, mirroring their state to MQTT and InfluxDB when configured.
package httpblinds

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/httpblinds/drivers"
	"github.com/hubertat/httpblinds/mqtt"
	"github.com/hubertat/httpblinds/position"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "httpblinds"
const homeKitBridgeAuthor = "github.com/hubertat"
const homeKitBlindModel = "http-blind"

const mqttDisconnectTimeout = 3 * time.Second

type HttpBlinds struct {
	Name string `json:"name" yaml:"name"`

	Blinds []*Blind `json:"blinds" yaml:"blinds"`

	HkPin       string `json:"hk_pin" yaml:"hk_pin"`
	HkDirectory string `json:"hk_directory" yaml:"hk_directory"`
	HkAddress   string `json:"hk_address" yaml:"hk_address"`
	HkDebug     bool   `json:"hk_debug" yaml:"hk_debug"`

	MqttBroker      string `json:"mqtt_broker" yaml:"mqtt_broker"`
	MqttTopicPrefix string `json:"mqtt_topic_prefix" yaml:"mqtt_topic_prefix"`

	Influx *drivers.InfluxConfig `json:"influx" yaml:"influx"`

	device     position.DeviceClient
	mqttClient *mqtt.MqttClient
	influx     *drivers.InfluxRecorder
	logger     *log.Logger
}

func (hb *HttpBlinds) getLogger() *log.Logger {
	if hb.logger == nil {
		hb.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix:          homeKitBridgeName,
			Level:           log.GetLevel(),
			ReportTimestamp: true,
		})
	}
	return hb.logger
}

// SetDevice replaces the http client used to reach the blinds, mainly for tests.
func (hb *HttpBlinds) SetDevice(device position.DeviceClient) {
	hb.device = device
}

func (hb *HttpBlinds) setDefaults() {
	if len(hb.Name) == 0 {
		hb.Name = homeKitBridgeName
	}
	if len(hb.MqttTopicPrefix) == 0 {
		hb.MqttTopicPrefix = mqtt.DefaultTopicPrefix
	}
	if len(hb.HkDirectory) == 0 {
		hb.HkDirectory = defaultHomeKitDirectory
	}
	if hb.device == nil {
		hb.device = drivers.NewHttpDevice(position.RequestTimeout)
	}
}

// Init prepares optional sinks, every blind and finally connects to mqtt so
// command handlers can reach the controllers.
func (hb *HttpBlinds) Init() error {
	hb.setDefaults()

	if hb.Influx != nil {
		recorder, err := drivers.NewInfluxRecorder(*hb.Influx, nil, hb.getLogger().WithPrefix("influx"))
		if err != nil {
			return errors.Wrap(err, "failed to init influx recorder")
		}
		hb.influx = recorder
	}

	if len(hb.MqttBroker) > 0 {
		mc, err := mqtt.NewMqttClient(hb.MqttBroker, hb.Name)
		if err != nil {
			return errors.Wrap(err, "failed to create mqtt client")
		}
		hb.mqttClient = mc
	}

	err := hb.InitBlinds()
	if err != nil {
		return err
	}

	if hb.mqttClient != nil {
		return hb.InitMqtt()
	}
	return nil
}

func (hb *HttpBlinds) InitBlinds() error {
	hb.setDefaults()

	seen := map[uint64]string{}
	topics := map[string]string{}
	for _, blind := range hb.Blinds {
		if other, duplicate := seen[blind.GetUniqueId()]; duplicate {
			return errors.Errorf("blind name %s is used more than once (or collides with %s)", blind.Name, other)
		}
		seen[blind.GetUniqueId()] = blind.Name

		// names are folded for mqtt topics, "Living Room" and "living_room" would share one
		topic := mqtt.TopicName(blind.Name)
		if other, duplicate := topics[topic]; duplicate {
			return errors.Errorf("blind names %s and %s share mqtt topic %s", other, blind.Name, topic)
		}
		topics[topic] = blind.Name

		extra := []position.Notifier{}
		if hb.mqttClient != nil {
			extra = append(extra, mqtt.NewBlindPublisher(hb.MqttTopicPrefix, blind.Name, hb.mqttClient, hb.getLogger().WithPrefix("mqtt")))
		}
		if hb.influx != nil {
			extra = append(extra, hb.influx.ForBlind(blind.Name))
		}

		err := blind.Init(hb.device, hb.getLogger(), extra...)
		if err != nil {
			return errors.Wrapf(err, "failed to init blind %s", blind.Name)
		}
	}

	return nil
}

func (hb *HttpBlinds) MqttHandlers() []mqtt.MqttHandler {
	handlers := []mqtt.MqttHandler{}
	for _, blind := range hb.Blinds {
		if blind.Controller() == nil {
			continue
		}
		handlers = append(handlers, mqtt.NewPositionCommandHandler(hb.MqttTopicPrefix, blind.Name, blind.Controller(), blind.logger))
	}
	return handlers
}

func (hb *HttpBlinds) InitMqtt() (err error) {
	if hb.mqttClient == nil {
		if len(hb.MqttBroker) == 0 {
			err = errors.New("mqtt broker not set")
			return
		}
		hb.mqttClient, err = mqtt.NewMqttClient(hb.MqttBroker, hb.Name)
		if err != nil {
			err = errors.Wrap(err, "failed to create mqtt client")
			return
		}
	}

	err = hb.mqttClient.Connect(hb.MqttHandlers())
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
	}

	return
}

// Start begins polling every blind and opens the status api listeners.
func (hb *HttpBlinds) Start(ctx context.Context) error {
	for _, blind := range hb.Blinds {
		if blind.controller == nil {
			return errors.Errorf("blind %s not initialised", blind.Name)
		}
		if blind.apiServer == nil {
			continue
		}
		err := blind.apiServer.Listen()
		if err != nil {
			return errors.Wrapf(err, "failed to start api of %s", blind.Name)
		}
	}

	for _, blind := range hb.Blinds {
		blind.controller.Start(ctx)

		if blind.apiServer != nil {
			go func(bl *Blind) {
				err := bl.apiServer.Run(ctx)
				if err != nil {
					bl.logger.Error("status api stopped", "err", err)
				}
			}(blind)
		}
	}

	return nil
}

func (hb *HttpBlinds) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, blind := range hb.Blinds {
		accessory := blind.GetHk()
		if accessory != nil {
			if accessory.Info != nil && accessory.Info.FirmwareRevision != nil {
				accessory.Info.FirmwareRevision.SetValue(firmwareVersion)
			}
			accessory.Id = blind.GetUniqueId()
			acc = append(acc, accessory)
		}
	}

	return
}

func (hb *HttpBlinds) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	bridge := accessory.NewBridge(accessory.Info{
		Name:         hb.Name,
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	store := hap.NewFsStore(hb.HkDirectory)
	hkServer, err := hap.NewServer(store, bridge.A, hb.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = hb.HkPin
	if len(hb.HkAddress) > 0 {
		hkServer.Addr = hb.HkAddress
	}

	if hb.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c:
		case <-ctx.Done():
		}
		signal.Stop(c)
		cancel()
	}()

	return hkServer.ListenAndServe(ctx)
}

func (hb *HttpBlinds) PrintStatus(writer io.Writer) {
	now := time.Now()

	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== configured blinds ===")
	for _, blind := range hb.Blinds {
		fmt.Fprintln(writer, "________")
		fmt.Fprintf(writer, "| blind: %s\n", blind.Name)

		cfg := blind.ControllerConfig()
		if blind.controller != nil {
			cfg = blind.controller.Config()
		}
		fmt.Fprintf(writer, "| get: %s %s\n", strings.ToUpper(cfg.GetPositionMethod), cfg.GetPositionURL)
		fmt.Fprintf(writer, "| set: %s %s\n", strings.ToUpper(cfg.SetPositionMethod), cfg.SetPositionURL)

		if blind.controller != nil {
			fmt.Fprintf(writer, "| polling: %s, tolerance: %d\n", cfg.PollInterval, cfg.Tolerance)

			current, known := blind.controller.CurrentPosition()
			fmt.Fprintf(writer, "| current: %s\n", position.LabelOf(current, known))
			target, known := blind.controller.TargetPosition()
			fmt.Fprintf(writer, "| target: %s\n", position.LabelOf(target, known))
			if blind.controller.HasBattery() {
				battery := "unknown"
				if level, known := blind.controller.BatteryLevel(); known {
					battery = fmt.Sprintf("%d%%", level)
				}
				fmt.Fprintf(writer, "| battery: %s (%s)\n", battery, blind.controller.LowBatteryStatus())
			}
			update := blind.controller.LastUpdate()
			fmt.Fprintf(writer, "| last update: %s (%s)\n", update.Describe(now), update.Status)
		}
		if blind.Api != nil {
			fmt.Fprintf(writer, "| api: %s\n", blind.Api.Addr())
		}
		fmt.Fprintln(writer, "--------")
	}
	if len(hb.MqttBroker) > 0 {
		fmt.Fprintf(writer, "mqtt: %s (prefix %s)\n", hb.MqttBroker, hb.MqttTopicPrefix)
	}
	if hb.Influx != nil {
		fmt.Fprintf(writer, "influx: %s bucket %s\n", hb.Influx.Host, hb.Influx.Bucket)
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}

func (hb *HttpBlinds) Close() (err error) {
	for _, blind := range hb.Blinds {
		closeErr := blind.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close blind")
		}
	}

	if hb.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mqttDisconnectTimeout)
		defer cancel()

		closeErr := hb.mqttClient.Disconnect(ctx)
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to disconnect mqtt")
		}
	}

	if hb.influx != nil {
		closeErr := hb.influx.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close influx")
		}
	}

	return
}
