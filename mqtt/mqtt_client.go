package mqtt

import (
	"context"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"
)

const subscribeTimeoutSeconds = 15
const connectionTimeoutSeconds = 5
const publishTimeoutSeconds = 4

type MqttHandler interface {
	MqttHandle(pub *paho.Publish)
	MqttSubscribeTopic() string
}

type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

type MqttClient struct {
	config autopaho.ClientConfig
	conn   *autopaho.ConnectionManager
	router *paho.StandardRouter
	logger *log.Logger

	lock     sync.RWMutex
	handlers []MqttHandler
	cancel   context.CancelFunc
}

func (mc *MqttClient) Publish(topic string, payload []byte, retain bool) (err error) {
	if mc.conn == nil {
		return errors.Errorf("mqtt not connected, dropping publish to %s", topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeoutSeconds*time.Second)
	defer cancel()

	_, err = mc.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Retain:  retain,
		Payload: payload,
	})
	return errors.Wrapf(err, "publish to %s failed", topic)
}

func (mc *MqttClient) topics() []string {
	mc.lock.RLock()
	defer mc.lock.RUnlock()

	topics := []string{}
	for _, h := range mc.handlers {
		topics = append(topics, h.MqttSubscribeTopic())
	}
	return topics
}

func (mc *MqttClient) onConnUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	mc.logger.Info("Connected to MQTT broker")

	subs := []paho.SubscribeOptions{}
	for _, topic := range mc.topics() {
		subs = append(subs, paho.SubscribeOptions{
			QoS:   1,
			Topic: topic,
		})
	}
	if len(subs) == 0 {
		return
	}

	mc.logger.Debug("subscribing mqtt", "subs", subs)

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeoutSeconds*time.Second)
	defer cancel()

	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: subs,
	})
	if err != nil {
		mc.logger.Error("Failed to subscribe to topics", "err", err)
	}
}

func (mc *MqttClient) onConnError(err error) {
	mc.logger.Error("Received Mqtt connection error", "err", err)
}

func (mc *MqttClient) onSrvDisconnect(d *paho.Disconnect) {
	mc.logger.Info("Disconnected from MQTT broker")
}

func (mc *MqttClient) onPublishRecv() []func(paho.PublishReceived) (bool, error) {
	return []func(paho.PublishReceived) (bool, error){
		func(pr paho.PublishReceived) (bool, error) {
			mc.logger.Debug("received mqtt message", "topic", pr.Packet.Topic, "retain", pr.Packet.Retain)
			mc.router.Route(pr.Packet.Packet())
			return true, nil
		},
	}
}

func (mc *MqttClient) onUnhandled(pub *paho.Publish) {
	mc.logger.Warn("no handler for mqtt message", "topic", pub.Topic)
}

// setHandlers replaces the routed handlers, subscriptions follow on the next connection up.
func (mc *MqttClient) setHandlers(handlers []MqttHandler) {
	mc.lock.Lock()
	defer mc.lock.Unlock()

	for _, h := range mc.handlers {
		mc.router.UnregisterHandler(h.MqttSubscribeTopic())
	}
	mc.handlers = handlers
	for _, h := range handlers {
		mc.logger.Debug("setting up mqtt topics config", "topic", h.MqttSubscribeTopic())
		mc.router.RegisterHandler(h.MqttSubscribeTopic(), h.MqttHandle)
	}
}

// Connect starts the connection manager and waits for the first connection.
// The manager keeps reconnecting in the background until Disconnect.
func (mc *MqttClient) Connect(handlers []MqttHandler) (err error) {
	mc.setHandlers(handlers)

	connCtx, connCancel := context.WithCancel(context.Background())
	mc.cancel = connCancel

	cm, err := autopaho.NewConnection(connCtx, mc.config)
	if err != nil {
		connCancel()
		return errors.Wrap(err, "failed to create mqtt connection")
	}
	mc.conn = cm

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeoutSeconds*time.Second)
	defer cancel()

	err = cm.AwaitConnection(ctx)
	if err != nil {
		return errors.Wrap(err, "mqtt broker not reachable")
	}
	return
}

func (mc *MqttClient) Disconnect(ctx context.Context) (err error) {
	mc.setHandlers(nil)

	if mc.conn != nil {
		err = mc.conn.Disconnect(ctx)
	}
	if mc.cancel != nil {
		mc.cancel()
	}
	return
}

func NewMqttClient(broker string, clientId string) (mc *MqttClient, err error) {
	addr, err := url.Parse(broker)
	if err != nil {
		err = errors.Wrapf(err, "invalid mqtt broker url %s", broker)
		return
	}

	mc = &MqttClient{
		router: paho.NewStandardRouter(),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "MqttClient 🐰",
			Level:  log.GetLevel(),
		}),
	}

	mc.router.DefaultHandler(mc.onUnhandled)

	mc.config = autopaho.ClientConfig{
		ServerUrls:            []*url.URL{addr},
		KeepAlive:             20,
		SessionExpiryInterval: 60,
		OnConnectionUp:        mc.onConnUp,
		OnConnectError:        mc.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           clientId,
			OnClientError:      mc.onConnError,
			OnServerDisconnect: mc.onSrvDisconnect,
			OnPublishReceived:  mc.onPublishRecv(),
		},
	}

	return
}
