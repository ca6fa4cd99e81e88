package mqtt

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/httpblinds/position"
)

const DefaultTopicPrefix = "httpblinds"

const (
	TopicCurrentPosition = "current_position"
	TopicTargetPosition  = "target_position"
	TopicBatteryLevel    = "battery_level"
	TopicLowBattery      = "low_battery"
	TopicLastUpdate      = "last_update"

	setSuffix = "/set"
)

var topicNameReplacer = strings.NewReplacer(" ", "_", "/", "_", "+", "_", "#", "_")

// TopicName turns a blind name into a single topic level.
func TopicName(name string) string {
	return topicNameReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
}

func BlindTopic(prefix, name, leaf string) string {
	if len(prefix) == 0 {
		prefix = DefaultTopicPrefix
	}
	return strings.Join([]string{prefix, TopicName(name), leaf}, "/")
}

type lastUpdatePayload struct {
	Time        *time.Time `json:"time"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
}

// BlindPublisher mirrors the state of one blind to retained mqtt topics.
type BlindPublisher struct {
	Prefix string
	Name   string

	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
}

func NewBlindPublisher(prefix, name string, publisher Publisher, logger *log.Logger) *BlindPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &BlindPublisher{
		Prefix:    prefix,
		Name:      name,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (bp *BlindPublisher) publish(leaf string, payload []byte) {
	topic := BlindTopic(bp.Prefix, bp.Name, leaf)
	err := bp.publisher.Publish(topic, payload, true)
	if err != nil {
		bp.logger.Warn("mqtt publish failed", "topic", topic, "err", err)
	}
}

func (bp *BlindPublisher) CurrentPositionChanged(p int) {
	bp.publish(TopicCurrentPosition, []byte(strconv.Itoa(p)))
}

func (bp *BlindPublisher) TargetPositionChanged(p int) {
	bp.publish(TopicTargetPosition, []byte(strconv.Itoa(p)))
}

func (bp *BlindPublisher) BatteryChanged(level int, status position.BatteryStatus) {
	bp.publish(TopicBatteryLevel, []byte(strconv.Itoa(level)))
	bp.publish(TopicLowBattery, []byte(status.String()))
}

func (bp *BlindPublisher) LastUpdateChanged(update position.LastUpdate) {
	payload := lastUpdatePayload{
		Description: update.Describe(bp.now()),
		Status:      update.Status.String(),
	}
	if update.Known() {
		ts := update.Time
		payload.Time = &ts
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		bp.logger.Error("failed to encode last update", "err", err)
		return
	}
	bp.publish(TopicLastUpdate, raw)
}

// PositionRequester is implemented by position.Controller.
type PositionRequester interface {
	RequestPosition(ctx context.Context, p int) error
}

// PositionCommandHandler turns messages on <prefix>/<name>/target_position/set
// into move requests.
type PositionCommandHandler struct {
	topic     string
	requester PositionRequester
	logger    *log.Logger
}

func NewPositionCommandHandler(prefix, name string, requester PositionRequester, logger *log.Logger) *PositionCommandHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &PositionCommandHandler{
		topic:     BlindTopic(prefix, name, TopicTargetPosition) + setSuffix,
		requester: requester,
		logger:    logger,
	}
}

func (pch *PositionCommandHandler) MqttSubscribeTopic() string {
	return pch.topic
}

// MqttHandle runs the move in its own goroutine, the paho receive loop must not block for the whole move.
func (pch *PositionCommandHandler) MqttHandle(pub *paho.Publish) {
	if pub.Retain {
		pch.logger.Debug("ignoring retained position command", "topic", pub.Topic)
		return
	}

	p, err := position.ParseBody(string(pub.Payload))
	if err != nil {
		pch.logger.Error("invalid position command", "topic", pub.Topic, "err", err)
		return
	}
	if !position.Valid(p) {
		pch.logger.Error("position command out of range", "topic", pub.Topic, "position", p)
		return
	}

	go func() {
		err := pch.requester.RequestPosition(context.Background(), p)
		if err != nil {
			pch.logger.Warn("position command failed", "position", p, "err", err)
		}
	}()
}
