// Package telemetry publishes connection, player and health events to an
// MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicConnection = "connection"
	TopicPlayer     = "player"
	TopicChat       = "chat"
	TopicViolation  = "violation"
	TopicHealth     = "health"
	TopicAdmin      = "admin"
)

// ErrDisabled is returned by NewMQTTHandler when MQTT is switched off.
var ErrDisabled = errors.New("MQTT is disabled")

const (
	publishQoS     = 1
	disconnectWait = 5000 // milliseconds
)

// MQTTHandler forwards bus events to MQTT as JSON documents.
type MQTTHandler struct {
	prefix   string
	broker   string
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// Merged into every message.
	metadata map[string]interface{}
}

// NewMQTTHandler builds the client from cfg. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID("quarry-" + sysInfo.Hostname)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	logger := log.With().Str("component", "mqtt").Logger()
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", broker).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	return newHandler(cfg.Topic, broker, mqtt.NewClient(opts), eventBus, sysInfo), nil
}

func newHandler(prefix, broker string, client mqtt.Client, bus *events.EventBus, sysInfo util.SystemInfo) *MQTTHandler {
	if prefix == "" {
		prefix = "quarry"
	}
	return &MQTTHandler{
		prefix:   prefix,
		broker:   broker,
		eventBus: bus,
		client:   client,
		logger:   log.With().Str("component", "mqtt").Logger(),
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"os":        sysInfo.OS,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
		},
	}
}

// Start connects, forwards events until ctx is cancelled and then
// announces the shutdown.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().Str("broker", h.broker).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.publish(TopicAdmin, map[string]interface{}{"event": "shutdown"})
	h.client.Disconnect(disconnectWait)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe("mqtt", h.onEvent,
		events.EventConnectionOpened,
		events.EventConnectionClosed,
		events.EventConnectionRejected,
		events.EventPlayerJoined,
		events.EventPlayerLeft,
		events.EventPlayerChat,
		events.EventProtocolViolation,
		events.EventPlayerKicked,
		events.EventBanChanged,
		events.EventHealthWarning,
		events.EventServerStarted,
		events.EventMaintenance,
	)
}

// topicFor maps an event type to its topic suffix.
func topicFor(t events.EventType) string {
	switch t {
	case events.EventConnectionOpened, events.EventConnectionClosed, events.EventConnectionRejected:
		return TopicConnection
	case events.EventPlayerJoined, events.EventPlayerLeft:
		return TopicPlayer
	case events.EventPlayerChat:
		return TopicChat
	case events.EventProtocolViolation:
		return TopicViolation
	case events.EventHealthWarning:
		return TopicHealth
	default:
		return TopicAdmin
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, e events.Event) error {
	h.publish(topicFor(e.Type), map[string]interface{}{
		"event":   string(e.Type),
		"source":  e.Source,
		"payload": e.Payload,
	})
	return nil
}

// publish sends payload as JSON to prefix/topic. Messages are dropped
// while the client is disconnected.
func (h *MQTTHandler) publish(topic string, payload map[string]interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := make(map[string]interface{}, len(h.metadata)+len(payload)+1)
	for k, v := range h.metadata {
		msg[k] = v
	}
	for k, v := range payload {
		msg[k] = v
	}
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	full := h.prefix + "/" + topic
	token := h.client.Publish(full, publishQoS, false, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			h.logger.Warn().Err(err).Str("topic", full).Msg("MQTT publish failed")
		}
	}()
}
