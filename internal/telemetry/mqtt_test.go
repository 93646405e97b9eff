package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/util"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic string
	body  map[string]interface{}
}

// fakeClient records publishes. Methods not overridden panic through the
// nil embedded interface.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	connected bool
	published []message
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	if err := json.Unmarshal(payload.([]byte), &body); err != nil {
		return doneToken{err: err}
	}
	c.mu.Lock()
	c.published = append(c.published, message{topic: topic, body: body})
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) messages() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.published...)
}

func TestDisabledHandler(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{Enabled: false}, events.NewEventBus())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNewHandlerBuildsClient(t *testing.T) {
	h, err := NewMQTTHandler(config.MQTTConfig{Enabled: true, BrokerURL: "localhost", Port: 8883, UseTLS: true, Topic: "mc"}, events.NewEventBus())
	require.NoError(t, err)
	assert.Equal(t, "ssl://localhost:8883", h.broker)
	assert.Equal(t, "mc", h.prefix)
}

func TestEventsArePublishedUnderPrefix(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	client := &fakeClient{}
	h := newHandler("", "tcp://test:1883", client, bus, util.SystemInfo{Hostname: "box"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()
	require.Eventually(t, func() bool { return bus.HandlerCount(events.EventPlayerJoined) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.EmitSync(ctx, events.New(events.EventPlayerJoined, "connection:1", events.PlayerPayload{Name: "alex"})))
	require.NoError(t, bus.EmitSync(ctx, events.New(events.EventProtocolViolation, "connection:2", events.ViolationPayload{Kind: "frame_too_large"})))

	cancel()
	require.NoError(t, <-done)

	msgs := client.messages()
	require.Len(t, msgs, 3)

	assert.Equal(t, "quarry/player", msgs[0].topic)
	assert.Equal(t, "player_joined", msgs[0].body["event"])
	assert.Equal(t, "box", msgs[0].body["hostname"])
	assert.Equal(t, "alex", msgs[0].body["payload"].(map[string]interface{})["name"])

	assert.Equal(t, "quarry/violation", msgs[1].topic)
	assert.Equal(t, "quarry/admin", msgs[2].topic)
	assert.Equal(t, "shutdown", msgs[2].body["event"])
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, TopicConnection, topicFor(events.EventConnectionRejected))
	assert.Equal(t, TopicChat, topicFor(events.EventPlayerChat))
	assert.Equal(t, TopicHealth, topicFor(events.EventHealthWarning))
	assert.Equal(t, TopicAdmin, topicFor(events.EventBanChanged))
}
