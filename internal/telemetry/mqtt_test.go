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

	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/protocol"
	"github.com/energizer-project/partybeacon/internal/util"
)

type doneToken struct {
	mqtt.Token
}

func (doneToken) Wait() bool   { return true }
func (doneToken) Error() error { return nil }

type published struct {
	topic   string
	payload []byte
}

// fakeClient records publishes; every other method panics if called.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	connected bool
	messages  []published
}

func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) Connect() mqtt.Token {
	c.connected = true
	return doneToken{}
}
func (c *fakeClient) Disconnect(uint) { c.connected = false }
func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func newTestHandler(t *testing.T, bus *events.EventBus) (*MQTTHandler, *fakeClient) {
	t.Helper()
	h := newHandler(config.MQTTConfig{Enabled: true, Topic: "beacons"}, "host1", bus, util.SystemInfo{Hostname: "box"})
	client := &fakeClient{}
	h.client = client
	return h, client
}

func TestNewMQTTHandler_Disabled(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{}, "host1", events.NewEventBus())
	assert.Error(t, err)
}

func TestMQTTHandler_ForwardsBeaconEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	h, client := newTestHandler(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()

	require.Eventually(t, func() bool {
		return bus.HandlerCount(events.EventReservationRequested) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, bus.EmitSync(context.Background(), events.NewEvent(events.EventReservationRequested, "test",
		events.ReservationRequestedPayload{Leader: 0x100, PartySize: 2, Result: protocol.ReservationAccepted, Remaining: 6})))
	require.NoError(t, bus.EmitSync(context.Background(), events.NewEvent(events.EventConfigChanged, "test", nil)))

	msgs := client.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "beacons/host1/reservations", msgs[0].topic)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].payload, &body))
	assert.Equal(t, "reservation_requested", body["event"])
	assert.Equal(t, "box", body["hostname"])
	payload := body["payload"].(map[string]interface{})
	assert.Equal(t, "0x0000000000000100", payload["leader"])
	assert.Equal(t, "reservation_accepted", payload["result"])

	cancel()
	require.NoError(t, <-done)

	msgs = client.sent()
	assert.Equal(t, "beacons/host1/status", msgs[len(msgs)-1].topic)
	assert.Zero(t, bus.HandlerCount(events.EventReservationRequested))
}

func TestMQTTHandler_SkipsWhenDisconnected(t *testing.T) {
	h, client := newTestHandler(t, events.NewEventBus())

	h.PublishShutdown()
	assert.Empty(t, client.sent())
}

func TestTopicFor_CoversBeaconEvents(t *testing.T) {
	for _, et := range events.BeaconEvents {
		assert.Contains(t, topicFor, et, string(et))
	}
}
