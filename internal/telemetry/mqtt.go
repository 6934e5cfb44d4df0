// Package telemetry publishes beacon events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/util"
)

// Topic suffixes under <prefix>/<beacon name>/
const (
	TopicStatus       = "status"
	TopicConnections  = "connections"
	TopicReservations = "reservations"
	TopicBroadcasts   = "broadcasts"
)

const handlerName = "mqtt.publisher"

// topicFor maps every forwarded event to its topic suffix.
var topicFor = map[events.EventType]string{
	events.EventBeaconStarted:        TopicStatus,
	events.EventBeaconDestroyed:      TopicStatus,
	events.EventConnectionOpened:     TopicConnections,
	events.EventConnectionClosed:     TopicConnections,
	events.EventReservationRequested: TopicReservations,
	events.EventReservationChanged:   TopicReservations,
	events.EventReservationsFull:     TopicReservations,
	events.EventClientCancellation:   TopicReservations,
	events.EventClientsNotified:      TopicBroadcasts,
	events.EventHeartbeat:            TopicStatus,
	events.EventHealthAlert:          TopicStatus,
}

// MQTTHandler forwards beacon events from the bus to the broker.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	prefix   string
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates the handler and its broker client. It does not
// connect until Start.
func NewMQTTHandler(cfg config.MQTTConfig, beaconName string, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := newHandler(cfg, beaconName, eventBus, sysInfo)

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("partybeacon-%s-%s", sysInfo.Hostname, uuid.NewString()[:8])
	}
	opts.SetClientID(clientID)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		handler.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		handler.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

func newHandler(cfg config.MQTTConfig, beaconName string, eventBus *events.EventBus, sysInfo util.SystemInfo) *MQTTHandler {
	prefix := cfg.Topic
	if prefix == "" {
		prefix = "partybeacon"
	}
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		prefix:   prefix + "/" + beaconName,
		logger:   log.With().Str("component", "mqtt").Logger(),
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"platform":  sysInfo.Platform,
			"local_ip":  sysInfo.LocalIP,
			"beacon":    beaconName,
			"memory_mb": sysInfo.TotalMemory,
		},
	}
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects to the broker, forwards events until ctx is done, then
// publishes a shutdown notice and disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.eventBus.SubscribeMany(events.BeaconEvents, handlerName, h.onEvent)
	defer h.eventBus.UnsubscribeMany(events.BeaconEvents, handlerName)

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	suffix, ok := topicFor[event.Type]
	if !ok {
		return nil
	}
	h.publish(suffix, string(event.Type), event.Payload, event.Time)
	return nil
}

// publish sends a JSON message to <prefix>/<suffix>.
func (h *MQTTHandler) publish(suffix, eventName string, payload interface{}, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.client.IsConnected() {
		return
	}

	topic := h.prefix + "/" + suffix
	data, err := json.Marshal(h.buildMessage(eventName, payload, at))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(eventName string, payload interface{}, at time.Time) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	if at.IsZero() {
		at = time.Now()
	}

	msg["event"] = eventName
	msg["payload"] = payload
	msg["timestamp"] = at.UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicStatus, string(events.EventShutdown), nil, time.Now())
}
