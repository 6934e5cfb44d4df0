// Package events defines the event types carried by the party beacon event bus.
package events

import (
	"time"

	"github.com/energizer-project/partybeacon/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Beacon lifecycle events
	EventBeaconStarted   EventType = "beacon_started"
	EventBeaconDestroyed EventType = "beacon_destroyed"

	// Connection events
	EventConnectionOpened EventType = "connection_opened"
	EventConnectionClosed EventType = "connection_closed"

	// Reservation events
	EventReservationRequested EventType = "reservation_requested"
	EventReservationChanged   EventType = "reservation_changed"
	EventReservationsFull     EventType = "reservations_full"
	EventClientCancellation   EventType = "client_cancellation"

	// Host broadcasts
	EventClientsNotified EventType = "clients_notified"

	// Health
	EventHeartbeat   EventType = "heartbeat"
	EventHealthAlert EventType = "health_alert"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// BeaconEvents lists every event a running host emits. Stream consumers
// subscribe to all of them.
var BeaconEvents = []EventType{
	EventBeaconStarted,
	EventBeaconDestroyed,
	EventConnectionOpened,
	EventConnectionClosed,
	EventReservationRequested,
	EventReservationChanged,
	EventReservationsFull,
	EventClientCancellation,
	EventClientsNotified,
	EventHeartbeat,
	EventHealthAlert,
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now().UTC(), Payload: payload}
}

// BeaconStatePayload is emitted when a host beacon starts or is torn down.
type BeaconStatePayload struct {
	Name        string `json:"name"`
	ListenAddr  string `json:"listen_addr,omitempty"`
	SessionName string `json:"session_name"`
	State       string `json:"state"`
}

// ConnectionPayload describes a client connection opening or closing.
// Leader is zero for connections that never held a reservation.
type ConnectionPayload struct {
	Remote string               `json:"remote"`
	Leader protocol.UniqueNetID `json:"leader"`
}

// ReservationRequestedPayload carries the outcome of one reservation request.
type ReservationRequestedPayload struct {
	Leader    protocol.UniqueNetID       `json:"leader"`
	PartySize int                        `json:"party_size"`
	Result    protocol.ReservationResult `json:"result"`
	Remaining int                        `json:"remaining"`
}

// ReservationChangedPayload carries the slot count after a change.
type ReservationChangedPayload struct {
	Remaining int `json:"remaining"`
	Consumed  int `json:"consumed"`
	Total     int `json:"total"`
}

// CancellationPayload names the party that gave up its reservation.
type CancellationPayload struct {
	Leader protocol.UniqueNetID `json:"leader"`
}

// ClientsNotifiedPayload is emitted after a terminal broadcast.
type ClientsNotifiedPayload struct {
	Packet     string `json:"packet"`
	Recipients int    `json:"recipients"`
}

// HeartbeatPayload is a periodic summary of the running host.
type HeartbeatPayload struct {
	Name        string `json:"name"`
	Running     bool   `json:"running"`
	Remaining   int    `json:"remaining"`
	Consumed    int    `json:"consumed"`
	Connections int    `json:"connections"`
	Requests    int    `json:"requests"`
}

// HealthAlertPayload reports a failed or degraded health check.
type HealthAlertPayload struct {
	Check   string `json:"check"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}
