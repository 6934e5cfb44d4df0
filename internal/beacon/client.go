package beacon

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

// ClientState is the progress of a client's reservation attempt.
type ClientState int

const (
	ClientClosed ClientState = iota
	ClientConnecting
	ClientConnected
	ClientAwaitingResponse
	ClientConnectionFailed
)

var clientStateStrings = map[ClientState]string{
	ClientClosed:           "closed",
	ClientConnecting:       "connecting",
	ClientConnected:        "connected",
	ClientAwaitingResponse: "awaiting_response",
	ClientConnectionFailed: "connection_failed",
}

// String returns the string representation of ClientState.
func (s ClientState) String() string {
	if str, ok := clientStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// ClientConfig holds the deployment settings of a client beacon.
type ClientConfig struct {
	Name string
	// Port is the beacon port on every host.
	Port                      int
	HeartbeatTimeout          time.Duration
	ReservationRequestTimeout time.Duration
}

// Client makes one reservation attempt against one host. Every failure,
// timeout included, ends in ClientObserver.HostHasCancelled.
type Client struct {
	lifecycle

	cfg       ClientConfig
	factory   network.SocketFactory
	registrar HostRegistrar
	observer  ClientObserver

	socket         network.StreamSocket
	state          ClientState
	host           HostInfo
	hostRegistered bool
	pending        protocol.ReservationRequest

	requestElapsed   time.Duration
	heartbeatElapsed time.Duration
	readBuf          [protocol.ReadBufferSize]byte
}

// NewClient creates a client beacon. A nil registrar resolves addresses
// directly; a nil observer drops events.
func NewClient(cfg ClientConfig, factory network.SocketFactory, registrar HostRegistrar, observer ClientObserver) *Client {
	if cfg.Name == "" {
		cfg.Name = "PartyBeaconClient"
	}
	if registrar == nil {
		registrar = DirectRegistrar{}
	}
	if observer == nil {
		observer = NopClientObserver{}
	}

	c := &Client{
		cfg:       cfg,
		factory:   factory,
		registrar: registrar,
		observer:  observer,
	}
	c.lifecycle = lifecycle{
		name: cfg.Name,
		logger: log.With().
			Str("component", "party_beacon_client").
			Str("beacon", cfg.Name).
			Logger(),
		teardown: c.teardown,
	}
	return c
}

// RequestReservation registers and resolves the host, then starts
// connecting. The request itself is sent from Tick once connected. On a
// registration, resolve or connect failure the beacon is destroyed.
func (c *Client) RequestReservation(host HostInfo, leader protocol.UniqueNetID, players []protocol.PlayerReservation) error {
	if c.phase == LifecycleDestroyed {
		return ErrAlreadyDestroyed
	}
	if c.socket != nil {
		return ErrRequestInProgress
	}

	if err := c.registrar.RegisterAddress(host); err != nil {
		c.logger.Warn().Err(err).Str("host", host.Addr).Msg("failed to register the party host address")
		c.Destroy()
		return fmt.Errorf("%w: %w", ErrRegisterAddress, err)
	}
	c.host = host
	c.hostRegistered = true

	addr, err := c.registrar.ResolveAddress(host, c.cfg.Port)
	if err != nil {
		c.logger.Warn().Err(err).Str("host", host.Addr).Msg("failed to resolve party host address")
		c.Destroy()
		return fmt.Errorf("%w: %w", ErrResolveAddress, err)
	}

	members := make([]protocol.PlayerReservation, len(players))
	copy(members, players)
	c.pending = protocol.ReservationRequest{PartyLeader: leader, Members: members}

	socket, err := c.factory.Dial(addr)
	if err != nil {
		c.state = ClientConnectionFailed
		c.logger.Warn().Err(err).Str("host", addr).Msg("failed to start connection to host")
		c.Destroy()
		return fmt.Errorf("connect to %s: %w", addr, err)
	}

	c.socket = socket
	c.state = ClientConnecting
	c.requestElapsed = 0
	c.heartbeatElapsed = 0
	c.shouldTick = true

	c.logger.Info().
		Str("host", addr).
		Stringer("leader", leader).
		Int("party_size", len(members)).
		Msg("requesting reservation")
	return nil
}

// CancelReservation asks the host to drop the party's reservation and stops
// the beacon from ticking whether or not the send worked.
func (c *Client) CancelReservation(leader protocol.UniqueNetID) error {
	c.shouldTick = false
	if c.socket == nil {
		return ErrNoSocket
	}

	if _, err := c.socket.Send(protocol.Encode(protocol.CancellationRequest{PartyLeader: leader})); err != nil {
		c.logger.Error().Err(err).Msg("failed to send cancel reservation to host")
		return fmt.Errorf("send cancellation: %w", err)
	}
	c.logger.Info().Stringer("leader", leader).Msg("sent cancellation request")
	return nil
}

// Tick advances the connection state machine.
func (c *Client) Tick(delta time.Duration) {
	if c.socket == nil || !c.shouldTick {
		return
	}
	if !c.beginTick() {
		return
	}
	defer c.endTick()

	switch c.state {
	case ClientConnecting:
		c.checkConnectionStatus()
		c.requestElapsed += delta
		if c.requestElapsed > c.cfg.ReservationRequestTimeout || c.state == ClientConnectionFailed {
			c.logger.Info().Dur("elapsed", c.requestElapsed).Msg("timeout waiting for host to accept our connection")
			c.processHostCancelled()
		}

	case ClientConnected:
		c.sendReservationRequest()
		c.requestElapsed += delta
		if c.requestElapsed > c.cfg.ReservationRequestTimeout || c.state == ClientConnectionFailed {
			c.logger.Info().Dur("elapsed", c.requestElapsed).Msg("timeout waiting for host to respond to our reservation request")
			c.processHostCancelled()
		}

	case ClientAwaitingResponse:
		c.heartbeatElapsed += delta
		c.readResponse()
		if c.canContinue() {
			if c.heartbeatElapsed > c.cfg.HeartbeatTimeout || c.state == ClientConnectionFailed {
				c.logger.Info().Dur("elapsed", c.heartbeatElapsed).Msg("lost contact with host")
				c.processHostCancelled()
			}
		}
	}
}

func (c *Client) checkConnectionStatus() {
	switch c.socket.ConnectionState() {
	case network.StateConnected:
		c.state = ClientConnected
		c.logger.Debug().Str("host", c.socket.RemoteAddr()).Msg("connected to host")
	case network.StateError:
		c.logger.Warn().Str("host", c.socket.RemoteAddr()).Msg("error connecting to host")
		c.state = ClientConnectionFailed
	}
}

// sendReservationRequest sends the queued request exactly once.
func (c *Client) sendReservationRequest() {
	if _, err := c.socket.Send(protocol.Encode(c.pending)); err != nil {
		c.state = ClientConnectionFailed
		c.logger.Warn().Err(err).Str("host", c.socket.RemoteAddr()).Msg("failed to send the reservation request")
		return
	}
	c.state = ClientAwaitingResponse
	c.heartbeatElapsed = 0
	c.logger.Info().
		Int("party_size", len(c.pending.Members)).
		Str("host", c.socket.RemoteAddr()).
		Msg("sent party reservation request")
}

// readResponse drains the socket until it would block, fails, or a
// terminal packet stops the beacon.
func (c *Client) readResponse() {
	for c.canContinue() {
		n, err := c.socket.Recv(c.readBuf[:])
		if err != nil {
			if !errors.Is(err, network.ErrWouldBlock) {
				c.logger.Warn().Err(err).Str("host", c.socket.RemoteAddr()).Msg("socket error reading host response")
				c.state = ClientConnectionFailed
			}
			return
		}
		if n == 0 {
			return
		}

		c.heartbeatElapsed = 0
		c.processHostResponse(c.readBuf[:n])
	}
}

// processHostResponse handles every packet in one read.
func (c *Client) processHostResponse(data []byte) {
	err := protocol.DecodeEach(data, func(pkt protocol.Packet) bool {
		switch p := pkt.(type) {
		case protocol.ReservationResponse:
			c.logger.Info().
				Stringer("result", p.Result).
				Int32("remaining", p.NumRemaining).
				Msg("host responded to reservation request")
			c.observer.ReservationRequestComplete(p.Result, int(p.NumRemaining))
		case protocol.CancellationResponse:
			c.shouldTick = false
			c.cleanupAddress()
			c.logger.Info().Msg("host acknowledged the cancellation request")
			c.observer.CancellationRequestComplete()
		case protocol.ReservationCountUpdate:
			c.logger.Debug().Int32("remaining", p.NumRemaining).Msg("host reservations remaining")
			c.observer.ReservationCountUpdated(int(p.NumRemaining))
		case protocol.TravelRequest:
			c.shouldTick = false
			c.logger.Info().
				Str("session", p.SessionName).
				Str("class", p.ClassName).
				Msg("host sent travel request")
			c.cleanupAddress()
			c.observer.TravelRequestReceived(p)
		case protocol.HostIsReady:
			c.shouldTick = false
			c.cleanupAddress()
			c.logger.Info().Msg("host is ready")
			c.observer.HostIsReady()
		case protocol.HostHasCancelled:
			c.logger.Info().Msg("host has cancelled")
			c.processHostCancelled()
		case protocol.Heartbeat:
			c.processHeartbeat()
		default:
			c.logger.Warn().Stringer("type", pkt.Type()).Msg("unexpected packet type received from host")
		}
		return c.canContinue()
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropped malformed host packet")
	}
}

// processHeartbeat echoes the heartbeat so the host knows we are alive.
func (c *Client) processHeartbeat() {
	c.heartbeatElapsed = 0
	if _, err := c.socket.Send(protocol.Encode(protocol.Heartbeat{})); err != nil {
		c.logger.Error().Err(err).Msg("failed to send heartbeat packet")
	}
}

// processHostCancelled ends the attempt. Transport failures and timeouts
// come through here too.
func (c *Client) processHostCancelled() {
	c.shouldTick = false
	c.cleanupAddress()
	c.observer.HostHasCancelled()
}

// cleanupAddress releases the host registration once.
func (c *Client) cleanupAddress() {
	if c.hostRegistered {
		c.registrar.UnregisterAddress(c.host)
		c.hostRegistered = false
	}
	c.state = ClientClosed
}

// State returns the connection state.
func (c *Client) State() ClientState { return c.state }

// IsTicking reports whether Tick still does work.
func (c *Client) IsTicking() bool {
	return c.socket != nil && c.shouldTick && c.phase == LifecycleIdle
}

// Lifecycle returns the teardown state.
func (c *Client) Lifecycle() Lifecycle { return c.phase }

// Destroy releases the host address and closes the socket, deferred when
// called from inside Tick.
func (c *Client) Destroy() error {
	return c.destroy()
}

func (c *Client) teardown() {
	c.cleanupAddress()
	if c.socket != nil {
		c.socket.Close()
		c.socket = nil
	}
}
