package beacon

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

// HostConfig holds the deployment settings of a host beacon.
type HostConfig struct {
	Name              string
	BindAddress       string
	Port              int
	ConnectionBacklog int
	HeartbeatTimeout  time.Duration
}

// Host listens for client beacons and holds party reservations against a
// fixed number of player slots.
type Host struct {
	lifecycle

	cfg      HostConfig
	factory  network.SocketFactory
	observer HostObserver
	roster   SessionRoster
	rng      Rand

	listener     network.ListenSocket
	clients      []*ClientConnection
	reservations []PartyReservation
	teams        *TeamPool

	numPlayersPerTeam       int
	numReservations         int
	numConsumedReservations int
	sessionName             string

	elapsedHeartbeat time.Duration
	readBuf          [protocol.ReadBufferSize]byte
}

// NewHost creates a host beacon. Nil observer, roster or rng are replaced
// with no-op or time-seeded defaults.
func NewHost(cfg HostConfig, factory network.SocketFactory, observer HostObserver, roster SessionRoster, rng Rand) *Host {
	if cfg.Name == "" {
		cfg.Name = "PartyBeaconHost"
	}
	if observer == nil {
		observer = NopHostObserver{}
	}
	if roster == nil {
		roster = NopRoster{}
	}
	if rng == nil {
		rng = NewRand()
	}

	h := &Host{
		cfg:      cfg,
		factory:  factory,
		observer: observer,
		roster:   roster,
		rng:      rng,
	}
	h.lifecycle = lifecycle{
		name: cfg.Name,
		logger: log.With().
			Str("component", "party_beacon_host").
			Str("beacon", cfg.Name).
			Logger(),
		teardown: h.teardown,
	}
	return h
}

// Init binds and listens on the configured port, then sets up the
// reservation limits and the team pool.
func (h *Host) Init(numTeams, numPlayersPerTeam, numReservations int, sessionName string) error {
	if h.phase == LifecycleDestroyed {
		return ErrAlreadyDestroyed
	}
	if h.listener != nil {
		return ErrAlreadyInitialized
	}
	// Remaining counts go on the wire as int32.
	if numPlayersPerTeam < 0 || numReservations < 0 || numReservations > math.MaxInt32 {
		return fmt.Errorf("invalid reservation limits: %d per team, %d total", numPlayersPerTeam, numReservations)
	}

	// At least one client must be able to queue
	backlog := max(1, h.cfg.ConnectionBacklog)
	addr := net.JoinHostPort(h.cfg.BindAddress, strconv.Itoa(h.cfg.Port))

	ln, err := h.factory.Listen(addr, backlog)
	if err != nil {
		h.logger.Error().Err(err).Str("addr", addr).Int("backlog", backlog).Msg("failed to create listen socket")
		return fmt.Errorf("init host beacon %s: %w", h.name, err)
	}

	h.listener = ln
	h.teams = NewTeamPool(numTeams, h.rng)
	h.numPlayersPerTeam = numPlayersPerTeam
	h.numReservations = numReservations
	h.numConsumedReservations = 0
	h.sessionName = sessionName
	h.shouldTick = true

	h.logger.Info().
		Str("addr", ln.Addr()).
		Str("session", sessionName).
		Int("num_teams", h.teams.NumTeams()).
		Int("host_team", h.teams.HostTeam()).
		Int("players_per_team", numPlayersPerTeam).
		Int("reservations", numReservations).
		Msg("created party beacon")
	return nil
}

// Tick accepts new clients, reads every client, sends heartbeats and drops
// clients that errored or went silent.
func (h *Host) Tick(delta time.Duration) {
	if h.listener == nil || !h.shouldTick {
		return
	}
	if !h.beginTick() {
		return
	}
	defer h.endTick()

	h.acceptConnections()
	if len(h.clients) == 0 {
		return
	}

	h.elapsedHeartbeat += delta
	needsHeartbeat := h.elapsedHeartbeat > h.cfg.HeartbeatTimeout/2

	for i := 0; i < len(h.clients); i++ {
		conn := h.clients[i]
		conn.ElapsedHeartbeat += delta
		conn.Age += delta

		hadError := false
		if h.readClientData(conn) {
			if needsHeartbeat && conn.HasReservation() {
				h.send(conn, protocol.Heartbeat{})
			}
			if conn.ElapsedHeartbeat > h.cfg.HeartbeatTimeout {
				h.logger.Info().
					Str("remote", conn.remote).
					Stringer("leader", conn.PartyLeader).
					Dur("idle", conn.ElapsedHeartbeat).
					Msg("client timed out")
				hadError = h.canContinue()
			}
		} else {
			h.logger.Info().
				Str("remote", conn.remote).
				Stringer("leader", conn.PartyLeader).
				Msg("reading from client failed")
			hadError = h.canContinue()
		}

		if hadError {
			h.dropClient(i)
			i--
		}
	}

	if needsHeartbeat {
		h.elapsedHeartbeat = 0
	}
}

// acceptConnections drains every pending inbound connection.
func (h *Host) acceptConnections() {
	for {
		s, err := h.listener.Accept()
		if err != nil {
			if !errors.Is(err, network.ErrWouldBlock) {
				h.logger.Warn().Err(err).Msg("failed to accept a connection")
			}
			return
		}

		conn := newClientConnection(s)
		h.clients = append(h.clients, conn)
		h.logger.Info().Str("remote", conn.remote).Msg("new client connection")
		h.observer.ConnectionOpened(conn.remote)
	}
}

// readClientData drains one client's socket. It returns false when the
// connection failed and has to be removed.
func (h *Host) readClientData(conn *ClientConnection) bool {
	for {
		n, err := conn.socket.Recv(h.readBuf[:])
		if err != nil {
			if errors.Is(err, network.ErrWouldBlock) {
				return true
			}
			h.logger.Debug().Err(err).Str("remote", conn.remote).Msg("closing socket to client")
			return false
		}
		if n == 0 {
			return true
		}

		conn.ElapsedHeartbeat = 0
		data := h.readBuf[:n]
		if conn.skip > 0 {
			k := int64(len(data))
			if conn.skip < k {
				k = conn.skip
			}
			conn.skip -= k
			data = data[k:]
		}
		if len(data) > 0 {
			h.processRequest(data, conn)
		}
	}
}

// processRequest dispatches every packet in one read.
func (h *Host) processRequest(data []byte, conn *ClientConnection) {
	err := protocol.DecodeEach(data, func(pkt protocol.Packet) bool {
		switch p := pkt.(type) {
		case protocol.ReservationRequest:
			h.processReservationRequest(p, conn)
		case protocol.CancellationRequest:
			h.logger.Info().
				Str("remote", conn.remote).
				Stringer("leader", p.PartyLeader).
				Msg("received cancellation request")
			h.CancelPartyReservation(p.PartyLeader, conn)
		case protocol.Heartbeat:
			h.logger.Trace().Str("remote", conn.remote).Msg("heartbeat")
		default:
			h.logger.Warn().
				Str("remote", conn.remote).
				Stringer("type", pkt.Type()).
				Msg("unexpected packet type received from client")
		}
		return true
	})
	var trunc *protocol.TruncatedRequestError
	if errors.As(err, &trunc) {
		h.rejectTruncatedRequest(trunc, conn)
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", conn.remote).Msg("dropped malformed client packet")
	}
}

// rejectTruncatedRequest answers a request whose members do not fit in one
// read and skips the rest of it on the stream. Such a party can never be
// accepted since its members were not read.
func (h *Host) rejectTruncatedRequest(trunc *protocol.TruncatedRequestError, conn *ClientConnection) {
	conn.skip = trunc.Missing
	partySize := int(trunc.PartySize)

	result := h.validateReservation(trunc.PartyLeader, partySize, conn)
	if result == protocol.ReservationAccepted {
		result = protocol.IncorrectPlayerCount
	}
	h.logger.Info().
		Str("remote", conn.remote).
		Stringer("leader", trunc.PartyLeader).
		Int("party_size", partySize).
		Int64("skipped_bytes", trunc.Missing).
		Stringer("result", result).
		Msg("reservation rejected, party does not fit in one read")
	h.sendReservationResponse(conn, result)
	h.observer.ReservationRequested(trunc.PartyLeader, partySize, result, h.NumRemaining())
}

// processReservationRequest validates a request and, when it fits, records
// the reservation and tells every client the new remaining count.
func (h *Host) processReservationRequest(req protocol.ReservationRequest, conn *ClientConnection) {
	partySize := len(req.Members)
	logger := h.logger.With().
		Str("remote", conn.remote).
		Stringer("leader", req.PartyLeader).
		Int("party_size", partySize).
		Logger()
	logger.Info().Msg("received reservation request")

	result := h.validateReservation(req.PartyLeader, partySize, conn)
	if result != protocol.ReservationAccepted {
		logger.Info().Stringer("result", result).Msg("reservation rejected")
		h.sendReservationResponse(conn, result)
		h.observer.ReservationRequested(req.PartyLeader, partySize, result, h.NumRemaining())
		return
	}

	reservation := PartyReservation{
		PartyLeader:  req.PartyLeader,
		TeamNum:      h.teams.Assign(),
		PartyMembers: make([]protocol.PlayerReservation, partySize),
	}
	copy(reservation.PartyMembers, req.Members)
	h.reservations = append(h.reservations, reservation)
	h.numConsumedReservations += partySize
	conn.PartyLeader = req.PartyLeader

	for _, m := range reservation.PartyMembers {
		logger.Debug().
			Stringer("player", m.NetID).
			Int32("skill", m.Skill).
			Float32("mu", m.Mu).
			Float32("sigma", m.Sigma).
			Msg("reserved player")
	}
	logger.Info().Int("team", reservation.TeamNum).Msg("added reservation")

	h.roster.RegisterParty(h.sessionName, reservation.clone())
	h.sendReservationResponse(conn, protocol.ReservationAccepted)
	h.sendReservationUpdates()
	h.observer.ReservationRequested(req.PartyLeader, partySize, protocol.ReservationAccepted, h.NumRemaining())
	h.observer.ReservationChanged(h.NumRemaining())
	if h.numConsumedReservations == h.numReservations {
		h.observer.ReservationsFull()
	}
}

// validateReservation applies the capacity checks in order.
func (h *Host) validateReservation(leader protocol.UniqueNetID, partySize int, conn *ClientConnection) protocol.ReservationResult {
	if h.numConsumedReservations >= h.numReservations {
		return protocol.PartyLimitReached
	}
	// one reservation per leader and per connection
	if leader.IsZero() || conn.HasReservation() || h.findReservation(leader) >= 0 {
		return protocol.GeneralError
	}

	if partySize > h.numPlayersPerTeam ||
		partySize+h.numConsumedReservations > h.numReservations ||
		!h.teams.HasAvailable() {
		return protocol.IncorrectPlayerCount
	}
	return protocol.ReservationAccepted
}

// CancelPartyReservation removes the reservation held by leader, returns
// its team and acknowledges to conn. Unknown leaders are ignored.
func (h *Host) CancelPartyReservation(leader protocol.UniqueNetID, conn *ClientConnection) {
	idx := h.findReservation(leader)
	if idx < 0 {
		return
	}
	reservation := h.reservations[idx]

	h.teams.Release(reservation.TeamNum)
	h.observer.ClientCancellationReceived(leader)
	h.roster.UnregisterParty(h.sessionName, leader)
	if conn != nil {
		h.logger.Debug().Str("remote", conn.remote).Msg("sending cancellation acknowledgement")
		h.send(conn, protocol.CancellationResponse{})
	}
	h.numConsumedReservations -= len(reservation.PartyMembers)
	h.sendReservationUpdates()
	h.observer.ReservationChanged(h.NumRemaining())

	// so the owner's timeout does not cancel a second time
	for _, c := range h.clients {
		if c.PartyLeader == leader {
			c.PartyLeader = 0
		}
	}
	if conn != nil && conn.PartyLeader == leader {
		conn.PartyLeader = 0
	}
	h.reservations = append(h.reservations[:idx], h.reservations[idx+1:]...)

	h.logger.Info().
		Stringer("leader", leader).
		Int("team", reservation.TeamNum).
		Int("remaining", h.NumRemaining()).
		Msg("cancelled reservation")
}

// dropClient cancels the client's reservation, closes it and removes it.
func (h *Host) dropClient(i int) {
	conn := h.clients[i]
	leader := conn.PartyLeader
	h.CancelPartyReservation(conn.PartyLeader, conn)
	conn.close()
	h.clients = append(h.clients[:i], h.clients[i+1:]...)
	h.observer.ConnectionClosed(conn.remote, leader)
}

func (h *Host) findReservation(leader protocol.UniqueNetID) int {
	for i := range h.reservations {
		if h.reservations[i].PartyLeader == leader {
			return i
		}
	}
	return -1
}

func (h *Host) sendReservationResponse(conn *ClientConnection, result protocol.ReservationResult) {
	h.logger.Debug().
		Str("remote", conn.remote).
		Stringer("result", result).
		Int("remaining", h.NumRemaining()).
		Msg("sending host response")
	h.send(conn, protocol.ReservationResponse{Result: result, NumRemaining: int32(h.NumRemaining())})
}

// sendReservationUpdates broadcasts the remaining count to every client.
func (h *Host) sendReservationUpdates() {
	remaining := h.NumRemaining()
	h.logger.Debug().Int("remaining", remaining).Msg("sending reservation count update to clients")

	data := protocol.Encode(protocol.ReservationCountUpdate{NumRemaining: int32(remaining)})
	for _, c := range h.clients {
		h.sendRaw(c, data, protocol.PktHostReservationCountUpdate)
	}
}

// TellClientsToTravel sends the session to join to every reserved client
// and stops the host from ticking.
func (h *Host) TellClientsToTravel(sessionName, className string, platformInfo [protocol.PlatformInfoSize]byte) error {
	h.logger.Info().Str("session", sessionName).Str("class", className).Msg("sending travel information to clients")
	return h.broadcastTerminal(protocol.TravelRequest{
		SessionName:  sessionName,
		ClassName:    className,
		PlatformInfo: platformInfo,
	})
}

// TellClientsHostIsReady tells every reserved client the host is ready and
// stops the host from ticking.
func (h *Host) TellClientsHostIsReady() error {
	h.logger.Info().Msg("sending host is ready message to clients")
	return h.broadcastTerminal(protocol.HostIsReady{})
}

// TellClientsHostHasCancelled tells every reserved client the host gave up
// and stops the host from ticking.
func (h *Host) TellClientsHostHasCancelled() error {
	h.logger.Info().Msg("sending host has cancelled message to clients")
	return h.broadcastTerminal(protocol.HostHasCancelled{})
}

func (h *Host) broadcastTerminal(pkt protocol.Packet) error {
	if h.listener == nil {
		if h.phase == LifecycleDestroyed {
			return ErrAlreadyDestroyed
		}
		return ErrNoSocket
	}

	data := protocol.Encode(pkt)
	sent := 0
	for _, c := range h.clients {
		// unaccepted parties are not told where to go
		if !c.HasReservation() {
			continue
		}
		if h.sendRaw(c, data, pkt.Type()) {
			sent++
		}
	}
	h.shouldTick = false
	h.observer.ClientsNotified(pkt.Type(), sent)
	return nil
}

func (h *Host) send(conn *ClientConnection, pkt protocol.Packet) bool {
	return h.sendRaw(conn, protocol.Encode(pkt), pkt.Type())
}

// sendRaw writes one encoded packet. Failures are logged and otherwise
// ignored; the heartbeat timeout cleans up dead clients.
func (h *Host) sendRaw(conn *ClientConnection, data []byte, t protocol.PacketType) bool {
	if conn.socket == nil {
		return false
	}
	if _, err := conn.socket.Send(data); err != nil {
		h.logger.Error().
			Err(err).
			Str("remote", conn.remote).
			Stringer("type", t).
			Msg("failed to send packet to client")
		return false
	}
	return true
}

// ReservationSkills lists every reserved player with their skill values,
// in reservation order.
func (h *Host) ReservationSkills() SkillSnapshot {
	var s SkillSnapshot
	for _, r := range h.reservations {
		for _, m := range r.PartyMembers {
			s.Players = append(s.Players, m.NetID)
			s.Mus = append(s.Mus, m.Mu)
			s.Sigmas = append(s.Sigmas, m.Sigma)
		}
	}
	return s
}

// NumConsumedReservations returns the number of reserved player slots.
func (h *Host) NumConsumedReservations() int { return h.numConsumedReservations }

// NumRemaining returns the number of free player slots.
func (h *Host) NumRemaining() int { return h.numReservations - h.numConsumedReservations }

// Reservations returns copies of the current reservations.
func (h *Host) Reservations() []PartyReservation {
	out := make([]PartyReservation, 0, len(h.reservations))
	for _, r := range h.reservations {
		out = append(out, r.clone())
	}
	return out
}

// IsTicking reports whether Tick still does work.
func (h *Host) IsTicking() bool {
	return h.listener != nil && h.shouldTick && h.phase == LifecycleIdle
}

// Lifecycle returns the teardown state.
func (h *Host) Lifecycle() Lifecycle { return h.phase }

// Destroy closes every client and the listener. Called from inside Tick,
// the teardown is deferred until the tick returns.
func (h *Host) Destroy() error {
	return h.destroy()
}

func (h *Host) teardown() {
	for _, c := range h.clients {
		c.close()
	}
	h.clients = nil
	if h.listener != nil {
		h.listener.Close()
		h.listener = nil
	}
}

// Snapshot describes the host for operators.
func (h *Host) Snapshot() HostSnapshot {
	s := HostSnapshot{
		Name:                    h.name,
		SessionName:             h.sessionName,
		State:                   h.phase.String(),
		Ticking:                 h.IsTicking(),
		NumPlayersPerTeam:       h.numPlayersPerTeam,
		NumReservations:         h.numReservations,
		NumConsumedReservations: h.numConsumedReservations,
		NumRemaining:            h.NumRemaining(),
		Reservations:            h.Reservations(),
		Connections:             make([]ConnectionInfo, 0, len(h.clients)),
	}
	if h.listener != nil {
		s.ListenAddr = h.listener.Addr()
	}
	if h.teams != nil {
		s.NumTeams = h.teams.NumTeams()
		s.HostTeam = h.teams.HostTeam()
		s.AvailableTeams = h.teams.Available()
	}
	for _, c := range h.clients {
		s.Connections = append(s.Connections, ConnectionInfo{
			Remote: c.remote,
			Leader: c.PartyLeader,
			Idle:   c.ElapsedHeartbeat,
			Age:    c.Age,
		})
	}
	return s
}

// SkillSnapshot holds parallel lists of reserved players and their skill.
type SkillSnapshot struct {
	Players []protocol.UniqueNetID `json:"players"`
	Mus     []float32              `json:"mus"`
	Sigmas  []float32              `json:"sigmas"`
}

// HostSnapshot is a point-in-time copy of the host state.
type HostSnapshot struct {
	Name                    string             `json:"name"`
	ListenAddr              string             `json:"listen_addr"`
	SessionName             string             `json:"session_name"`
	State                   string             `json:"state"`
	Ticking                 bool               `json:"ticking"`
	NumTeams                int                `json:"num_teams"`
	HostTeam                int                `json:"host_team"`
	AvailableTeams          []int              `json:"available_teams"`
	NumPlayersPerTeam       int                `json:"num_players_per_team"`
	NumReservations         int                `json:"num_reservations"`
	NumConsumedReservations int                `json:"num_consumed_reservations"`
	NumRemaining            int                `json:"num_remaining"`
	Connections             []ConnectionInfo   `json:"connections"`
	Reservations            []PartyReservation `json:"reservations"`
}

// ConnectionInfo describes one client connection.
type ConnectionInfo struct {
	Remote string               `json:"remote"`
	Leader protocol.UniqueNetID `json:"leader"`
	Idle   time.Duration        `json:"idle"`
	Age    time.Duration        `json:"age"`
}
