package beacon

import (
	"time"

	"github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

// ClientConnection is the host's record of one connected client.
// PartyLeader is zero until the client's reservation is accepted.
type ClientConnection struct {
	socket network.StreamSocket
	remote string
	// skip counts bytes of a rejected oversized request still on the stream.
	skip int64

	PartyLeader protocol.UniqueNetID
	// ElapsedHeartbeat is the time since anything was read from the client.
	ElapsedHeartbeat time.Duration
	// Age is the time since the connection was accepted.
	Age time.Duration
}

func newClientConnection(s network.StreamSocket) *ClientConnection {
	return &ClientConnection{
		socket: s,
		remote: s.RemoteAddr(),
	}
}

// RemoteAddr returns the client's address.
func (c *ClientConnection) RemoteAddr() string {
	return c.remote
}

// HasReservation reports whether an accepted reservation is bound to this connection.
func (c *ClientConnection) HasReservation() bool {
	return !c.PartyLeader.IsZero()
}

func (c *ClientConnection) close() {
	if c.socket != nil {
		c.socket.Close()
		c.socket = nil
	}
}

// PartyReservation is an accepted reservation held by the host.
type PartyReservation struct {
	PartyLeader  protocol.UniqueNetID         `json:"party_leader"`
	TeamNum      int                          `json:"team_num"`
	PartyMembers []protocol.PlayerReservation `json:"party_members"`
}

func (r PartyReservation) clone() PartyReservation {
	members := make([]protocol.PlayerReservation, len(r.PartyMembers))
	copy(members, r.PartyMembers)
	r.PartyMembers = members
	return r
}
