package beacon

import "github.com/energizer-project/partybeacon/internal/protocol"

// HostObserver receives host beacon events. Calls happen on the ticking
// goroutine and may call back into the host, including Destroy.
type HostObserver interface {
	ConnectionOpened(remote string)
	ConnectionClosed(remote string, leader protocol.UniqueNetID)
	// ReservationRequested reports the verdict sent for every request.
	ReservationRequested(leader protocol.UniqueNetID, partySize int, result protocol.ReservationResult, remaining int)
	ReservationChanged(remaining int)
	ReservationsFull()
	ClientCancellationReceived(leader protocol.UniqueNetID)
	// ClientsNotified reports a terminal broadcast (travel, ready or cancelled).
	ClientsNotified(pkt protocol.PacketType, recipients int)
}

// ClientObserver receives client beacon events.
type ClientObserver interface {
	ReservationRequestComplete(result protocol.ReservationResult, remaining int)
	ReservationCountUpdated(remaining int)
	TravelRequestReceived(travel protocol.TravelRequest)
	HostIsReady()
	// HostHasCancelled also covers every transport failure and timeout.
	HostHasCancelled()
	CancellationRequestComplete()
}

// SessionRoster is the externally owned session the host adds accepted
// parties to and removes cancelled parties from.
type SessionRoster interface {
	RegisterParty(session string, reservation PartyReservation)
	UnregisterParty(session string, leader protocol.UniqueNetID)
}

// NopHostObserver ignores every event. Embed it to implement a subset.
type NopHostObserver struct{}

func (NopHostObserver) ConnectionOpened(string)                       {}
func (NopHostObserver) ConnectionClosed(string, protocol.UniqueNetID) {}
func (NopHostObserver) ReservationRequested(protocol.UniqueNetID, int, protocol.ReservationResult, int) {
}
func (NopHostObserver) ReservationChanged(int)                          {}
func (NopHostObserver) ReservationsFull()                               {}
func (NopHostObserver) ClientCancellationReceived(protocol.UniqueNetID) {}
func (NopHostObserver) ClientsNotified(protocol.PacketType, int)        {}

// NopClientObserver ignores every event.
type NopClientObserver struct{}

func (NopClientObserver) ReservationRequestComplete(protocol.ReservationResult, int) {}
func (NopClientObserver) ReservationCountUpdated(int)                                {}
func (NopClientObserver) TravelRequestReceived(protocol.TravelRequest)               {}
func (NopClientObserver) HostIsReady()                                               {}
func (NopClientObserver) HostHasCancelled()                                          {}
func (NopClientObserver) CancellationRequestComplete()                               {}

// NopRoster is a SessionRoster that keeps nothing.
type NopRoster struct{}

func (NopRoster) RegisterParty(string, PartyReservation)       {}
func (NopRoster) UnregisterParty(string, protocol.UniqueNetID) {}
