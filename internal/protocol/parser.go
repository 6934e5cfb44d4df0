package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrOverflow is returned when a packet is truncated by the end of the read buffer.
	ErrOverflow = errors.New("protocol: packet overflows buffer")
	// ErrMalformed is returned for structurally invalid fields such as a negative party size.
	ErrMalformed = errors.New("protocol: malformed packet")
	// ErrUnknownPacket is matched by *UnknownPacketError.
	ErrUnknownPacket = errors.New("protocol: unknown packet type")
)

// UnknownPacketError carries the unrecognized tag byte.
type UnknownPacketError struct {
	Tag byte
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("protocol: unknown packet type %d", e.Tag)
}

// Is lets errors.Is match ErrUnknownPacket.
func (e *UnknownPacketError) Is(target error) bool {
	return target == ErrUnknownPacket
}

// Packet is one decoded beacon message. The concrete types below form a
// closed set keyed by PacketType.
type Packet interface {
	Type() PacketType
	encode(b *PacketBuilder)
}

// Heartbeat is the bare keep-alive.
type Heartbeat struct{}

// ReservationRequest asks the host to reserve slots for a party.
// Format: [leader:8][size:4][size * (net_id:8, skill:4, mu:4, sigma:4)]
type ReservationRequest struct {
	PartyLeader UniqueNetID
	Members     []PlayerReservation
}

// CancellationRequest releases a party's reservation.
// Format: [leader:8]
type CancellationRequest struct {
	PartyLeader UniqueNetID
}

// ReservationResponse is the host's verdict on a request.
// Format: [result:1][remaining:4]
type ReservationResponse struct {
	Result       ReservationResult
	NumRemaining int32
}

// CancellationResponse acknowledges a cancellation.
type CancellationResponse struct{}

// ReservationCountUpdate broadcasts the remaining slot count.
// Format: [remaining:4]
type ReservationCountUpdate struct {
	NumRemaining int32
}

// TravelRequest tells reserved clients which session to join.
// Format: [session:str][class:str][platform_info:68]
type TravelRequest struct {
	SessionName  string
	ClassName    string
	PlatformInfo [PlatformInfoSize]byte
}

// HostIsReady tells reserved clients the host is ready.
type HostIsReady struct{}

// HostHasCancelled tells reserved clients to find another host.
type HostHasCancelled struct{}

func (Heartbeat) Type() PacketType              { return PktHeartbeat }
func (ReservationRequest) Type() PacketType     { return PktClientReservationRequest }
func (CancellationRequest) Type() PacketType    { return PktClientCancellationRequest }
func (ReservationResponse) Type() PacketType    { return PktHostReservationResponse }
func (CancellationResponse) Type() PacketType   { return PktHostCancellationResponse }
func (ReservationCountUpdate) Type() PacketType { return PktHostReservationCountUpdate }
func (TravelRequest) Type() PacketType          { return PktHostTravelRequest }
func (HostIsReady) Type() PacketType            { return PktHostIsReady }
func (HostHasCancelled) Type() PacketType       { return PktHostHasCancelled }

func (Heartbeat) encode(*PacketBuilder)            {}
func (CancellationResponse) encode(*PacketBuilder) {}
func (HostIsReady) encode(*PacketBuilder)          {}
func (HostHasCancelled) encode(*PacketBuilder)     {}

func (p ReservationRequest) encode(b *PacketBuilder) {
	b.WriteNetID(p.PartyLeader)
	b.WriteInt32(int32(len(p.Members)))
	for _, m := range p.Members {
		b.WriteNetID(m.NetID).
			WriteInt32(m.Skill).
			WriteFloat32(m.Mu).
			WriteFloat32(m.Sigma)
	}
}

func (p CancellationRequest) encode(b *PacketBuilder) {
	b.WriteNetID(p.PartyLeader)
}

func (p ReservationResponse) encode(b *PacketBuilder) {
	b.WriteUint8(byte(p.Result))
	b.WriteInt32(p.NumRemaining)
}

func (p ReservationCountUpdate) encode(b *PacketBuilder) {
	b.WriteInt32(p.NumRemaining)
}

func (p TravelRequest) encode(b *PacketBuilder) {
	b.WriteString(p.SessionName)
	b.WriteString(p.ClassName)
	b.WriteBytes(p.PlatformInfo[:])
}

// Encode serializes a packet including its tag byte.
func Encode(p Packet) []byte {
	b := NewPacketBuilder()
	b.WriteType(p.Type())
	p.encode(b)
	return b.Build()
}

// TruncatedRequestError is returned when a reservation request header was
// read but its members run past the end of the buffer. Missing is the
// number of member bytes still to arrive on the stream. It matches
// ErrOverflow.
type TruncatedRequestError struct {
	PartyLeader UniqueNetID
	PartySize   int32
	Missing     int64
}

func (e *TruncatedRequestError) Error() string {
	return fmt.Sprintf("decode %s: %d members: %v", PktClientReservationRequest, e.PartySize, ErrOverflow)
}

func (e *TruncatedRequestError) Unwrap() error { return ErrOverflow }

// Decode reads exactly one packet from r. On ErrOverflow or an unknown tag
// the caller must stop processing the buffer.
func Decode(r *PacketReader) (Packet, error) {
	tag := r.ReadUint8()
	if r.HasOverflow() {
		return nil, ErrOverflow
	}

	var pkt Packet
	switch PacketType(tag) {
	case PktHeartbeat:
		pkt = Heartbeat{}
	case PktClientReservationRequest:
		req, err := decodeReservationRequest(r)
		if err != nil {
			return nil, err
		}
		pkt = req
	case PktClientCancellationRequest:
		pkt = CancellationRequest{PartyLeader: r.ReadNetID()}
	case PktHostReservationResponse:
		result := r.ReadUint8()
		remaining := r.ReadInt32()
		pkt = ReservationResponse{Result: ParseReservationResult(result), NumRemaining: remaining}
	case PktHostCancellationResponse:
		pkt = CancellationResponse{}
	case PktHostReservationCountUpdate:
		pkt = ReservationCountUpdate{NumRemaining: r.ReadInt32()}
	case PktHostTravelRequest:
		var travel TravelRequest
		travel.SessionName = r.ReadString()
		travel.ClassName = r.ReadString()
		r.ReadBytes(travel.PlatformInfo[:])
		pkt = travel
	case PktHostIsReady:
		pkt = HostIsReady{}
	case PktHostHasCancelled:
		pkt = HostHasCancelled{}
	default:
		return nil, &UnknownPacketError{Tag: tag}
	}

	if r.HasOverflow() {
		return nil, fmt.Errorf("decode %s: %w", PacketType(tag), ErrOverflow)
	}
	return pkt, nil
}

func decodeReservationRequest(r *PacketReader) (ReservationRequest, error) {
	req := ReservationRequest{PartyLeader: r.ReadNetID()}
	size := r.ReadInt32()
	if r.HasOverflow() {
		return req, fmt.Errorf("decode %s: %w", PktClientReservationRequest, ErrOverflow)
	}
	if size < 0 {
		return req, fmt.Errorf("decode %s: negative party size %d: %w", PktClientReservationRequest, size, ErrMalformed)
	}
	if need := int64(size) * playerReservationSize; need > int64(r.Remaining()) {
		missing := need - int64(r.Remaining())
		// The member bytes in this buffer belong to the request, never to a
		// following packet.
		r.off = len(r.data)
		r.overflow = true
		return req, &TruncatedRequestError{PartyLeader: req.PartyLeader, PartySize: size, Missing: missing}
	}

	if size == 0 {
		return req, nil
	}
	req.Members = make([]PlayerReservation, size)
	for i := range req.Members {
		req.Members[i] = PlayerReservation{
			NetID: r.ReadNetID(),
			Skill: r.ReadInt32(),
			Mu:    r.ReadFloat32(),
			Sigma: r.ReadFloat32(),
		}
	}
	return req, nil
}

// DecodeEach decodes packets from data until the buffer is exhausted, a
// decode error occurs, or fn returns false. The returned error is the one that
// stopped decoding, or nil.
func DecodeEach(data []byte, fn func(Packet) bool) error {
	r := NewPacketReader(data)
	for r.Remaining() > 0 {
		pkt, err := Decode(r)
		if err != nil {
			return err
		}
		if !fn(pkt) {
			return nil
		}
	}
	return nil
}
