// Package protocol implements the party beacon wire format shared by the
// host and client beacons. Every packet starts with a one byte PacketType tag
// followed by a payload encoded in network byte order (big-endian).
package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// PacketType is the leading tag byte of every beacon packet.
// The numeric values are part of the wire format and must not be reordered.
type PacketType byte

const (
	PktHeartbeat                  PacketType = iota // Keep-alive, both directions
	PktClientReservationRequest                     // Client asks for party slots
	PktClientCancellationRequest                    // Client gives its slots back
	PktHostReservationResponse                      // Result + remaining count
	PktHostCancellationResponse                     // Ack of a cancellation
	PktHostReservationCountUpdate                   // Broadcast of remaining count
	PktHostTravelRequest                            // Session to travel to
	PktHostIsReady                                  // Host is ready for clients
	PktHostHasCancelled                             // Host abandoned the round
	PktUnknown                                      // Never sent
)

var packetTypeStrings = map[PacketType]string{
	PktHeartbeat:                  "heartbeat",
	PktClientReservationRequest:   "client_reservation_request",
	PktClientCancellationRequest:  "client_cancellation_request",
	PktHostReservationResponse:    "host_reservation_response",
	PktHostCancellationResponse:   "host_cancellation_response",
	PktHostReservationCountUpdate: "host_reservation_count_update",
	PktHostTravelRequest:          "host_travel_request",
	PktHostIsReady:                "host_is_ready",
	PktHostHasCancelled:           "host_has_cancelled",
}

// String returns the string representation of PacketType.
func (t PacketType) String() string {
	if str, ok := packetTypeStrings[t]; ok {
		return str
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// Valid reports whether t is a tag that may appear on the wire.
func (t PacketType) Valid() bool {
	return t < PktUnknown
}

// ReservationResult is the outcome carried by a HostReservationResponse.
type ReservationResult byte

const (
	ReservationAccepted ReservationResult = iota
	IncorrectPlayerCount
	PartyLimitReached
	GeneralError
)

var reservationResultStrings = map[ReservationResult]string{
	ReservationAccepted:  "reservation_accepted",
	IncorrectPlayerCount: "incorrect_player_count",
	PartyLimitReached:    "party_limit_reached",
	GeneralError:         "general_error",
}

// String returns the string representation of ReservationResult.
func (r ReservationResult) String() string {
	if str, ok := reservationResultStrings[r]; ok {
		return str
	}
	return "general_error"
}

// MarshalJSON serializes ReservationResult as a JSON string.
func (r ReservationResult) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// ParseReservationResult maps a wire byte to a result. Unrecognized values
// are treated as GeneralError.
func ParseReservationResult(b byte) ReservationResult {
	r := ReservationResult(b)
	if _, ok := reservationResultStrings[r]; !ok {
		return GeneralError
	}
	return r
}

// ResultFromString is the inverse of ReservationResult.String. Unknown
// names map to GeneralError.
func ResultFromString(s string) ReservationResult {
	for r, str := range reservationResultStrings {
		if str == s {
			return r
		}
	}
	return GeneralError
}

// UniqueNetID is the opaque 64-bit identity of a player or party leader.
// Zero means unassigned.
type UniqueNetID uint64

// String formats the id the way the beacon logs it.
func (id UniqueNetID) String() string {
	return fmt.Sprintf("0x%016X", uint64(id))
}

// IsZero reports whether the id is unassigned.
func (id UniqueNetID) IsZero() bool {
	return id == 0
}

// MarshalText encodes the id as hex so JSON consumers keep all 64 bits.
func (id UniqueNetID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText accepts the forms ParseUniqueNetID does.
func (id *UniqueNetID) UnmarshalText(text []byte) error {
	v, err := ParseUniqueNetID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseUniqueNetID parses a hex id with or without a 0x prefix.
func ParseUniqueNetID(s string) (UniqueNetID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid net id %q: %w", s, err)
	}
	return UniqueNetID(v), nil
}

// PlayerReservation is one player's matchmaking snapshot at request time.
type PlayerReservation struct {
	NetID UniqueNetID `json:"net_id"`
	Skill int32       `json:"skill"`
	Mu    float32     `json:"mu"`
	Sigma float32     `json:"sigma"`
}

// PlatformInfoSize is the size of the opaque session blob in a travel request.
const PlatformInfoSize = 68

// ParsePlatformInfo decodes a hex platform blob of at most PlatformInfoSize
// bytes. Shorter values are zero padded.
func ParsePlatformInfo(s string) ([PlatformInfoSize]byte, error) {
	var info [PlatformInfoSize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return info, fmt.Errorf("platform info is not hex: %w", err)
	}
	if len(raw) > len(info) {
		return info, fmt.Errorf("platform info is %d bytes, max %d", len(raw), len(info))
	}
	copy(info[:], raw)
	return info, nil
}

// ReadBufferSize is the capacity of a single socket read on either side.
const ReadBufferSize = 512

// playerReservationSize is the encoded size of a PlayerReservation.
const playerReservationSize = 8 + 4 + 4 + 4

// reservationHeaderSize is the tag, leader and party size of a
// ClientReservationRequest.
const reservationHeaderSize = 1 + 8 + 4

// MaxPartySize is the largest party whose reservation request fits in one
// read. Larger parties are always rejected.
const MaxPartySize = (ReadBufferSize - reservationHeaderSize) / playerReservationSize
