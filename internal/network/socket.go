// Package network provides the non-blocking stream socket capability used by
// the party beacons, plus a TCP implementation of it.
//
// Every operation returns immediately. Operations that cannot make progress
// yet return ErrWouldBlock, and the caller polls again on its next tick.
package network

import "errors"

var (
	// ErrWouldBlock means the operation cannot complete without waiting.
	ErrWouldBlock = errors.New("network: operation would block")
	// ErrClosed is returned by operations on a closed socket.
	ErrClosed = errors.New("network: socket closed")
)

// ConnectionState is the state of an outbound connection attempt.
type ConnectionState int

const (
	StatePending ConnectionState = iota
	StateConnected
	StateError
)

var connectionStateStrings = map[ConnectionState]string{
	StatePending:   "pending",
	StateConnected: "connected",
	StateError:     "error",
}

// String returns the string representation of ConnectionState.
func (s ConnectionState) String() string {
	if str, ok := connectionStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// StreamSocket is one end of a byte stream.
type StreamSocket interface {
	// Send writes data and returns the number of bytes written.
	Send(data []byte) (int, error)
	// Recv copies pending bytes into buf. It returns ErrWouldBlock when
	// nothing is pending and io.EOF once the peer has closed the stream.
	Recv(buf []byte) (int, error)
	// ConnectionState reports the progress of the connect.
	ConnectionState() ConnectionState
	// RemoteAddr is the peer address.
	RemoteAddr() string
	Close() error
}

// ListenSocket accepts inbound stream sockets.
type ListenSocket interface {
	// Accept returns the next pending connection or ErrWouldBlock.
	Accept() (StreamSocket, error)
	Addr() string
	Close() error
}

// SocketFactory creates sockets. The beacons receive one at construction so
// tests can substitute an in-memory transport.
type SocketFactory interface {
	// Listen binds and listens on addr. backlog bounds the number of accepted
	// connections that may queue before the caller drains them.
	Listen(addr string, backlog int) (ListenSocket, error)
	// Dial starts a connection to addr and returns at once. The socket
	// reports StatePending until the connect finishes.
	Dial(addr string) (StreamSocket, error)
}
