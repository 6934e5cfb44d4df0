package beacon

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

// memNet is a single-goroutine in-memory SocketFactory.
type memNet struct {
	listeners map[string]*memListener
	listenErr error
	// holdConnect leaves dialed sockets pending until released.
	holdConnect bool
	dialed      []*memSocket
	nextPort    int
}

func newMemNet() *memNet {
	return &memNet{listeners: make(map[string]*memListener), nextPort: 50000}
}

func (n *memNet) Listen(addr string, backlog int) (network.ListenSocket, error) {
	if n.listenErr != nil {
		return nil, n.listenErr
	}
	if _, ok := n.listeners[addr]; ok {
		return nil, fmt.Errorf("address %s in use", addr)
	}
	l := &memListener{net: n, addr: addr, backlog: backlog}
	n.listeners[addr] = l
	return l, nil
}

func (n *memNet) Dial(addr string) (network.StreamSocket, error) {
	n.nextPort++
	local := fmt.Sprintf("10.0.0.99:%d", n.nextPort)
	client := &memSocket{remote: addr, state: network.StateConnected}
	n.dialed = append(n.dialed, client)

	l, ok := n.listeners[addr]
	if !ok || l.closed {
		client.state = network.StateError
		return client, nil
	}
	if n.holdConnect {
		client.state = network.StatePending
	}

	server := &memSocket{remote: local, state: network.StateConnected}
	client.peer, server.peer = server, client
	l.pending = append(l.pending, server)
	return client, nil
}

// connect dials addr and fails the test on error.
func (n *memNet) connect(t *testing.T, addr string) *memSocket {
	t.Helper()
	s, err := n.Dial(addr)
	require.NoError(t, err)
	ms := s.(*memSocket)
	require.Equal(t, network.StateConnected, ms.state)
	return ms
}

type memListener struct {
	net     *memNet
	addr    string
	backlog int
	pending []*memSocket
	closed  bool
}

func (l *memListener) Accept() (network.StreamSocket, error) {
	if l.closed {
		return nil, network.ErrClosed
	}
	if len(l.pending) == 0 {
		return nil, network.ErrWouldBlock
	}
	s := l.pending[0]
	l.pending = l.pending[1:]
	return s, nil
}

func (l *memListener) Addr() string { return l.addr }

func (l *memListener) Close() error {
	l.closed = true
	delete(l.net.listeners, l.addr)
	return nil
}

type memSocket struct {
	peer    *memSocket
	remote  string
	state   network.ConnectionState
	inbox   []byte
	closed  bool
	sendErr error
	recvErr error
	sent    int
}

func (s *memSocket) Send(data []byte) (int, error) {
	if s.closed {
		return 0, network.ErrClosed
	}
	switch s.state {
	case network.StatePending:
		return 0, network.ErrWouldBlock
	case network.StateError:
		return 0, errors.New("connection refused")
	}
	if s.sendErr != nil {
		return 0, s.sendErr
	}
	s.sent++
	if s.peer != nil && !s.peer.closed {
		s.peer.inbox = append(s.peer.inbox, data...)
	}
	return len(data), nil
}

func (s *memSocket) Recv(buf []byte) (int, error) {
	if s.closed {
		return 0, network.ErrClosed
	}
	if len(s.inbox) > 0 {
		n := copy(buf, s.inbox)
		s.inbox = s.inbox[n:]
		return n, nil
	}
	if s.recvErr != nil {
		return 0, s.recvErr
	}
	if s.peer != nil && s.peer.closed {
		return 0, io.EOF
	}
	return 0, network.ErrWouldBlock
}

func (s *memSocket) ConnectionState() network.ConnectionState { return s.state }
func (s *memSocket) RemoteAddr() string                       { return s.remote }

func (s *memSocket) Close() error {
	s.closed = true
	return nil
}

// write sends encoded packets, failing the test on error.
func (s *memSocket) write(t *testing.T, pkts ...protocol.Packet) {
	t.Helper()
	var data []byte
	for _, p := range pkts {
		data = append(data, protocol.Encode(p)...)
	}
	_, err := s.Send(data)
	require.NoError(t, err)
}

// packets decodes and consumes everything in the inbox.
func (s *memSocket) packets(t *testing.T) []protocol.Packet {
	t.Helper()
	var out []protocol.Packet
	err := protocol.DecodeEach(s.inbox, func(p protocol.Packet) bool {
		out = append(out, p)
		return true
	})
	require.NoError(t, err)
	s.inbox = nil
	return out
}

// zeroRand always draws the first candidate.
type zeroRand struct{}

func (zeroRand) Intn(int) int { return 0 }

// seqRand replays fixed draws, wrapping each into range.
type seqRand struct {
	draws []int
	i     int
}

func (r *seqRand) Intn(n int) int {
	if len(r.draws) == 0 {
		return 0
	}
	v := r.draws[r.i%len(r.draws)]
	r.i++
	return v % n
}
