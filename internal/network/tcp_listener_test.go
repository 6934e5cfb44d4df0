package network

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	pollAt  = 5 * time.Millisecond
)

// connectPair returns both ends of a loopback connection.
func connectPair(t *testing.T) (ListenSocket, StreamSocket, StreamSocket) {
	t.Helper()

	f := NewTCPFactory()
	ln, err := f.Listen("127.0.0.1:0", 4)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	client, err := f.Dial(ln.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.Eventually(t, func() bool {
		return client.ConnectionState() == StateConnected
	}, waitFor, pollAt)

	var server StreamSocket
	require.Eventually(t, func() bool {
		s, err := ln.Accept()
		if err != nil {
			return false
		}
		server = s
		return true
	}, waitFor, pollAt)
	t.Cleanup(func() { server.Close() })

	return ln, client, server
}

// recvAll polls until want bytes have arrived.
func recvAll(t *testing.T, s StreamSocket, want int) []byte {
	t.Helper()
	var got []byte
	buf := make([]byte, 512)
	require.Eventually(t, func() bool {
		n, err := s.Recv(buf)
		if err == nil {
			got = append(got, buf[:n]...)
		}
		return len(got) >= want
	}, waitFor, pollAt)
	return got
}

func TestTCP_AcceptWouldBlock(t *testing.T) {
	f := NewTCPFactory()
	ln, err := f.Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.Close()

	_, err = ln.Accept()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestTCP_SendRecv(t *testing.T) {
	_, client, server := connectPair(t)

	buf := make([]byte, 16)
	_, err := server.Recv(buf)
	assert.ErrorIs(t, err, ErrWouldBlock)

	n, err := client.Send([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, recvAll(t, server, 3))

	_, err = server.Send([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), recvAll(t, client, 4))
}

func TestTCP_RecvSmallBufferKeepsRemainder(t *testing.T) {
	_, client, server := connectPair(t)

	_, err := client.Send([]byte("abcdef"))
	require.NoError(t, err)

	got := recvAll(t, server, 6)
	assert.Equal(t, "abcdef", string(got))

	_, err = client.Send([]byte("xyz"))
	require.NoError(t, err)

	small := make([]byte, 2)
	var first []byte
	require.Eventually(t, func() bool {
		n, err := server.Recv(small)
		if err != nil {
			return false
		}
		first = append(first, small[:n]...)
		return true
	}, waitFor, pollAt)
	assert.LessOrEqual(t, len(first), 2)
	rest := recvAll(t, server, 3-len(first))
	assert.Equal(t, "xyz", string(first)+string(rest))
}

func TestTCP_PeerCloseReportsEOF(t *testing.T) {
	_, client, server := connectPair(t)

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		_, err := server.Recv(make([]byte, 8))
		return errors.Is(err, io.EOF)
	}, waitFor, pollAt)
}

func TestTCP_ClosedSocket(t *testing.T) {
	ln, client, _ := connectPair(t)

	require.NoError(t, client.Close())
	_, err := client.Send([]byte{1})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = client.Recv(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, client.Close())

	require.NoError(t, ln.Close())
	_, err = ln.Accept()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTCP_DialRefused(t *testing.T) {
	f := NewTCPFactory()
	ln, err := f.Listen("127.0.0.1:0", 1)
	require.NoError(t, err)
	addr := ln.Addr()
	require.NoError(t, ln.Close())

	s, err := f.Dial(addr)
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool {
		return s.ConnectionState() == StateError
	}, waitFor, pollAt)

	_, err = s.Send([]byte{1})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrWouldBlock)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", ConnectionState(9).String())
}
