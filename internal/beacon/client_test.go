package beacon

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

const (
	remoteHost = "10.0.0.1"
	remoteAddr = "10.0.0.1:14001"
	leaderID   = protocol.UniqueNetID(0x0110000100000001)
)

type clientRecorder struct {
	results    []protocol.ReservationResult
	remaining  []int
	counts     []int
	travel     []protocol.TravelRequest
	ready      int
	cancelled  int
	cancelAcks int
	onResult   func()
}

func (r *clientRecorder) ReservationRequestComplete(result protocol.ReservationResult, remaining int) {
	r.results = append(r.results, result)
	r.remaining = append(r.remaining, remaining)
	if r.onResult != nil {
		r.onResult()
	}
}
func (r *clientRecorder) ReservationCountUpdated(remaining int) {
	r.counts = append(r.counts, remaining)
}
func (r *clientRecorder) TravelRequestReceived(t protocol.TravelRequest) {
	r.travel = append(r.travel, t)
}
func (r *clientRecorder) HostIsReady()                 { r.ready++ }
func (r *clientRecorder) HostHasCancelled()            { r.cancelled++ }
func (r *clientRecorder) CancellationRequestComplete() { r.cancelAcks++ }

type registrarRecorder struct {
	registerErr  error
	resolveErr   error
	registered   int
	unregistered int
	port         int
}

func (r *registrarRecorder) RegisterAddress(HostInfo) error {
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered++
	return nil
}

func (r *registrarRecorder) ResolveAddress(_ HostInfo, port int) (string, error) {
	if r.resolveErr != nil {
		return "", r.resolveErr
	}
	r.port = port
	return remoteHost + ":" + strconv.Itoa(port), nil
}

func (r *registrarRecorder) UnregisterAddress(HostInfo) { r.unregistered++ }

type clientFixture struct {
	client *Client
	net    *memNet
	rec    *clientRecorder
	reg    *registrarRecorder
	server *memSocket
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()
	f := &clientFixture{net: newMemNet(), rec: &clientRecorder{}, reg: &registrarRecorder{}}
	_, err := f.net.Listen(remoteAddr, 1)
	require.NoError(t, err)

	f.client = NewClient(ClientConfig{
		Name:                      "test_client",
		Port:                      14001,
		HeartbeatTimeout:          10 * time.Second,
		ReservationRequestTimeout: 10 * time.Second,
	}, f.net, f.reg, f.rec)
	return f
}

func (f *clientFixture) request(t *testing.T) {
	t.Helper()
	require.NoError(t, f.client.RequestReservation(
		HostInfo{SessionName: "Game", Addr: remoteHost + ":7777"},
		leaderID,
		party(leaderID, 2).Members,
	))
	assert.Equal(t, ClientConnecting, f.client.State())
}

// awaiting drives the client until its request reached the host.
func (f *clientFixture) awaiting(t *testing.T) {
	t.Helper()
	f.request(t)

	f.client.Tick(0)
	require.Equal(t, ClientConnected, f.client.State())
	f.client.Tick(0)
	require.Equal(t, ClientAwaitingResponse, f.client.State())

	s, err := f.net.listeners[remoteAddr].Accept()
	require.NoError(t, err)
	f.server = s.(*memSocket)
	require.Equal(t, []protocol.Packet{party(leaderID, 2)}, f.server.packets(t))
}

func TestClient_ReservationFlow(t *testing.T) {
	f := newClientFixture(t)
	f.awaiting(t)
	assert.Equal(t, 14001, f.reg.port)
	assert.Equal(t, 1, f.reg.registered)

	f.server.write(t, response(protocol.ReservationAccepted, 4), protocol.ReservationCountUpdate{NumRemaining: 4})
	f.client.Tick(time.Second)

	assert.Equal(t, []protocol.ReservationResult{protocol.ReservationAccepted}, f.rec.results)
	assert.Equal(t, []int{4}, f.rec.remaining)
	assert.Equal(t, []int{4}, f.rec.counts)
	assert.True(t, f.client.IsTicking())
	assert.Equal(t, ClientAwaitingResponse, f.client.State())

	f.server.write(t, protocol.HostIsReady{})
	f.client.Tick(time.Second)

	assert.Equal(t, 1, f.rec.ready)
	assert.Equal(t, 1, f.reg.unregistered)
	assert.False(t, f.client.IsTicking())
	assert.Equal(t, ClientClosed, f.client.State())

	f.server.write(t, protocol.HostHasCancelled{})
	f.client.Tick(time.Second)
	assert.Zero(t, f.rec.cancelled)

	require.NoError(t, f.client.Destroy())
	assert.Equal(t, 1, f.reg.unregistered)
	assert.True(t, f.net.dialed[0].closed)
}

func TestClient_HeartbeatTimeoutCancelsOnce(t *testing.T) {
	f := newClientFixture(t)
	f.awaiting(t)

	f.client.Tick(6 * time.Second)
	assert.Zero(t, f.rec.cancelled)
	f.client.Tick(6 * time.Second)

	assert.Equal(t, 1, f.rec.cancelled)
	assert.Equal(t, 1, f.reg.unregistered)
	assert.False(t, f.client.IsTicking())

	f.client.Tick(time.Minute)
	f.client.Tick(time.Minute)
	assert.Equal(t, 1, f.rec.cancelled)

	require.NoError(t, f.client.Destroy())
	assert.Equal(t, 1, f.reg.unregistered)
}

func TestClient_HeartbeatIsEchoedAndResetsTimer(t *testing.T) {
	f := newClientFixture(t)
	f.awaiting(t)

	f.client.Tick(6 * time.Second)
	f.server.write(t, protocol.Heartbeat{})
	f.client.Tick(6 * time.Second)

	assert.Equal(t, []protocol.Packet{protocol.Heartbeat{}}, f.server.packets(t))
	assert.Zero(t, f.rec.cancelled)

	// any packet counts as a sign of life
	f.client.Tick(6 * time.Second)
	f.server.write(t, protocol.ReservationCountUpdate{NumRemaining: 3})
	f.client.Tick(6 * time.Second)
	assert.Zero(t, f.rec.cancelled)
	assert.Equal(t, []int{3}, f.rec.counts)

	f.client.Tick(11 * time.Second)
	assert.Equal(t, 1, f.rec.cancelled)
}

func TestClient_TerminalPackets(t *testing.T) {
	var info [protocol.PlatformInfoSize]byte
	info[5] = 0x42
	travel := protocol.TravelRequest{SessionName: "Game", ClassName: "Engine.GameSearch", PlatformInfo: info}

	tests := []struct {
		name  string
		pkt   protocol.Packet
		check func(t *testing.T, rec *clientRecorder)
	}{
		{"travel", travel, func(t *testing.T, rec *clientRecorder) {
			assert.Equal(t, []protocol.TravelRequest{travel}, rec.travel)
		}},
		{"host ready", protocol.HostIsReady{}, func(t *testing.T, rec *clientRecorder) {
			assert.Equal(t, 1, rec.ready)
		}},
		{"host cancelled", protocol.HostHasCancelled{}, func(t *testing.T, rec *clientRecorder) {
			assert.Equal(t, 1, rec.cancelled)
		}},
		{"cancellation ack", protocol.CancellationResponse{}, func(t *testing.T, rec *clientRecorder) {
			assert.Equal(t, 1, rec.cancelAcks)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newClientFixture(t)
			f.awaiting(t)

			// nothing after a terminal packet is processed
			f.server.write(t, tt.pkt, protocol.HostHasCancelled{}, protocol.ReservationCountUpdate{NumRemaining: 1})
			f.client.Tick(time.Second)

			tt.check(t, f.rec)
			assert.Empty(t, f.rec.counts)
			assert.LessOrEqual(t, f.rec.cancelled, 1)
			assert.Equal(t, 1, f.reg.unregistered)
			assert.False(t, f.client.IsTicking())
			assert.Equal(t, ClientClosed, f.client.State())
		})
	}
}

func TestClient_UnknownResultIsGeneralError(t *testing.T) {
	f := newClientFixture(t)
	f.awaiting(t)

	_, err := f.server.Send([]byte{byte(protocol.PktHostReservationResponse), 0x7F, 0, 0, 0, 2})
	require.NoError(t, err)
	f.client.Tick(0)

	assert.Equal(t, []protocol.ReservationResult{protocol.GeneralError}, f.rec.results)
	assert.Equal(t, []int{2}, f.rec.remaining)
}

func TestClient_MalformedDataIsDropped(t *testing.T) {
	f := newClientFixture(t)
	f.awaiting(t)

	_, err := f.server.Send([]byte{0xEE, 0x01})
	require.NoError(t, err)
	f.client.Tick(0)

	assert.True(t, f.client.IsTicking())
	assert.Empty(t, f.rec.results)
}

func TestClient_HostClosedConnection(t *testing.T) {
	f := newClientFixture(t)
	f.awaiting(t)

	require.NoError(t, f.server.Close())
	f.client.Tick(0)

	assert.Equal(t, 1, f.rec.cancelled)
	assert.Equal(t, 1, f.reg.unregistered)
}

func TestClient_ConnectFailures(t *testing.T) {
	t.Run("connect timeout", func(t *testing.T) {
		f := newClientFixture(t)
		f.net.holdConnect = true
		f.request(t)

		f.client.Tick(4 * time.Second)
		f.client.Tick(4 * time.Second)
		assert.Equal(t, ClientConnecting, f.client.State())
		assert.Zero(t, f.rec.cancelled)

		f.client.Tick(4 * time.Second)
		assert.Equal(t, 1, f.rec.cancelled)
		assert.Equal(t, 1, f.reg.unregistered)
	})

	t.Run("connection refused", func(t *testing.T) {
		f := newClientFixture(t)
		f.net.listeners[remoteAddr].Close()
		f.request(t)

		f.client.Tick(0)
		assert.Equal(t, 1, f.rec.cancelled)
		assert.False(t, f.client.IsTicking())

		f.client.Tick(0)
		assert.Equal(t, 1, f.rec.cancelled)
	})

	t.Run("request send fails", func(t *testing.T) {
		f := newClientFixture(t)
		f.request(t)
		f.client.Tick(0)
		require.Equal(t, ClientConnected, f.client.State())

		f.net.dialed[0].sendErr = errors.New("broken pipe")
		f.client.Tick(0)
		assert.Equal(t, 1, f.rec.cancelled)
	})

	t.Run("request timeout spans connect and send", func(t *testing.T) {
		f := newClientFixture(t)
		f.net.holdConnect = true
		f.request(t)
		f.client.Tick(9 * time.Second)

		f.net.dialed[0].state = network.StateConnected
		f.client.Tick(0)
		require.Equal(t, ClientConnected, f.client.State())

		f.client.Tick(2 * time.Second)
		assert.Equal(t, 1, f.rec.cancelled)
	})
}

func TestClient_RequestReservationErrors(t *testing.T) {
	t.Run("register failure", func(t *testing.T) {
		f := newClientFixture(t)
		f.reg.registerErr = errors.New("no keys")

		err := f.client.RequestReservation(HostInfo{Addr: remoteHost}, leaderID, nil)
		assert.ErrorIs(t, err, ErrRegisterAddress)
		assert.Equal(t, LifecycleDestroyed, f.client.Lifecycle())
		assert.Zero(t, f.reg.unregistered)

		err = f.client.RequestReservation(HostInfo{Addr: remoteHost}, leaderID, nil)
		assert.ErrorIs(t, err, ErrAlreadyDestroyed)
	})

	t.Run("resolve failure", func(t *testing.T) {
		f := newClientFixture(t)
		f.reg.resolveErr = errors.New("no such host")

		err := f.client.RequestReservation(HostInfo{Addr: "nowhere"}, leaderID, nil)
		assert.ErrorIs(t, err, ErrResolveAddress)
		assert.Equal(t, 1, f.reg.unregistered)
		assert.Empty(t, f.net.dialed)
	})

	t.Run("request already in progress", func(t *testing.T) {
		f := newClientFixture(t)
		f.request(t)

		err := f.client.RequestReservation(HostInfo{Addr: remoteHost}, leaderID, nil)
		assert.ErrorIs(t, err, ErrRequestInProgress)
	})
}

func TestClient_CancelReservation(t *testing.T) {
	f := newClientFixture(t)
	f.awaiting(t)

	require.NoError(t, f.client.CancelReservation(leaderID))
	assert.Equal(t, []protocol.Packet{protocol.CancellationRequest{PartyLeader: leaderID}}, f.server.packets(t))
	assert.False(t, f.client.IsTicking())

	f.client.Tick(time.Minute)
	assert.Zero(t, f.rec.cancelled)

	idle := NewClient(ClientConfig{}, newMemNet(), nil, nil)
	assert.ErrorIs(t, idle.CancelReservation(leaderID), ErrNoSocket)
}

func TestClient_DestroyInsideTickIsDeferred(t *testing.T) {
	f := newClientFixture(t)
	f.awaiting(t)
	f.rec.onResult = func() {
		require.NoError(t, f.client.Destroy())
		assert.Equal(t, LifecyclePendingDestroy, f.client.Lifecycle())
		assert.Zero(t, f.reg.unregistered)
	}

	f.server.write(t, response(protocol.PartyLimitReached, 0), protocol.ReservationCountUpdate{NumRemaining: 0})
	f.client.Tick(0)

	assert.Len(t, f.rec.results, 1)
	assert.Empty(t, f.rec.counts)
	assert.Equal(t, LifecycleDestroyed, f.client.Lifecycle())
	assert.Equal(t, 1, f.reg.unregistered)
	assert.True(t, f.net.dialed[0].closed)
}

func TestClientState_String(t *testing.T) {
	assert.Equal(t, "awaiting_response", ClientAwaitingResponse.String())
	assert.Equal(t, "unknown", ClientState(42).String())
	assert.Equal(t, "pending_destroy", LifecyclePendingDestroy.String())
}
