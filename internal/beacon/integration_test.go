package beacon

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

// pump ticks every beacon until cond holds or the deadline passes.
func pump(t *testing.T, cond func() bool, beacons ...Ticker) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not met before deadline")
		for _, b := range beacons {
			b.Tick(time.Millisecond)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHostAndClient_InMemory(t *testing.T) {
	mem := newMemNet()
	hostRec := &hostRecorder{}
	host := NewHost(HostConfig{BindAddress: "0.0.0.0", Port: 14001, HeartbeatTimeout: 10 * time.Second}, mem, hostRec, nil, zeroRand{})
	require.NoError(t, host.Init(2, 4, 8, "Game"))

	clientRec := &clientRecorder{}
	client := NewClient(ClientConfig{
		Port:                      14001,
		HeartbeatTimeout:          10 * time.Second,
		ReservationRequestTimeout: 10 * time.Second,
	}, mem, nil, clientRec)

	require.NoError(t, client.RequestReservation(HostInfo{SessionName: "Game", Addr: "0.0.0.0:7777"}, leaderID, party(leaderID, 3).Members))
	pump(t, func() bool { return len(clientRec.results) > 0 }, client, host)

	assert.Equal(t, []protocol.ReservationResult{protocol.ReservationAccepted}, clientRec.results)
	assert.Equal(t, []int{5}, clientRec.remaining)
	assert.Equal(t, 5, host.NumRemaining())
	require.Len(t, host.Reservations(), 1)
	assert.Equal(t, 1, host.Reservations()[0].TeamNum)

	require.NoError(t, host.TellClientsHostIsReady())
	pump(t, func() bool { return clientRec.ready > 0 }, client)
	assert.False(t, client.IsTicking())
	assert.False(t, host.IsTicking())

	require.NoError(t, client.Destroy())
	require.NoError(t, host.Destroy())
}

func TestHostAndClient_TCP(t *testing.T) {
	factory := network.NewTCPFactory()

	hostRec := &hostRecorder{}
	host := NewHost(HostConfig{BindAddress: "127.0.0.1", Port: 0, HeartbeatTimeout: 10 * time.Second}, factory, hostRec, nil, zeroRand{})
	require.NoError(t, host.Init(2, 4, 8, "Game"))
	defer host.Destroy()

	_, portStr, err := net.SplitHostPort(host.Snapshot().ListenAddr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	clientRec := &clientRecorder{}
	client := NewClient(ClientConfig{
		Port:                      port,
		HeartbeatTimeout:          10 * time.Second,
		ReservationRequestTimeout: 10 * time.Second,
	}, factory, nil, clientRec)
	defer client.Destroy()

	require.NoError(t, client.RequestReservation(HostInfo{SessionName: "Game", Addr: "127.0.0.1"}, leaderID, party(leaderID, 2).Members))
	pump(t, func() bool { return len(clientRec.results) > 0 && len(clientRec.counts) > 0 }, client, host)

	assert.Equal(t, []protocol.ReservationResult{protocol.ReservationAccepted}, clientRec.results)
	assert.Equal(t, 6, clientRec.counts[len(clientRec.counts)-1])

	require.NoError(t, client.CancelReservation(leaderID))
	pump(t, func() bool { return host.NumRemaining() == 8 }, host)
	assert.Empty(t, host.Reservations())
	assert.Equal(t, []int{1}, host.Snapshot().AvailableTeams)
}
