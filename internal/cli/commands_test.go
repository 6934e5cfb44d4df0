package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/partybeacon/internal/beacon"
	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/db"
	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/protocol"
	"github.com/energizer-project/partybeacon/internal/server"
)

const leader = protocol.UniqueNetID(0x0110000100000001)

type fakeBeacon struct {
	travelSession string
	travelClass   string
	travelInfo    [protocol.PlatformInfoSize]byte
	ready         int
	cancelled     int
}

func (f *fakeBeacon) Snapshot(context.Context) (beacon.HostSnapshot, error) {
	return beacon.HostSnapshot{
		Name:                    "test-host",
		State:                   "idle",
		ListenAddr:              "0.0.0.0:14001",
		SessionName:             "Game",
		NumTeams:                2,
		HostTeam:                0,
		AvailableTeams:          []int{1},
		NumReservations:         8,
		NumConsumedReservations: 2,
		NumRemaining:            6,
		Connections: []beacon.ConnectionInfo{
			{Remote: "10.0.0.5:50001", Leader: leader, Idle: 20 * time.Millisecond, Age: time.Minute},
			{Remote: "10.0.0.6:50002"},
		},
		Reservations: []beacon.PartyReservation{{
			PartyLeader:  leader,
			TeamNum:      1,
			PartyMembers: []protocol.PlayerReservation{{NetID: leader}, {NetID: leader + 1}},
		}},
	}, nil
}

func (f *fakeBeacon) Skills(context.Context) (beacon.SkillSnapshot, error) {
	return beacon.SkillSnapshot{
		Players: []protocol.UniqueNetID{leader, leader + 1},
		Mus:     []float32{25, 27.5},
		Sigmas:  []float32{8.25, 7},
	}, nil
}

func (f *fakeBeacon) Stats() server.StatsSnapshot {
	return server.StatsSnapshot{Requests: 4, Cancellations: 1}
}

func (f *fakeBeacon) TellClientsToTravel(_ context.Context, session, class string, info [protocol.PlatformInfoSize]byte) error {
	f.travelSession, f.travelClass, f.travelInfo = session, class, info
	return nil
}

func (f *fakeBeacon) TellClientsHostIsReady(context.Context) error {
	f.ready++
	return nil
}

func (f *fakeBeacon) TellClientsHostHasCancelled(context.Context) error {
	f.cancelled++
	return nil
}

type fakeAudit struct{}

func (fakeAudit) RecentResults(limit int) ([]db.AuditEntry, error) {
	return []db.AuditEntry{{
		Session:   "Game",
		Leader:    leader,
		PartySize: 5,
		Result:    protocol.IncorrectPlayerCount,
		Remaining: 6,
		CreatedAt: time.Now(),
	}}, nil
}

func newTestCLI(t *testing.T, input string, audit AuditSource) (*CLI, *fakeBeacon, *bytes.Buffer, *events.EventBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), config.DefaultConfigFile))
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	fb := &fakeBeacon{}
	out := &bytes.Buffer{}
	return NewCLI(cfg, bus, fb, audit, strings.NewReader(input), out), fb, out, bus
}

func run(t *testing.T, c *CLI) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "console did not exit")
	}
}

func TestCLI_Session(t *testing.T) {
	input := strings.Join([]string{
		"status",
		"reservations",
		"skills",
		"",
		"ready",
		"travel Game OnlineGameSearch c0a8",
		"cancel",
		"bogus",
		"quit",
		"ready",
	}, "\n")
	c, fb, out, bus := newTestCLI(t, input, nil)

	shutdown := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "test", func(context.Context, events.Event) error {
		shutdown <- struct{}{}
		return nil
	})

	run(t, c)

	text := out.String()
	assert.Contains(t, text, "test-host (idle)")
	assert.Contains(t, text, "2/8 (6 remaining)")
	assert.Contains(t, text, "10.0.0.5:50001")
	assert.Contains(t, text, "0x0110000100000002")
	assert.Contains(t, text, "27.50")
	assert.Contains(t, text, "Unknown command: 'bogus'")
	assert.Contains(t, text, "Parties sent to session Game")

	assert.Equal(t, 1, fb.ready, "commands after quit are not run")
	assert.Equal(t, 1, fb.cancelled)
	assert.Equal(t, "OnlineGameSearch", fb.travelClass)
	assert.Equal(t, byte(0xa8), fb.travelInfo[1])

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "shutdown not emitted")
	}
}

func TestCLI_EndOfInput(t *testing.T) {
	c, _, out, _ := newTestCLI(t, "help\n", nil)
	run(t, c)
	assert.Contains(t, out.String(), "travel <session> <class> [hex]")
}

func TestCLI_Errors(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		args []string
		msg  string
	}{
		{name: "travel usage", cmd: "travel", args: []string{"Game"}, msg: "usage: travel"},
		{name: "travel bad hex", cmd: "travel", args: []string{"Game", "C", "zz"}, msg: "not hex"},
		{name: "results disabled", cmd: "results", msg: "not enabled"},
		{name: "setconfig usage", cmd: "setconfig", args: []string{"port"}, msg: "usage: setconfig"},
		{name: "setconfig unknown key", cmd: "setconfig", args: []string{"colour", "red"}, msg: "unknown beacon field"},
		{name: "setconfig invalid value", cmd: "setconfig", args: []string{"port", "70000"}, msg: "invalid port number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _, _ := newTestCLI(t, "", nil)
			quit, err := c.execute(context.Background(), tt.cmd, tt.args)
			assert.False(t, quit)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, config.DefaultBeaconPort, c.cfg.GetBeacon().Port)
		})
	}
}

func TestCLI_SetConfig(t *testing.T) {
	c, _, out, _ := newTestCLI(t, "", nil)

	_, err := c.execute(context.Background(), "setconfig", []string{"session_name", "Ranked", "Game"})
	require.NoError(t, err)
	assert.Equal(t, "Ranked Game", c.cfg.GetBeacon().SessionName)

	_, err = c.execute(context.Background(), "setconfig", []string{"num_reservations", "6"})
	require.NoError(t, err)
	assert.Equal(t, 6, c.cfg.GetBeacon().NumReservations)
	assert.FileExists(t, c.cfg.Path())
	assert.Contains(t, out.String(), "applies on next start")
}

func TestCLI_Results(t *testing.T) {
	c, _, out, _ := newTestCLI(t, "", fakeAudit{})

	_, err := c.execute(context.Background(), "results", []string{"5"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "incorrect_player_count")

	_, err = c.execute(context.Background(), "results", []string{"-1"})
	assert.Error(t, err)
}
