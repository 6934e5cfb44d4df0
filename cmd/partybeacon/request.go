package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/beacon"
	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/protocol"
)

// Default skill rating for party members given without one.
const (
	defaultMu    = 25.0
	defaultSigma = 25.0 / 3
)

// playerList collects repeated -player flags.
type playerList []protocol.PlayerReservation

func (p *playerList) String() string {
	if p == nil {
		return ""
	}
	parts := make([]string, len(*p))
	for i, m := range *p {
		parts[i] = fmt.Sprintf("%s:%d:%g:%g", m.NetID, m.Skill, m.Mu, m.Sigma)
	}
	return strings.Join(parts, ",")
}

func (p *playerList) Set(s string) error {
	m, err := parsePlayer(s)
	if err != nil {
		return err
	}
	*p = append(*p, m)
	return nil
}

// parsePlayer reads "id[:skill[:mu[:sigma]]]".
func parsePlayer(s string) (protocol.PlayerReservation, error) {
	fields := strings.Split(s, ":")
	if len(fields) > 4 {
		return protocol.PlayerReservation{}, fmt.Errorf("player %q: too many fields", s)
	}

	id, err := protocol.ParseUniqueNetID(fields[0])
	if err != nil {
		return protocol.PlayerReservation{}, fmt.Errorf("player %q: %w", s, err)
	}
	m := protocol.PlayerReservation{NetID: id, Mu: defaultMu, Sigma: defaultSigma}

	if len(fields) > 1 {
		skill, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return protocol.PlayerReservation{}, fmt.Errorf("player %q: skill: %w", s, err)
		}
		m.Skill = int32(skill)
	}
	if len(fields) > 2 {
		mu, err := strconv.ParseFloat(fields[2], 32)
		if err != nil {
			return protocol.PlayerReservation{}, fmt.Errorf("player %q: mu: %w", s, err)
		}
		m.Mu = float32(mu)
	}
	if len(fields) > 3 {
		sigma, err := strconv.ParseFloat(fields[3], 32)
		if err != nil {
			return protocol.PlayerReservation{}, fmt.Errorf("player %q: sigma: %w", s, err)
		}
		m.Sigma = float32(sigma)
	}
	return m, nil
}

// partyMembers returns the members to reserve for. The leader is always
// part of the party and is added when missing.
func partyMembers(leader protocol.UniqueNetID, players []protocol.PlayerReservation) []protocol.PlayerReservation {
	for _, p := range players {
		if p.NetID == leader {
			return players
		}
	}
	members := make([]protocol.PlayerReservation, 0, len(players)+1)
	members = append(members, protocol.PlayerReservation{NetID: leader, Mu: defaultMu, Sigma: defaultSigma})
	return append(members, players...)
}

type outcomeKind int

const (
	outcomeResult outcomeKind = iota
	outcomeCount
	outcomeTravel
	outcomeReady
	outcomeCancelled
	outcomeCancelAcked
)

type outcome struct {
	kind      outcomeKind
	result    protocol.ReservationResult
	remaining int
	travel    protocol.TravelRequest
}

// outcomeRecorder forwards client callbacks from the driver goroutine.
type outcomeRecorder struct {
	ch chan outcome
}

func newOutcomeRecorder() *outcomeRecorder {
	return &outcomeRecorder{ch: make(chan outcome, 16)}
}

func (r *outcomeRecorder) send(o outcome) {
	select {
	case r.ch <- o:
	default:
		log.Warn().Int("kind", int(o.kind)).Msg("dropping client event, queue full")
	}
}

func (r *outcomeRecorder) ReservationRequestComplete(result protocol.ReservationResult, remaining int) {
	r.send(outcome{kind: outcomeResult, result: result, remaining: remaining})
}

func (r *outcomeRecorder) ReservationCountUpdated(remaining int) {
	r.send(outcome{kind: outcomeCount, remaining: remaining})
}

func (r *outcomeRecorder) TravelRequestReceived(req protocol.TravelRequest) {
	r.send(outcome{kind: outcomeTravel, travel: req})
}

func (r *outcomeRecorder) HostIsReady()                 { r.send(outcome{kind: outcomeReady}) }
func (r *outcomeRecorder) HostHasCancelled()            { r.send(outcome{kind: outcomeCancelled}) }
func (r *outcomeRecorder) CancellationRequestComplete() { r.send(outcome{kind: outcomeCancelAcked}) }

type requestOptions struct {
	configDir string
	host      string
	session   string
	leader    protocol.UniqueNetID
	players   []protocol.PlayerReservation
	port      int
	wait      time.Duration
}

var errUsage = errors.New("usage")

func parseRequestFlags(args []string, out io.Writer) (requestOptions, error) {
	var (
		opts    requestOptions
		leader  string
		players playerList
	)

	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.configDir, "config", config.DefaultConfigDir, "configuration directory")
	fs.StringVar(&opts.host, "host", "", "party host address")
	fs.StringVar(&opts.session, "session", "Game", "session name on the host")
	fs.StringVar(&leader, "leader", "", "party leader unique net id (hex)")
	fs.Var(&players, "player", "party member as id[:skill[:mu[:sigma]]], repeatable")
	fs.IntVar(&opts.port, "port", 0, "beacon port on the host (default from config)")
	fs.DurationVar(&opts.wait, "wait", 0, "give up if the host has not sent the party on by then (0 waits forever)")
	if err := fs.Parse(args); err != nil {
		return opts, errUsage
	}

	if opts.host == "" {
		fmt.Fprintln(out, "-host is required")
		return opts, errUsage
	}
	id, err := protocol.ParseUniqueNetID(leader)
	if err != nil || id.IsZero() {
		fmt.Fprintln(out, "-leader must be a non-zero hex id")
		return opts, errUsage
	}
	if opts.port < 0 || opts.port > 65535 {
		fmt.Fprintln(out, "-port must be between 0 and 65535")
		return opts, errUsage
	}

	opts.leader = id
	opts.players = partyMembers(id, players)
	return opts, nil
}

// runRequest makes one reservation attempt as a party leader and waits
// for the host to send the party on. Exit code 0 means the party was told
// to travel or the host is ready, 1 a failed attempt, 2 bad usage.
func runRequest(args []string, out io.Writer) int {
	opts, err := parseRequestFlags(args, out)
	if err != nil {
		return 2
	}

	cfg, closer, err := loadConfig(opts.configDir, true)
	if closer != nil {
		defer closer.Close()
	}
	if err != nil {
		fmt.Fprintf(out, "%v\n", err)
		return 1
	}

	beaconCfg := cfg.GetBeacon()
	port := opts.port
	if port == 0 {
		port = beaconCfg.Port
	}

	recorder := newOutcomeRecorder()
	client := beacon.NewClient(beacon.ClientConfig{
		Name:                      beaconCfg.Name + "Client",
		Port:                      port,
		HeartbeatTimeout:          beaconCfg.HeartbeatTimeout(),
		ReservationRequestTimeout: beaconCfg.ReservationRequestTimeout(),
	}, network.NewTCPFactory(), beacon.DirectRegistrar{}, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := beacon.NewDriver(client, nil, beaconCfg.TickInterval())
	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		driver.Run(ctx)
	}()
	defer func() {
		driver.Do(ctx, func() { client.Destroy() })
		cancel()
		<-driverDone
	}()

	var reqErr error
	host := beacon.HostInfo{SessionName: opts.session, Addr: opts.host}
	if err := driver.Do(ctx, func() {
		reqErr = client.RequestReservation(host, opts.leader, opts.players)
	}); err != nil {
		reqErr = err
	}
	if reqErr != nil {
		fmt.Fprintf(out, "reservation request failed: %v\n", reqErr)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var deadline <-chan time.Time
	if opts.wait > 0 {
		timer := time.NewTimer(opts.wait)
		defer timer.Stop()
		deadline = timer.C
	}

	return awaitOutcome(ctx, recorder.ch, sigCh, deadline, out, func() {
		driver.Do(ctx, func() { client.CancelReservation(opts.leader) })
	})
}

// awaitOutcome reports client events until the attempt resolves. cancel is
// called when the wait is abandoned after the host accepted the party.
func awaitOutcome(ctx context.Context, outcomes <-chan outcome, sigCh <-chan os.Signal, deadline <-chan time.Time, out io.Writer, cancel func()) int {
	accepted := false
	abandon := func(reason string) int {
		fmt.Fprintln(out, reason)
		if accepted {
			cancel()
			fmt.Fprintln(out, "reservation cancelled")
		}
		return 1
	}

	for {
		select {
		case <-ctx.Done():
			return 1
		case sig := <-sigCh:
			return abandon("interrupted by " + sig.String())
		case <-deadline:
			return abandon("timed out waiting for the host")
		case o := <-outcomes:
			switch o.kind {
			case outcomeResult:
				if o.result != protocol.ReservationAccepted {
					fmt.Fprintf(out, "reservation rejected: %s\n", o.result)
					return 1
				}
				accepted = true
				fmt.Fprintf(out, "reservation accepted, %d slots remaining\n", o.remaining)
			case outcomeCount:
				fmt.Fprintf(out, "%d slots remaining\n", o.remaining)
			case outcomeTravel:
				fmt.Fprintf(out, "travel to session %q (%s)\n", o.travel.SessionName, o.travel.ClassName)
				return 0
			case outcomeReady:
				fmt.Fprintln(out, "host is ready")
				return 0
			case outcomeCancelled:
				fmt.Fprintln(out, "host cancelled the reservation")
				return 1
			case outcomeCancelAcked:
				fmt.Fprintln(out, "cancellation acknowledged")
				return 1
			}
		}
	}
}
