// Package cli implements the interactive operator console for the party
// beacon host.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/partybeacon/internal/beacon"
	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/db"
	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/protocol"
	"github.com/energizer-project/partybeacon/internal/server"
)

// Beacon is the part of server.Manager the console drives.
type Beacon interface {
	Snapshot(ctx context.Context) (beacon.HostSnapshot, error)
	Skills(ctx context.Context) (beacon.SkillSnapshot, error)
	Stats() server.StatsSnapshot
	TellClientsToTravel(ctx context.Context, sessionName, className string, platformInfo [protocol.PlatformInfoSize]byte) error
	TellClientsHostIsReady(ctx context.Context) error
	TellClientsHostHasCancelled(ctx context.Context) error
}

// AuditSource returns recent reservation outcomes.
type AuditSource interface {
	RecentResults(limit int) ([]db.AuditEntry, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	beacon   Beacon
	audit    AuditSource

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// audit may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, b Beacon, audit AuditSource, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		beacon:   b,
		audit:    audit,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is cancelled, input ends or the
// operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nParty beacon console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "partybeacon> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// execute runs one command. It reports whether the console should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return false, c.printStatus(ctx)
	case "reservations", "r":
		return false, c.printReservations(ctx)
	case "skills":
		return false, c.printSkills(ctx)
	case "results":
		return false, c.printResults(args)
	case "ready":
		return false, c.cmdReady(ctx)
	case "travel":
		return false, c.cmdTravel(ctx, args)
	case "cancel":
		return false, c.cmdCancel(ctx)
	case "setconfig":
		return false, c.cmdSetConfig(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down party beacon...")
		c.eventBus.Emit(ctx, events.NewEvent(events.EventShutdown, "cli", nil))
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "  status                          Show beacon state and connections")
	fmt.Fprintln(c.out, "  reservations                    List party reservations")
	fmt.Fprintln(c.out, "  skills                          List reserved players' skill")
	fmt.Fprintln(c.out, "  results [n]                     Show the last n reservation outcomes")
	fmt.Fprintln(c.out, "  ready                           Tell parties the host is ready")
	fmt.Fprintln(c.out, "  travel <session> <class> [hex]  Send parties to a game session")
	fmt.Fprintln(c.out, "  cancel                          Tell parties the host has cancelled")
	fmt.Fprintln(c.out, "  setconfig <key> <value>         Update a beacon setting (next start)")
	fmt.Fprintln(c.out, "  quit                            Shut down the party beacon")
	fmt.Fprintln(c.out, "  help                            Show this help message")
	fmt.Fprintln(c.out)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus(ctx context.Context) error {
	snap, err := c.beacon.Snapshot(ctx)
	if err != nil {
		return err
	}
	stats := c.beacon.Stats()

	fmt.Fprintf(c.out, "\n  Beacon:       %s (%s)\n", snap.Name, snap.State)
	fmt.Fprintf(c.out, "  Listening:    %s\n", snap.ListenAddr)
	fmt.Fprintf(c.out, "  Session:      %s\n", snap.SessionName)
	fmt.Fprintf(c.out, "  Reserved:     %d/%d (%d remaining)\n", snap.NumConsumedReservations, snap.NumReservations, snap.NumRemaining)
	fmt.Fprintf(c.out, "  Teams:        %d, host team %d, open %v\n", snap.NumTeams, snap.HostTeam, snap.AvailableTeams)
	fmt.Fprintf(c.out, "  Requests:     %d (%d cancelled)\n", stats.Requests, stats.Cancellations)
	fmt.Fprintf(c.out, "  Uptime:       %s\n", stats.Uptime)
	if stats.Broadcast != "" {
		fmt.Fprintf(c.out, "  Broadcast:    %s to %d parties\n", stats.Broadcast, stats.BroadcastCount)
	}
	fmt.Fprintln(c.out)

	if len(snap.Connections) == 0 {
		fmt.Fprintln(c.out, "  No client connections")
		fmt.Fprintln(c.out)
		return nil
	}

	tw := c.newTable("Remote", "Leader", "Idle", "Age")
	for _, conn := range snap.Connections {
		leader := "-"
		if !conn.Leader.IsZero() {
			leader = conn.Leader.String()
		}
		tw.Append([]string{
			conn.Remote,
			leader,
			conn.Idle.Round(time.Millisecond).String(),
			conn.Age.Round(time.Second).String(),
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printReservations(ctx context.Context) error {
	snap, err := c.beacon.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snap.Reservations) == 0 {
		fmt.Fprintln(c.out, "No reservations")
		return nil
	}

	tw := c.newTable("Leader", "Team", "Members")
	for _, r := range snap.Reservations {
		members := make([]string, 0, len(r.PartyMembers))
		for _, m := range r.PartyMembers {
			members = append(members, m.NetID.String())
		}
		tw.Append([]string{r.PartyLeader.String(), strconv.Itoa(r.TeamNum), strings.Join(members, " ")})
	}
	tw.Render()
	return nil
}

func (c *CLI) printSkills(ctx context.Context) error {
	skills, err := c.beacon.Skills(ctx)
	if err != nil {
		return err
	}
	if len(skills.Players) == 0 {
		fmt.Fprintln(c.out, "No reserved players")
		return nil
	}

	tw := c.newTable("Player", "Mu", "Sigma")
	for i, p := range skills.Players {
		tw.Append([]string{
			p.String(),
			strconv.FormatFloat(float64(skills.Mus[i]), 'f', 2, 32),
			strconv.FormatFloat(float64(skills.Sigmas[i]), 'f', 2, 32),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printResults(args []string) error {
	if c.audit == nil {
		return fmt.Errorf("reservation audit is not enabled")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	entries, err := c.audit.RecentResults(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No reservation requests recorded")
		return nil
	}

	tw := c.newTable("Time", "Session", "Leader", "Size", "Result", "Remaining")
	for _, e := range entries {
		tw.Append([]string{
			e.CreatedAt.Local().Format(time.DateTime),
			e.Session,
			e.Leader.String(),
			strconv.Itoa(e.PartySize),
			e.Result.String(),
			strconv.Itoa(e.Remaining),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdReady(ctx context.Context) error {
	if err := c.beacon.TellClientsHostIsReady(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Parties told the host is ready")
	return nil
}

func (c *CLI) cmdTravel(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: travel <session> <class> [platform hex]")
	}
	var info [protocol.PlatformInfoSize]byte
	if len(args) > 2 {
		var err error
		if info, err = protocol.ParsePlatformInfo(args[2]); err != nil {
			return err
		}
	}

	if err := c.beacon.TellClientsToTravel(ctx, args[0], args[1], info); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Parties sent to session %s\n", args[0])
	return nil
}

func (c *CLI) cmdCancel(ctx context.Context) error {
	if err := c.beacon.TellClientsHostHasCancelled(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Parties told the host has cancelled")
	return nil
}

func (c *CLI) cmdSetConfig(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")
	var value interface{} = raw
	if n, err := strconv.Atoi(raw); err == nil {
		value = n
	}

	previous := c.cfg.GetBeacon()
	if err := c.cfg.UpdateBeaconField(key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetBeacon(previous)
		return result.Errors[0]
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	c.eventBus.Emit(ctx, events.NewEvent(events.EventConfigChanged, "cli", events.ConfigChangedPayload{
		Section: "beacon",
		Key:     key,
		Value:   value,
	}))
	fmt.Fprintf(c.out, "Config updated: %s = %s (applies on next start)\n", key, raw)
	return nil
}
