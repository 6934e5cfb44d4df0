package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunSetupWizard asks for the session shape and ports on in, echoing prompts
// to out, then validates and saves the configuration.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	return runSetup(cfg, bufio.NewReader(in), out, 3)
}

func runSetup(cfg *Config, reader *bufio.Reader, out io.Writer, attempts int) error {
	p := prompter{reader: reader, out: out}

	fmt.Fprintln(out, "Party Beacon - Setup")
	fmt.Fprintln(out)

	b := cfg.GetBeacon()

	fmt.Fprintln(out, "── Beacon ──")
	b.Name = p.String("Beacon name", b.Name)
	b.BindAddress = p.String("Bind address", b.BindAddress)
	b.Port = p.Int("Beacon port", b.Port)
	b.HeartbeatTimeoutSec = p.Int("Heartbeat timeout (seconds)", b.HeartbeatTimeoutSec)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Session ──")
	b.SessionName = p.String("Session name", b.SessionName)
	b.NumTeams = p.Int("Number of teams", b.NumTeams)
	b.NumPlayersPerTeam = p.Int("Players per team", b.NumPlayersPerTeam)
	b.NumReservations = p.Int("Total reservations", b.NumReservations)
	cfg.SetBeacon(b)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Services ──")
	cfg.mu.Lock()
	cfg.API.Enabled = p.Bool("Enable REST API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = p.Int("REST API port", cfg.API.Port)
	}
	cfg.MQTT.Enabled = p.Bool("Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = p.String("MQTT broker host", cfg.MQTT.BrokerURL)
	}
	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempts > 1 && p.Bool("Would you like to try again?", true) {
			return runSetup(cfg, reader, out, attempts-1)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  warning: [%s] %s\n", w.Field, w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Configuration saved to %s\n", cfg.Path())
	return nil
}

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
}

func (p prompter) line() string {
	input, _ := p.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (p prompter) String(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	}

	if input := p.line(); input != "" {
		return input
	}
	return defaultVal
}

func (p prompter) Int(prompt string, defaultVal int) int {
	fmt.Fprintf(p.out, "  %s [%d]: ", prompt, defaultVal)

	input := p.line()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p prompter) Bool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(p.line())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
