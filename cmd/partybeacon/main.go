// PartyBeacon - party reservation beacon for game session hosts.
//
// In host mode the daemon listens for party leaders, holds reservations
// against a fixed number of player slots, and tells the reserved parties
// when to travel. It exposes a REST API, Prometheus metrics, an operator
// console and optional MQTT telemetry. In request mode it makes one
// reservation attempt against a host, as a party leader would.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/api"
	"github.com/energizer-project/partybeacon/internal/cli"
	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/db"
	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/health"
	"github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/scheduler"
	"github.com/energizer-project/partybeacon/internal/server"
	"github.com/energizer-project/partybeacon/internal/telemetry"
	"github.com/energizer-project/partybeacon/internal/util"
)

const (
	AppName    = "PartyBeacon"
	AppVersion = api.Version
	Banner     = `
  ___          _        ___                         
 | _ \__ _ _ _| |_ _  _| _ ) ___ __ _ __ ___ _ _  
 |  _/ _' | '_|  _| || | _ \/ -_) _' / _/ _ \ ' \ 
 |_| \__,_|_|  \__|\_, |___/\___\__,_\__\___/_||_|
                   |__/  v%s
`
)

func main() {
	args := os.Args[1:]
	cmd := "host"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "host":
		os.Exit(runHost(args))
	case "request":
		os.Exit(runRequest(args, os.Stdout))
	case "setup":
		os.Exit(runSetup(args))
	case "version":
		fmt.Printf("%s %s\n", AppName, AppVersion)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want host, request, setup or version)\n", cmd)
		os.Exit(2)
	}
}

// loadConfig loads the config and switches the logger to its settings.
// The returned closer flushes the log file.
func loadConfig(dir string, console bool) (*config.Config, io.Closer, error) {
	bootCloser, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, bootCloser, err
	}

	logging := cfg.GetLogging()
	closer, err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    console,
		App:        "partybeacon",
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
		return cfg, bootCloser, nil
	}
	if bootCloser != nil {
		bootCloser.Close()
	}
	return cfg, closer, nil
}

func runSetup(args []string) int {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	configDir := fs.String("config", config.DefaultConfigDir, "configuration directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, closer, err := loadConfig(*configDir, true)
	if closer != nil {
		defer closer.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("setup wizard failed")
		return 1
	}
	return 0
}

func runHost(args []string) int {
	fs := flag.NewFlagSet("host", flag.ContinueOnError)
	configDir := fs.String("config", config.DefaultConfigDir, "configuration directory")
	noConsole := fs.Bool("no-console", false, "disable the interactive operator console")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	cfg, closer, err := loadConfig(*configDir, true)
	if closer != nil {
		defer closer.Close()
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting PartyBeacon")

	validation := config.Validate(cfg)
	validation.Log(log.Logger)
	if !validation.IsValid() {
		if !cfg.IsFirstRun() {
			log.Error().Msg("configuration validation failed, please fix the errors above")
			return 1
		}
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Error().Err(err).Msg("setup wizard failed")
			return 1
		}
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Str("local_ip", sysInfo.LocalIP).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// Roster and audit storage. Without it the host keeps the roster in
	// memory only.
	var (
		store  server.Store
		audit  api.AuditSource
		pruner scheduler.Pruner
		cliLog cli.AuditSource
	)
	rosterDB, err := db.NewRosterDatabase(cfg.GetDatabase().Path)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open roster database, reservations will not be persisted")
	} else {
		defer rosterDB.Close()
		store, audit, pruner, cliLog = rosterDB, rosterDB, rosterDB, rosterDB
	}

	mgr := server.NewManager(cfg, eventBus, network.NewTCPFactory(), store)
	apiServer := api.NewServer(cfg, eventBus, mgr, audit)
	healthMgr := health.NewManager(cfg, eventBus, mgr)
	sched := scheduler.NewScheduler(cfg, pruner, mgr)

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, cfg.GetBeacon().Name, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// The console's quit command and other components request shutdown
	// through the bus.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: host beacon tick loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetBeacon().Port).Msg("starting party beacon host")
		if err := mgr.Start(ctx); err != nil {
			errCh <- fmt.Errorf("beacon host: %w", err)
		}
	}()

	// Task 2: REST API (with retry for port binding)
	if cfg.GetAPI().Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.GetAPI().Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: health checks and heartbeat
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	// Task 4: daily maintenance
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// Task 5: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 6: operator console. It is not waited for since it may be
	// blocked reading stdin.
	if !*noConsole {
		console := cli.NewCLI(cfg, eventBus, mgr, cliLog, os.Stdin, os.Stdout)
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		exitCode = 1
	}

	log.Info().Msg("initiating graceful shutdown...")
	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("PartyBeacon stopped")
	return exitCode
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
