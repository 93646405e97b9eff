package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/quarry/internal/api"
	"github.com/energizer-project/quarry/internal/auth"
	"github.com/energizer-project/quarry/internal/cli"
	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/connector"
	"github.com/energizer-project/quarry/internal/db"
	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/health"
	"github.com/energizer-project/quarry/internal/metrics"
	"github.com/energizer-project/quarry/internal/scheduler"
	"github.com/energizer-project/quarry/internal/server"
	"github.com/energizer-project/quarry/internal/telemetry"
	"github.com/energizer-project/quarry/internal/util"
)

type serveOptions struct {
	configDir string
	setup     bool
	console   bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "quarry",
		Short: "Minecraft 1.16.5 connection server",
		Long: `Quarry accepts Minecraft Java Edition 1.16.5 clients, answers server
list pings and UDP queries, logs players in (optionally verifying them
with the session server) and keeps them in a shared lobby.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts)
		},
	}

	configDirFlag(cmd, &opts.configDir)
	cmd.Flags().BoolVar(&opts.setup, "setup", false, "run the interactive setup wizard before starting")
	cmd.Flags().BoolVar(&opts.console, "console", true, "read operator commands from stdin")
	return cmd
}

func serve(opts serveOptions) error {
	printBanner()

	// Defaults first, reconfigured once the config is loaded.
	bootLog, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer bootLog.Close()

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return err
	}

	logFile, err := util.InitLogger(util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    cfg.Logging.Console,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		defer logFile.Close()
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Quarry")

	if opts.setup {
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("setup wizard failed: %w", err)
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, fix the errors above or run with --setup")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()
	bans := db.NewBanList(database)
	players := db.NewPlayerLog(database)

	deps := server.Deps{
		Bans:    bans,
		Players: players,
	}
	srv := cfg.GetServer()
	netCfg := cfg.GetNetwork()
	if srv.OnlineMode {
		keys, err := auth.GenerateKeyPair()
		if err != nil {
			return err
		}
		deps.Keys = keys
		deps.Verifier = auth.NewSessionClient(srv.SessionServerURL, netCfg.LoginTimeout(), srv.PreventProxy)
	} else {
		log.Warn().Msg("online mode is off, player identities are not verified")
	}

	eventBus := events.NewEventBus()
	defer eventBus.Stop()

	m := metrics.New()
	m.Subscribe(eventBus)
	deps.Recorder = m

	mgr, err := server.NewManager(cfg, eventBus, deps)
	if err != nil {
		return fmt.Errorf("failed to create server manager: %w", err)
	}

	healthMgr := health.NewManager(cfg.Health, eventBus, health.Sources{
		Players:        mgr.Online,
		MaxPlayers:     srv.MaxPlayers,
		Connections:    mgr.Admitted,
		MaxConnections: netCfg.MaxConnections,
		Bans:           bans,
	})

	sched := scheduler.NewScheduler(cfg.Maintenance, eventBus, players, mgr.Online)

	mqttHandler, err := telemetry.NewMQTTHandler(cfg.GetMQTT(), eventBus)
	if err != nil {
		if !errors.Is(err, telemetry.ErrDisabled) {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
		mqttHandler = nil
	}

	discord, err := connector.NewDiscordNotifier(cfg.Discord, eventBus)
	if err != nil {
		if !errors.Is(err, connector.ErrDisabled) {
			log.Warn().Err(err).Msg("failed to initialize Discord notifications")
		}
		discord = nil
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(sigCtx)

	// The manager stopping, through a signal or the console, ends everything.
	g.Go(func() error {
		defer stop()
		return mgr.Run(ctx)
	})

	g.Go(func() error {
		healthMgr.Start(ctx)
		return nil
	})

	g.Go(func() error {
		sched.Start(ctx)
		return nil
	})

	if cfg.GetAPI().Enabled {
		apiServer := api.NewServer(cfg, mgr, healthMgr, m)
		g.Go(func() error {
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("REST API stopped (non-fatal)")
			}
			return nil
		})
	}

	if mqttHandler != nil {
		g.Go(func() error {
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
			return nil
		})
	}

	if discord != nil {
		g.Go(func() error {
			discord.Start(ctx)
			return nil
		})
	}

	if opts.console {
		console := cli.NewCLI(mgr, os.Stdin, os.Stdout)
		g.Go(func() error {
			console.Start(ctx)
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Quarry stopped with an error")
		return err
	}
	log.Info().Msg("Quarry stopped")
	return nil
}
