// Package main contains the entrypoint for the meshtraffic application.
//
// Usage:
//
//	meshtraffic [search_type] [location]   one-shot query (defaults: accidents phoenix)
//	meshtraffic listen                     run the mesh listener loop
//	meshtraffic --test "accidents 101"     offline parse/query/format harness
//	meshtraffic --simulate "events I10"    drive a fabricated packet through the listener
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/desertmesh/meshtraffic/internal/broadcast"
	"github.com/desertmesh/meshtraffic/internal/command"
	"github.com/desertmesh/meshtraffic/internal/config"
	"github.com/desertmesh/meshtraffic/internal/database"
	"github.com/desertmesh/meshtraffic/internal/format"
	"github.com/desertmesh/meshtraffic/internal/fragment"
	"github.com/desertmesh/meshtraffic/internal/geocode"
	"github.com/desertmesh/meshtraffic/internal/listener"
	"github.com/desertmesh/meshtraffic/internal/logger"
	"github.com/desertmesh/meshtraffic/internal/mesh"
	"github.com/desertmesh/meshtraffic/internal/query"
	"github.com/desertmesh/meshtraffic/internal/scheduler"
	"github.com/desertmesh/meshtraffic/internal/traffic"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components and dispatches to the selected mode,
// returning the process exit code. Configuration or startup failures are
// fatal; everything after startup is handled inside the pipeline.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	testCmd := flag.String("test", "", "Run a command through the offline harness (no radio)")
	simulateCmd := flag.String("simulate", "", "Simulate receiving a text packet (console transport)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	trafficClient, err := traffic.NewClient(cfg.Traffic, log)
	if err != nil {
		log.Error("Failed to initialize traffic client", "error", err)
		return 1
	}

	geocoder := geocode.NewClient(cfg.Geocoder, log)

	formatter, err := format.New(geocoder, cfg.Query.MaxResults, log)
	if err != nil {
		log.Error("Failed to initialize formatter", "error", err)
		return 1
	}

	engine := query.New(trafficClient, cfg.Query.MaxResults, log)

	switch {
	case *testCmd != "":
		return runTest(ctx, cfg, engine, formatter, *testCmd)
	case *simulateCmd != "":
		return runSimulate(ctx, cfg, engine, formatter, log, *simulateCmd)
	case flag.Arg(0) == "listen":
		return runListen(ctx, cfg, engine, formatter, log)
	default:
		return runOneShot(ctx, cfg, engine, formatter, log)
	}
}

// runTest exercises parse, query, format, and fragment without any
// transport, printing the fragments that would be transmitted.
func runTest(ctx context.Context, cfg *config.Config, engine *query.Engine, formatter *format.Formatter, text string) int {
	cmd, ok := command.Parse(text)
	if !ok {
		fmt.Printf("no command match: %q\n", text)
		return 1
	}

	incidents, err := engine.Query(ctx, cmd.Kind, cmd.Location)
	if err != nil {
		fmt.Printf("query failed: %v\n", err)
		return 1
	}

	for _, line := range formatter.Format(ctx, cmd.Kind, cmd.Location, incidents) {
		for _, frag := range fragment.Split(line, cfg.Mesh.MaxPayload) {
			fmt.Println(frag)
		}
	}
	return 0
}

// runSimulate fabricates an inbound text packet and drives it through the
// full listener pipeline with a console transport.
func runSimulate(ctx context.Context, cfg *config.Config, engine *query.Engine, formatter *format.Formatter, log *slog.Logger, text string) int {
	console := mesh.NewConsole(os.Stdout)
	if err := console.Connect(ctx); err != nil {
		log.Error("Failed to set up console transport", "error", err)
		return 1
	}
	defer console.Close() //nolint:errcheck

	l := listener.New(cfg.Mesh, console, engine, formatter, log)
	l.Process(ctx, mesh.Event{
		From:    0x7e57,
		To:      mesh.BroadcastAddr,
		Channel: cfg.Mesh.ChannelIndex,
		Kind:    mesh.PacketText,
		Text:    text,
	})
	return 0
}

// runListen runs the listener loop and, when enabled, the scheduled
// broadcaster, until interrupted.
func runListen(ctx context.Context, cfg *config.Config, engine *query.Engine, formatter *format.Formatter, log *slog.Logger) int {
	transport := mesh.NewClient(cfg.Mesh, log)
	l := listener.New(cfg.Mesh, transport, engine, formatter, log)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.Run(gCtx)
	})

	if cfg.Broadcast.Enabled {
		db, err := database.NewDB(cfg.Database.Path)
		if err != nil {
			log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
			return 1
		}
		defer database.CloseDB(db)

		store := database.NewStore(db, log)
		caster := broadcast.New(engine, formatter, store, l, cfg.Broadcast.Region, log)

		jobs := map[string]scheduler.Job{
			"broadcast": {Schedule: cfg.Broadcast.Schedule, Task: caster.Run},
		}
		if cfg.Broadcast.MaintenanceSchedule != "" {
			jobs["maintenance"] = scheduler.Job{Schedule: cfg.Broadcast.MaintenanceSchedule, Task: caster.Maintain}
		}

		sched, err := scheduler.New(jobs, log)
		if err != nil {
			log.Error("Failed to create scheduler", "error", err)
			return 1
		}

		g.Go(func() error {
			if err := sched.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			<-gCtx.Done()
			return sched.Stop()
		})
	}

	log.Info("Listening for mesh commands", "channel", cfg.Mesh.ChannelIndex)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Listener stopped due to error", "error", err)
		return 1
	}

	log.Info("Shutdown complete")
	return 0
}

// runOneShot performs a single query from the CLI arguments and either
// prints the reply lines or, when sending is enabled, transmits them.
func runOneShot(ctx context.Context, cfg *config.Config, engine *query.Engine, formatter *format.Formatter, log *slog.Logger) int {
	kindArg := flag.Arg(0)
	if kindArg == "" {
		kindArg = "accidents"
	}
	location := flag.Arg(1)
	if location == "" {
		location = "phoenix"
	}

	kind, ok := command.ParseKind(kindArg)
	if !ok {
		fmt.Printf("invalid search type %q: must be accidents, events, alerts, or weather\n", kindArg)
		return 1
	}
	location = command.NormalizeInterstate(location)

	incidents, err := engine.Query(ctx, kind, location)
	if err != nil {
		log.Error("Query failed", "kind", string(kind), "location", location, "error", err)
		return 1
	}
	lines := formatter.Format(ctx, kind, location, incidents)

	if !cfg.Mesh.SendEnabled {
		for _, line := range lines {
			for _, frag := range fragment.Split(line, cfg.Mesh.MaxPayload) {
				fmt.Println(frag)
			}
		}
		return 0
	}

	transport := mesh.NewClient(cfg.Mesh, log)
	if err := transport.Connect(ctx); err != nil {
		log.Error("Failed to connect to mesh device", "error", err)
		return 1
	}
	defer transport.Close() //nolint:errcheck

	l := listener.New(cfg.Mesh, transport, engine, formatter, log)
	if err := l.Transmit(ctx, lines); err != nil {
		log.Error("Failed to transmit", "error", err)
		return 1
	}

	log.Info("Transmitted reply", "lines", len(lines))
	return 0
}
