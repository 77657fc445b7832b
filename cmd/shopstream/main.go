// Command shopstream runs the event-sourced commerce platform: the event
// store, command bus, projection engine, and saga coordinator in one
// process. Configuration comes from an optional JSON file overlaid with
// SHOPSTREAM_* environment variables.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/corefold/shopstream/pkg/config"
	"github.com/corefold/shopstream/pkg/eventsourcing"
	"github.com/corefold/shopstream/pkg/observability"
	"github.com/corefold/shopstream/pkg/platform"
)

var version = "dev"

// Exit codes. Operators key restart policies off these.
const (
	exitOK         = 0
	exitConfig     = 1
	exitStartup    = 2
	exitProjection = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("shopstream", flag.ExitOnError)
	configPath := flags.String("config", "", "path to the JSON configuration file")
	debug := flags.Bool("debug", false, "enable debug logging")
	flags.Parse(args)

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Invalid configuration",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return exitConfig
	}

	ctx := context.Background()

	telemetry, err := observability.Init(ctx, observability.Config{
		ServiceName:    "shopstream",
		ServiceVersion: version,
		Environment:    os.Getenv("SHOPSTREAM_ENV"),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("Telemetry initialization failed", slog.String("error", err.Error()))
		return exitStartup
	}

	p, err := platform.New(ctx, cfg,
		platform.WithLogger(logger),
		platform.WithTelemetry(telemetry),
	)
	if err != nil {
		logger.Error("Platform startup failed", slog.String("error", err.Error()))
		shutdownTelemetry(telemetry, logger)
		return exitStartup
	}

	logger.Info("ShopStream starting",
		slog.String("version", version),
		slog.String("event_store", cfg.EventStore.Adapter),
		slog.String("bus", cfg.Bus.Adapter),
	)

	runErr := p.Run(ctx)

	if err := p.Close(); err != nil {
		logger.Warn("Shutdown left resources open", slog.String("error", err.Error()))
	}
	shutdownTelemetry(telemetry, logger)

	switch {
	case runErr == nil:
		logger.Info("ShopStream stopped")
		return exitOK
	case eventsourcing.IsFatal(runErr):
		// A projection checkpoint ahead of the store head means the read
		// model belongs to a different event history. Only an operator
		// reset can recover that.
		logger.Error("Projection state mismatch", slog.String("error", runErr.Error()))
		return exitProjection
	default:
		logger.Error("ShopStream failed", slog.String("error", runErr.Error()))
		return exitStartup
	}
}

func shutdownTelemetry(telemetry *observability.Telemetry, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(ctx); err != nil {
		logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
	}
}
