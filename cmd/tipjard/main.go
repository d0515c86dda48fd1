package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tipjar/config"
	"tipjar/observability/logging"
	telemetry "tipjar/observability/otel"
)

const serviceName = "tipjard"

var version = "dev"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *genesisFlag != "" {
		cfg.GenesisFile = *genesisFlag
	}

	var fileOpts *logging.FileOptions
	if cfg.Logging.File != "" {
		fileOpts = &logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}
	}
	logger, closeLog := logging.Setup(serviceName, cfg.Environment, fileOpts)
	defer func() { _ = closeLog() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("tipjard exited with error", slog.Any("error", err))
		_ = closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := initTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	n, err := newNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	return n.server.Serve(ctx, cfg.RPCAddress)
}

func initTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (func(context.Context) error, error) {
	otelCfg := telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Version:     version,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Enabled && cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Enabled && cfg.Telemetry.Traces,
	}
	otelCfg.ApplyEnv()
	shutdown, err := telemetry.Init(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	if cfg.Telemetry.Enabled {
		logger.Info("telemetry enabled",
			slog.String("endpoint", otelCfg.Endpoint),
			slog.Bool("insecure", otelCfg.Insecure),
			logging.MaskHeaders(otelCfg.Headers))
	}
	return shutdown, nil
}
