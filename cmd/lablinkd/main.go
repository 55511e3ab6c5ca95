// Package main implements the entry point for the LabLink streaming daemon.
// lablinkd serves real-time lab equipment telemetry to WebSocket clients
// with priority queueing, rate limiting, optional compression, and stream
// recording.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"log/slog"

	"github.com/X9X0/LabLink-sub003/config"
	"github.com/X9X0/LabLink-sub003/input/nats"
	"github.com/X9X0/LabLink-sub003/metric"
	"github.com/X9X0/LabLink-sub003/natsclient"
	"github.com/X9X0/LabLink-sub003/recorder"
	"github.com/X9X0/LabLink-sub003/server"
	"github.com/X9X0/LabLink-sub003/stream"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "lablinkd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("daemon failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return err
	}

	cfg, err := config.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	// CLI flags override the config file's logging section
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid", "config", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("starting", "config", cliCfg.ConfigPath)

	// Metrics registry and endpoint
	var registry *metric.MetricsRegistry
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		registry = metric.NewMetricsRegistry()
		metricsServer = metric.NewServer(cfg.Metrics.Port, "/metrics", registry)
		go func() {
			// Start blocks until Stop; a bind failure is not fatal to the daemon
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() { _ = metricsServer.Stop() }()
		logger.Info("metrics endpoint up", "addr", cfg.MetricsAddr())
	}

	// Stream recorder
	rec, err := recorder.NewRecorder(cfg.RecorderOptions(), logger)
	if err != nil {
		return err
	}

	// Stream manager
	manager := stream.NewManager(stream.Config{
		Backpressure:    cfg.Stream.Backpressure,
		RetryInterval:   cfg.RetryInterval(),
		Logger:          logger,
		MetricsRegistry: registry,
		Recorder:        rec,
	})
	defer manager.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional NATS ingest bridge
	if cfg.NATS.Enabled {
		natsClient, err := natsclient.NewClient(cfg.NATS.URL,
			natsclient.WithName(cfg.NATS.Name),
			natsclient.WithLogger(logger),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(time.Duration(cfg.NATS.ReconnectWaitSeconds)*time.Second),
		)
		if err != nil {
			return err
		}
		if err := natsClient.Connect(ctx); err != nil {
			return err
		}
		defer func() { _ = natsClient.Close() }()

		bridge, err := nats.NewBridge(nats.Config{
			Subjects:    cfg.NATS.Subjects,
			Priority:    cfg.NATS.Priority,
			Compression: cfg.NATS.Compression,
		}, natsClient, manager, logger, registry)
		if err != nil {
			return err
		}
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = bridge.Stop(cliCfg.ShutdownTimeout) }()
	}

	// WebSocket gateway
	gateway, err := server.NewServer(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Path:         cfg.Server.Path,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}, manager, nil, logger, registry)
	if err != nil {
		return err
	}
	if err := gateway.Start(ctx); err != nil {
		return err
	}

	logger.Info("gateway up", "addr", gateway.Addr(), "path", cfg.Server.Path)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := gateway.Stop(cliCfg.ShutdownTimeout); err != nil {
		logger.Warn("gateway stop error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
