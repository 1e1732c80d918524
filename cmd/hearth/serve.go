package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/hearth/internal/api"
	"github.com/nugget/hearth/internal/buildinfo"
	"github.com/nugget/hearth/internal/metrics"
	"github.com/nugget/hearth/internal/mqtt"
	"github.com/nugget/hearth/internal/usage"
)

func newServeCommand(flags *globalFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), stdout, flags.configPath)
		},
	}
}

// runServe loads config, connects to Home Assistant, wires the engine
// observers and serves the API until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. the signal cancels the context
//  2. the HTTP server drains in-flight turns
//  3. the MQTT publisher announces "offline"
//  4. the usage store and WebSocket close via defers
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := loggerFor(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Info("starting Hearth", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	if cfgPath == "" {
		logger.Warn("no config file found, using defaults and environment")
	} else {
		logger.Info("config loaded", "path", cfgPath)
	}
	if !cfg.Anthropic.Configured() {
		logger.Warn("anthropic API key not configured, chat requests will fail")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ha := connectHomeAssistant(ctx, cfg, logger)
	defer ha.Close()

	engine, err := newEngine(cfg, ha, cfg.ToolsEnabled(), logger)
	if err != nil {
		return err
	}

	collector := metrics.New()
	engine.AddObserver(collector)

	store, err := openUsage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	engine.AddObserver(usage.NewRecorder(store, cfg.Pricing, "api", logger))

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		counters := mqtt.NewDailyCounters(nil)
		engine.AddObserver(counters)

		publisher = mqtt.New(cfg.MQTT, instanceID, counters, mqttStats{model: cfg.Anthropic.Model}, logger)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "device", cfg.MQTT.DeviceName)
	}

	server := api.NewServer(cfg, engine, logger)
	if ha != nil {
		server.SetHomeAssistant(ha.client, ha.builder)
		server.SetWatcher(ha.watch(ctx, logger))
	}
	server.SetUsageStore(store)
	server.SetMetrics(collector)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown incomplete", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt disconnect failed", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return nil
}
