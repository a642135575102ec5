// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/relaymq/config"
	"github.com/absmach/relaymq/ratelimit"
	"github.com/absmach/relaymq/relay"
	"github.com/absmach/relaymq/relay/webhook"
	"github.com/absmach/relaymq/server/health"
	"github.com/absmach/relaymq/server/http"
	"github.com/absmach/relaymq/server/otel"
	"github.com/absmach/relaymq/server/websocket"
	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/storage/badger"
	"github.com/absmach/relaymq/storage/memory"
	"github.com/google/uuid"
)

const version = "0.1.0"

// Relay statistics are periodically published under this topic. The $SYS
// prefix keeps them away from '#' and '+' subscribers.
const (
	statsTopic  = "$SYS/relay/stats"
	statsOrigin = "$SYS"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting RelayMQ", "version", version)
	slog.Info("Configuration loaded",
		"ws_listener", cfg.Server.WSAddr,
		"ws_path", cfg.Server.WSPath,
		"ws_enabled", cfg.Server.WSEnabled,
		"http_listener", cfg.Server.HTTPAddr,
		"http_enabled", cfg.Server.HTTPEnabled,
		"health_enabled", cfg.Server.HealthEnabled,
		"storage_type", cfg.Storage.Type,
		"log_level", cfg.Log.Level)

	relayID := cfg.Relay.ID
	if relayID == "" {
		relayID = uuid.NewString()
	}

	var store storage.RetainedStore
	switch cfg.Storage.Type {
	case "memory":
		store = memory.NewRetainedStore()
		slog.Info("Using in-memory retained message store")
	case "badger":
		badgerStore, err := badger.New(badger.Config{Dir: cfg.Storage.BadgerDir})
		if err != nil {
			slog.Error("Failed to initialize BadgerDB storage", "error", err)
			os.Exit(1)
		}
		store = badgerStore
		slog.Info("Using BadgerDB retained message store", "dir", cfg.Storage.BadgerDir)
	default:
		slog.Error("Unknown storage type", "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer store.Close()

	var webhooks relay.Notifier
	if cfg.Webhook.Enabled {
		sender := webhook.NewHTTPSender()

		wh, err := webhook.NewNotifier(cfg.Webhook, relayID, sender, logger)
		if err != nil {
			slog.Error("Failed to initialize webhooks", "error", err)
			os.Exit(1)
		}
		defer wh.Close()
		webhooks = wh
		slog.Info("Webhooks enabled",
			"type", "http",
			"endpoints", len(cfg.Webhook.Endpoints),
			"workers", cfg.Webhook.Workers,
			"queue_size", cfg.Webhook.QueueSize)
	} else {
		slog.Info("Webhooks disabled")
	}

	var otelShutdown func(context.Context) error
	var metrics *otel.Metrics

	if cfg.Server.MetricsEnabled {
		shutdown, err := otel.InitProvider(cfg.Server, relayID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Server.MetricsAddr)

		if cfg.Server.OtelMetricsEnabled {
			m, err := otel.NewMetrics()
			if err != nil {
				slog.Error("Failed to create metrics", "error", err)
				os.Exit(1)
			}
			metrics = m
			slog.Info("OTel metrics enabled")
		}
	} else {
		slog.Info("OpenTelemetry disabled")
	}

	stats := relay.NewStats()
	r := relay.New(relayID, store, logger, stats, webhooks, metrics)
	defer r.Close()

	var limiter *ratelimit.Manager
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewManager(cfg.RateLimit)
		defer limiter.Stop()

		slog.Info("Rate limiting enabled",
			slog.Float64("conn_rate", cfg.RateLimit.ConnRate),
			slog.Float64("message_rate", cfg.RateLimit.MessageRate),
			slog.Int("max_subscriptions", cfg.RateLimit.MaxSubscriptions))
	} else {
		slog.Info("Rate limiting disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	serverErr := make(chan error, 4)

	if cfg.Server.WSEnabled {
		wsCfg := websocket.Config{
			Address:         cfg.Server.WSAddr,
			Path:            cfg.Server.WSPath,
			QueueSize:       cfg.Relay.QueueSize,
			MaxMessageSize:  cfg.Relay.MaxMessageSize,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}
		wsServer := websocket.New(wsCfg, r, limiter, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Starting WebSocket server", "address", cfg.Server.WSAddr, "path", cfg.Server.WSPath)
			if err := wsServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	if cfg.Server.HTTPEnabled {
		httpCfg := http.Config{
			Address:         cfg.Server.HTTPAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			MaxIdle:         cfg.Relay.MaxIdle,
		}
		httpServer := http.New(httpCfg, r, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Starting HTTP API server", "address", cfg.Server.HTTPAddr)
			if err := httpServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	if cfg.Server.HealthEnabled {
		healthCfg := health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Version:         version,
		}
		healthServer := health.New(healthCfg, r, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Starting health check server", "address", cfg.Server.HealthAddr)
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	if cfg.Relay.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweepLoop(ctx, r, cfg.Relay.SweepInterval, cfg.Relay.MaxIdle)
		}()
		slog.Info("Inactive client sweeping enabled",
			"interval", cfg.Relay.SweepInterval,
			"max_idle", cfg.Relay.MaxIdle)
	}

	if cfg.Relay.StatsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statsLoop(ctx, r, cfg.Relay.StatsInterval)
		}()
		slog.Info("Stats publishing enabled",
			"interval", cfg.Relay.StatsInterval,
			"topic", statsTopic)
	}

	slog.Info("RelayMQ started successfully", "relay_id", relayID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	if otelShutdown != nil {
		otelShutdownCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := otelShutdown(otelShutdownCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		} else {
			slog.Info("OpenTelemetry shutdown complete")
		}
	}

	cancel()

	wg.Wait()
	slog.Info("RelayMQ stopped")
}

// sweepLoop periodically removes clients that have been idle for longer than
// maxIdle.
func sweepLoop(ctx context.Context, r *relay.Relay, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cleanup(maxIdle)
		}
	}
}

// statsLoop periodically publishes a JSON stats snapshot to the $SYS stats
// topic, where monitoring clients can subscribe to it explicitly.
func statsLoop(ctx context.Context, r *relay.Relay, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := r.Stats(ctx)
			payload, err := json.Marshal(snap)
			if err != nil {
				slog.Error("Failed to marshal stats snapshot", "error", err)
				continue
			}

			msg := &storage.Message{Topic: statsTopic, Payload: payload}
			if err := r.Publish(ctx, statsOrigin, msg); err != nil {
				slog.Error("Failed to publish stats snapshot", "error", err)
			}
		}
	}
}
