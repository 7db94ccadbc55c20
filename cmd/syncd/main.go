package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/appointment-sync/internal/api"
	"github.com/clinicdesk/appointment-sync/internal/config"
	"github.com/clinicdesk/appointment-sync/internal/connection"
	"github.com/clinicdesk/appointment-sync/internal/database"
	"github.com/clinicdesk/appointment-sync/internal/metrics"
	"github.com/clinicdesk/appointment-sync/internal/poller"
	"github.com/clinicdesk/appointment-sync/internal/session"
	"github.com/clinicdesk/appointment-sync/internal/store"
	"github.com/clinicdesk/appointment-sync/internal/version"
	"github.com/clinicdesk/appointment-sync/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Server.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := metrics.New()
	sess := session.New(cfg.Session)
	appointments := store.NewWithBuffer(cfg.Writer.BufferSize)

	if sess.Target() == "" {
		logger.Warn("no doctor id in session, live updates stay off until one is configured")
	}

	// Optional update log
	var pool *pgxpool.Pool
	var updateWriter *writer.UpdateWriter
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to prepare schema", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected")

		updateWriter = writer.NewUpdateWriter(writer.WriterConfig{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
			InstanceID:    cfg.Instance.ID,
		}, appointments.Changes(), pool, reg, logger.With("component", "writer"))

		if err := updateWriter.Start(ctx); err != nil {
			logger.Error("failed to start update writer", "error", err)
			os.Exit(1)
		}
	}

	// Optional REST seed and refresh
	var refresh *poller.Poller
	if cfg.Server.RestURL != "" {
		apiClient := api.NewClient(
			cfg.Server.RestURL,
			sess.AuthHeader,
			api.WithLogger(logger.With("component", "api")),
			api.WithTimeout(cfg.Server.Timeout),
			api.WithRetries(cfg.Server.Retries(), time.Second),
		)

		refresh = poller.New(poller.Config{
			Interval: cfg.Refresh.Interval,
			Timeout:  cfg.Server.Timeout,
		}, apiClient, sess.Target, appointments, reg, logger.With("component", "poller"))

		if err := refresh.Start(ctx); err != nil {
			logger.Error("failed to start poller", "error", err)
			os.Exit(1)
		}
	}

	// Connection Manager
	connMgr := connection.NewManager(
		managerConfig(cfg, sess),
		sess.Target,
		appointments,
		logger.With("component", "connection"),
		connection.WithMetrics(reg),
	)

	// Start HTTP server before connecting so progress is observable
	deps := handlerDeps{
		Manager:     connMgr,
		Store:       appointments,
		Metrics:     reg,
		MetricsPath: cfg.HTTP.MetricsPath,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
	if refresh != nil {
		deps.Poller = refresh
	}
	if pool != nil {
		deps.DB = pool
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           createHTTPHandler(deps, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting http server", "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	connMgr.Connect()

	logger.Info("syncd running",
		"target", sess.Target(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.HTTP.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	connMgr.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if refresh != nil {
		refresh.Stop(shutdownCtx)
	}
	if updateWriter != nil {
		updateWriter.Stop(shutdownCtx)
	}
	httpServer.Shutdown(shutdownCtx)

	logger.Info("syncd stopped")
}

// managerConfig maps agent configuration onto the Connection Manager.
func managerConfig(cfg *config.AgentConfig, sess *session.Session) connection.ManagerConfig {
	return connection.ManagerConfig{
		WSURL:                cfg.Server.WSURL,
		TopicPrefix:          cfg.Server.TopicPrefix,
		HandshakeTimeout:     cfg.Server.HandshakeTimeout,
		HeartBeat:            cfg.Server.HeartBeatInterval(),
		WriteTimeout:         cfg.Server.WriteTimeout,
		ReconnectBaseWait:    cfg.Reconnect.BaseDelay,
		ReconnectMaxWait:     cfg.Reconnect.MaxDelay,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		AuthHeader:           sess.AuthHeader,
	}
}
