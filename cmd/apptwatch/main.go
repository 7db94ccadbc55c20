// apptwatch connects to the live appointment feed and prints every merged update.
// Usage: go run ./cmd/apptwatch --config configs/syncd.local.yaml
//
// The session can be overridden from the command line:
//
//	--token   Bearer JWT (defaults to session.token)
//	--doctor  Doctor id to subscribe for (defaults to the token's claim)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicdesk/appointment-sync/internal/config"
	"github.com/clinicdesk/appointment-sync/internal/connection"
	"github.com/clinicdesk/appointment-sync/internal/session"
	"github.com/clinicdesk/appointment-sync/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/syncd.example.yaml", "path to config file")
	token := flag.String("token", "", "bearer token (overrides config)")
	doctor := flag.String("doctor", "", "doctor id (overrides config and token)")
	verbose := flag.Bool("verbose", false, "print full appointment JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *token != "" {
		cfg.Session.Token = *token
	}
	if *doctor != "" {
		cfg.Session.DoctorID = *doctor
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	sess := session.New(cfg.Session)
	target := sess.Target()
	if target == "" {
		logger.Error("no doctor id: set session.doctor_id, pass --doctor, or use a token with a doctor claim")
		os.Exit(1)
	}
	logger.Info("watching appointments", "doctor_id", target, "ws_url", cfg.Server.WSURL)

	appointments := store.New()

	connCfg := connection.DefaultManagerConfig()
	connCfg.WSURL = cfg.Server.WSURL
	connCfg.TopicPrefix = cfg.Server.TopicPrefix
	connCfg.HandshakeTimeout = cfg.Server.HandshakeTimeout
	connCfg.HeartBeat = cfg.Server.HeartBeatInterval()
	connCfg.WriteTimeout = cfg.Server.WriteTimeout
	connCfg.ReconnectBaseWait = cfg.Reconnect.BaseDelay
	connCfg.ReconnectMaxWait = cfg.Reconnect.MaxDelay
	connCfg.MaxReconnectAttempts = cfg.Reconnect.MaxAttempts
	connCfg.AuthHeader = sess.AuthHeader

	connMgr := connection.NewManager(connCfg, sess.Target, appointments, logger)

	go printChanges(ctx, appointments.Changes(), *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := connMgr.Stats()
				logger.Info("stats",
					"phase", stats.PhaseName,
					"reconnect_attempts", stats.ReconnectAttempts,
					"reconnect_pending", stats.ReconnectPending,
					"updates_applied", stats.UpdatesApplied,
					"updates_rejected", stats.UpdatesRejected,
					"collection_size", appointments.Len(),
				)
			}
		}
	}()

	connMgr.Connect()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	connMgr.Disconnect()

	logger.Info("shutdown complete")
}

func printChanges(ctx context.Context, changes <-chan store.Change, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-changes:
			if change.Cause == nil {
				fmt.Printf("[RESET] rev=%d size=%d\n", change.Revision, change.Size)
				continue
			}

			if verbose {
				var pretty any
				if err := change.Cause.Decode(&pretty); err == nil {
					data, _ := json.MarshalIndent(pretty, "", "  ")
					fmt.Printf("[UPDATE] rev=%d size=%d\n%s\n", change.Revision, change.Size, data)
					continue
				}
			}
			fmt.Printf("[UPDATE] rev=%d size=%d appointment=%s\n",
				change.Revision, change.Size, change.Cause.ID)
		}
	}
}
