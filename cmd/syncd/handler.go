package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/clinicdesk/appointment-sync/internal/connection"
	"github.com/clinicdesk/appointment-sync/internal/metrics"
	"github.com/clinicdesk/appointment-sync/internal/poller"
	"github.com/clinicdesk/appointment-sync/internal/store"
	"github.com/clinicdesk/appointment-sync/internal/version"
)

// refresher is satisfied by *poller.Poller.
type refresher interface {
	Refresh(ctx context.Context) error
}

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// handlerDeps collects what the HTTP surface reads from. Poller, DB and
// Metrics are optional.
type handlerDeps struct {
	Manager     connection.Manager
	Store       *store.Store
	Poller      refresher
	DB          pinger
	Metrics     *metrics.Registry
	MetricsPath string
	MaxAttempts int
}

// createHTTPHandler creates the HTTP handler for health, data and control endpoints.
func createHTTPHandler(deps handlerDeps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		// Live-update connection
		stats := deps.Manager.Stats()
		health.Components["connection"] = stats
		switch {
		case stats.Phase == connection.PhaseConnected:
		case stats.Phase == connection.PhaseDisconnected && stats.ReconnectAttempts >= deps.MaxAttempts:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		// Appointment collection
		revision, updated := deps.Store.Revision()
		health.Components["store"] = map[string]any{
			"size":       deps.Store.Len(),
			"revision":   revision,
			"updated_at": updated,
		}

		// Update log database
		if deps.DB != nil {
			if err := deps.DB.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/appointments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		revision, _ := deps.Store.Revision()
		list := deps.Store.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Collection-Revision", strconv.FormatUint(revision, 10))
		if err := json.NewEncoder(w).Encode(list); err != nil {
			logger.Warn("encode appointments", "error", err)
		}
	})

	mux.HandleFunc("/reconnect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		logger.Info("reconnect requested", "remote", r.RemoteAddr)
		deps.Manager.ForceReconnect()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(deps.Manager.Stats())
	})

	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if deps.Poller == nil {
			http.Error(w, "rest refresh not configured", http.StatusNotFound)
			return
		}

		err := deps.Poller.Refresh(r.Context())
		switch {
		case errors.Is(err, poller.ErrNoTarget):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case err != nil:
			logger.Warn("manual refresh failed", "error", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"size": deps.Store.Len()})
	})

	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, deps.Metrics.Handler())
	}

	return mux
}
