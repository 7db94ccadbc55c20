package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clinicdesk/appointment-sync/internal/connection"
	"github.com/clinicdesk/appointment-sync/internal/metrics"
	"github.com/clinicdesk/appointment-sync/internal/model"
	"github.com/clinicdesk/appointment-sync/internal/poller"
	"github.com/clinicdesk/appointment-sync/internal/store"
)

// fakeManager reports a fixed state and counts reconnect requests.
type fakeManager struct {
	stats      connection.ManagerStats
	reconnects int
}

func (f *fakeManager) Connect()                       {}
func (f *fakeManager) Disconnect()                    {}
func (f *fakeManager) EnsureConnected()               {}
func (f *fakeManager) ForceReconnect()                { f.reconnects++ }
func (f *fakeManager) Phase() connection.Phase        { return f.stats.Phase }
func (f *fakeManager) ReconnectAttempts() int         { return f.stats.ReconnectAttempts }
func (f *fakeManager) Stats() connection.ManagerStats { return f.stats }

type fakeRefresher struct{ err error }

func (f *fakeRefresher) Refresh(ctx context.Context) error { return f.err }

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		phase      connection.Phase
		attempts   int
		db         pinger
		wantStatus string
		wantCode   int
	}{
		{"connected", connection.PhaseConnected, 0, nil, "healthy", http.StatusOK},
		{"connecting", connection.PhaseConnecting, 2, nil, "degraded", http.StatusOK},
		{"retrying", connection.PhaseDisconnected, 3, nil, "degraded", http.StatusOK},
		{"gave up", connection.PhaseDisconnected, 5, nil, "unhealthy", http.StatusServiceUnavailable},
		{"database down", connection.PhaseConnected, 0, &fakePinger{err: errors.New("refused")}, "unhealthy", http.StatusServiceUnavailable},
		{"database up", connection.PhaseConnected, 0, &fakePinger{}, "healthy", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := &fakeManager{stats: connection.ManagerStats{
				Phase:             tt.phase,
				PhaseName:         tt.phase.String(),
				ReconnectAttempts: tt.attempts,
			}}
			h := createHTTPHandler(handlerDeps{
				Manager:     mgr,
				Store:       store.New(),
				DB:          tt.db,
				MaxAttempts: 5,
			}, discardLogger())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}

			var body struct {
				Status     string                     `json:"status"`
				Components map[string]json.RawMessage `json:"components"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if _, ok := body.Components["connection"]; !ok {
				t.Error("components should include connection")
			}
			if _, ok := body.Components["postgres"]; ok != (tt.db != nil) {
				t.Errorf("postgres component present = %v, want %v", ok, tt.db != nil)
			}
		})
	}
}

func TestAppointmentsHandler(t *testing.T) {
	s := store.New()
	var a model.Appointment
	if err := json.Unmarshal([]byte(`{"appointmentId":"a1","status":"BOOKED"}`), &a); err != nil {
		t.Fatal(err)
	}
	s.Replace([]model.Appointment{a}, a)

	h := createHTTPHandler(handlerDeps{Manager: &fakeManager{}, Store: s}, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Collection-Revision"); got != "1" {
		t.Errorf("X-Collection-Revision = %q, want 1", got)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `[{"appointmentId":"a1","status":"BOOKED"}]` {
		t.Errorf("body = %s", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/appointments", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status code = %d, want 405", rec.Code)
	}
}

func TestReconnectHandler(t *testing.T) {
	mgr := &fakeManager{}
	h := createHTTPHandler(handlerDeps{Manager: mgr, Store: store.New()}, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reconnect", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status code = %d, want 405", rec.Code)
	}
	if mgr.reconnects != 0 {
		t.Errorf("reconnects = %d, want 0", mgr.reconnects)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconnect", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("POST status code = %d, want 202", rec.Code)
	}
	if mgr.reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", mgr.reconnects)
	}
}

func TestRefreshHandler(t *testing.T) {
	tests := []struct {
		name     string
		poller   refresher
		wantCode int
	}{
		{"not configured", nil, http.StatusNotFound},
		{"ok", &fakeRefresher{}, http.StatusOK},
		{"nobody logged in", &fakeRefresher{err: poller.ErrNoTarget}, http.StatusConflict},
		{"backend error", &fakeRefresher{err: errors.New("backend returned 500")}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createHTTPHandler(handlerDeps{
				Manager: &fakeManager{},
				Store:   store.New(),
				Poller:  tt.poller,
			}, discardLogger())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := metrics.New()
	reg.SetPhase(metrics.PhaseConnected)

	h := createHTTPHandler(handlerDeps{
		Manager:     &fakeManager{},
		Store:       store.New(),
		Metrics:     reg,
		MetricsPath: "/internal/metrics",
	}, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "apptsync_connection_phase 2") {
		t.Error("metrics output should report the connection phase")
	}
}
