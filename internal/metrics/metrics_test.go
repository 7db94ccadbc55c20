package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Counters(t *testing.T) {
	r := New()

	r.SetPhase(PhaseConnected)
	r.SetReconnectAttempts(3)
	r.Handshake(true)
	r.Handshake(false)
	r.Handshake(false)
	r.UpdateApplied(false, 1)
	r.UpdateApplied(true, 1)
	r.UpdateRejected()
	r.WriterFlushed(10, nil)
	r.WriterFlushed(10, errors.New("boom"))
	r.Refreshed(7, nil)

	if got := testutil.ToFloat64(r.ConnectionPhase); got != PhaseConnected {
		t.Errorf("phase = %v, want %d", got, PhaseConnected)
	}
	if got := testutil.ToFloat64(r.ReconnectAttempts); got != 3 {
		t.Errorf("reconnect attempts = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.HandshakesTotal.WithLabelValues("error")); got != 2 {
		t.Errorf("handshake errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.UpdatesAppliedTotal.WithLabelValues("replace")); got != 1 {
		t.Errorf("replaces = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.WriterRowsTotal); got != 10 {
		t.Errorf("writer rows = %v, want 10", got)
	}
	if got := testutil.ToFloat64(r.WriterErrorsTotal); got != 1 {
		t.Errorf("writer errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.CollectionSize); got != 7 {
		t.Errorf("collection size = %v, want 7", got)
	}
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry
	r.SetPhase(PhaseConnecting)
	r.Handshake(true)
	r.UnexpectedClose()
	r.ReconnectExhausted()
	r.UpdateApplied(true, 1)
	r.UpdateRejected()
	r.WriterFlushed(1, nil)
	r.Refreshed(1, nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil registry handler status = %d, want 404", rec.Code)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := New()
	r.UnexpectedClose()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "apptsync_unexpected_closes_total 1") {
		t.Errorf("metrics output missing close counter:\n%s", body)
	}
}
