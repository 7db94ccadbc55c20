package writer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/clinicdesk/appointment-sync/internal/metrics"
	"github.com/clinicdesk/appointment-sync/internal/model"
	"github.com/clinicdesk/appointment-sync/internal/store"
)

// fakeDB records queued batches and answers every Exec with tag.
type fakeDB struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
	tag     string
	err     error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)
	tag := f.tag
	if tag == "" {
		tag = "INSERT 0 1"
	}
	return &fakeResults{tag: pgconn.NewCommandTag(tag), err: f.err}
}

func (f *fakeDB) queued() [][]*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]*pgx.QueuedQuery(nil), f.batches...)
}

type fakeResults struct {
	tag pgconn.CommandTag
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) { return r.tag, r.err }
func (r *fakeResults) Query() (pgx.Rows, error)         { return nil, r.err }
func (r *fakeResults) QueryRow() pgx.Row                { return nil }
func (r *fakeResults) Close() error                     { return nil }

func mustAppointment(t *testing.T, raw string) *model.Appointment {
	t.Helper()
	var a model.Appointment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return &a
}

func TestUpdateWriter_Transform(t *testing.T) {
	cfg := DefaultWriterConfig()
	cfg.InstanceID = "agent-1"
	w := NewUpdateWriter(cfg, nil, nil, nil, nil)

	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	cause := mustAppointment(t, `{"appointmentId":"a1","status":"BOOKED"}`)

	row, ok := w.transform(store.Change{Revision: 3, Size: 1, Cause: cause, At: at})
	if !ok {
		t.Fatal("transform() ok = false, want true")
	}
	if row.AppointmentID != "a1" {
		t.Errorf("AppointmentID = %s, want a1", row.AppointmentID)
	}
	if row.InstanceID != "agent-1" {
		t.Errorf("InstanceID = %s, want agent-1", row.InstanceID)
	}
	if string(row.Payload) != `{"appointmentId":"a1","status":"BOOKED"}` {
		t.Errorf("Payload = %s", row.Payload)
	}
	if !row.ReceivedAt.Equal(at) {
		t.Errorf("ReceivedAt = %v, want %v", row.ReceivedAt, at)
	}
	if len(row.ID) != 36 {
		t.Errorf("ID = %q, want a UUID", row.ID)
	}
}

func TestUpdateWriter_Transform_NoCause(t *testing.T) {
	w := NewUpdateWriter(DefaultWriterConfig(), nil, nil, nil, nil)

	if _, ok := w.transform(store.Change{Revision: 1, Size: 10}); ok {
		t.Error("transform() ok = true for a refresh, want false")
	}
}

func TestUpdateWriter_HandleChange_AddsToBatch(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100, // Large batch so no auto-flush
		FlushInterval: time.Hour,
	}
	w := NewUpdateWriter(cfg, nil, nil, nil, nil)

	w.handleChange(store.Change{Cause: mustAppointment(t, `{"appointmentId":"a1"}`), At: time.Now()})
	w.handleChange(store.Change{Size: 4})

	w.batchMu.Lock()
	batchLen := len(w.batch)
	w.batchMu.Unlock()

	if batchLen != 1 {
		t.Errorf("batch length = %d, want 1", batchLen)
	}
	if got := w.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
}

func TestUpdateWriter_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	reg := metrics.New()
	cfg := WriterConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		InstanceID:    "agent-1",
	}
	w := NewUpdateWriter(cfg, nil, db, reg, nil)

	w.handleChange(store.Change{Cause: mustAppointment(t, `{"appointmentId":"a1"}`), At: time.Now()})
	if got := len(db.queued()); got != 0 {
		t.Fatalf("batches sent after one row = %d, want 0", got)
	}
	w.handleChange(store.Change{Cause: mustAppointment(t, `{"appointmentId":"a2"}`), At: time.Now()})

	batches := db.queued()
	if len(batches) != 1 {
		t.Fatalf("batches sent = %d, want 1", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Fatalf("queued rows = %d, want 2", len(batches[0]))
	}
	args := batches[0][1].Arguments
	if args[1] != "agent-1" || args[2] != "a2" {
		t.Errorf("arguments = %v, want instance agent-1 and appointment a2", args)
	}

	stats := w.Stats()
	if stats.Inserts != 2 || stats.Flushes != 1 {
		t.Errorf("Stats() = %+v, want 2 inserts in 1 flush", stats)
	}
	if v := testutil.ToFloat64(reg.WriterRowsTotal); v != 2 {
		t.Errorf("writer rows = %v, want 2", v)
	}
}

func TestUpdateWriter_FlushError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	reg := metrics.New()
	cfg := WriterConfig{BatchSize: 1, FlushInterval: time.Hour}
	w := NewUpdateWriter(cfg, nil, db, reg, nil)

	w.handleChange(store.Change{Cause: mustAppointment(t, `{"appointmentId":"a1"}`), At: time.Now()})

	stats := w.Stats()
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Inserts != 0 {
		t.Errorf("Inserts = %d, want 0", stats.Inserts)
	}
	if v := testutil.ToFloat64(reg.WriterErrorsTotal); v != 1 {
		t.Errorf("writer errors = %v, want 1", v)
	}
}

func TestUpdateWriter_ConsumesStoreChanges(t *testing.T) {
	db := &fakeDB{}
	s := store.New()
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	w := NewUpdateWriter(cfg, s.Changes(), db, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	a1 := mustAppointment(t, `{"appointmentId":"a1"}`)
	s.Replace([]model.Appointment{*a1}, *a1)
	s.Reset(nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := w.Stats()
		if st.Skipped == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	batches := db.queued()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches = %v, want one batch with one row", batches)
	}
	if got := batches[0][0].Arguments[2]; got != "a1" {
		t.Errorf("appointment_id = %v, want a1", got)
	}
}

func TestUpdateWriter_Lifecycle(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	}

	// Without a database the goroutine lifecycle still works.
	w := NewUpdateWriter(cfg, make(chan store.Change), nil, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestUpdateWriter_StopPersistsQueuedChanges(t *testing.T) {
	tests := []struct {
		name      string
		batchSize int
		want      []int // rows per batch
	}{
		{"single final batch", 100, []int{3}},
		{"full batches flushed while draining", 2, []int{2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{}
			s := store.New()
			w := NewUpdateWriter(WriterConfig{BatchSize: tt.batchSize, FlushInterval: time.Hour}, s.Changes(), db, nil, nil)

			for _, id := range []string{"a1", "a2", "a3"} {
				a := mustAppointment(t, `{"appointmentId":"`+id+`"}`)
				s.Replace([]model.Appointment{*a}, *a)
			}
			s.Reset(nil)

			// Nothing consumed the feed before shutdown.
			if err := w.Stop(context.Background()); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}

			batches := db.queued()
			if len(batches) != len(tt.want) {
				t.Fatalf("batches = %d, want %d", len(batches), len(tt.want))
			}
			for i, n := range tt.want {
				if len(batches[i]) != n {
					t.Errorf("batch %d rows = %d, want %d", i, len(batches[i]), n)
				}
			}
			if got := batches[0][0].Arguments[2]; got != "a1" {
				t.Errorf("first appointment_id = %v, want a1", got)
			}
			if st := w.Stats(); st.Skipped != 1 || st.Inserts != 3 {
				t.Errorf("stats = %+v, want 1 skipped and 3 inserts", st)
			}
			if got := len(s.Changes()); got != 0 {
				t.Errorf("feed left with %d changes", got)
			}
		})
	}
}
