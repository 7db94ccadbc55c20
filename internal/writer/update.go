package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicdesk/appointment-sync/internal/metrics"
	"github.com/clinicdesk/appointment-sync/internal/store"
)

// UpdateWriter consumes store changes and appends each applied update to the
// appointment_updates table.
type UpdateWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the appointment store
	input <-chan store.Change

	// Database
	db BatchSender

	// Batching
	batch       []updateRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics  WriterMetrics
	registry *metrics.Registry
}

// NewUpdateWriter creates a new UpdateWriter. reg may be nil.
func NewUpdateWriter(
	cfg WriterConfig,
	input <-chan store.Change,
	db BatchSender,
	reg *metrics.Registry,
	logger *slog.Logger,
) *UpdateWriter {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	return &UpdateWriter{
		cfg:      cfg,
		input:    input,
		db:       db,
		registry: reg,
		logger:   logger,
		batch:    make([]updateRow, 0, cfg.BatchSize),
		ctx:      context.Background(),
	}
}

// Start begins consuming changes and writing to the database.
func (w *UpdateWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("update writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes what is left.
func (w *UpdateWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping update writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("update writer stopped")
	case <-ctx.Done():
		w.logger.Warn("update writer stop timed out")
	}

	// Changes still queued in the feed and the final flush run on the
	// caller's context; the writer's own is cancelled.
	w.drainInput(ctx)
	w.flushWith(ctx)

	return nil
}

// Stats returns current metrics.
func (w *UpdateWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the change feed and accumulates batches.
func (w *UpdateWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case change, ok := <-w.input:
			if !ok {
				return
			}
			w.handleChange(change)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *UpdateWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// handleChange transforms and adds a change to the batch.
func (w *UpdateWriter) handleChange(change store.Change) {
	if w.enqueue(change) {
		w.flush()
	}
}

// drainInput batches whatever is already buffered in the feed without waiting.
func (w *UpdateWriter) drainInput(ctx context.Context) {
	for {
		select {
		case change, ok := <-w.input:
			if !ok {
				return
			}
			if w.enqueue(change) {
				w.flushWith(ctx)
			}
		default:
			return
		}
	}
}

// enqueue adds the change's row to the batch and reports whether it is full.
func (w *UpdateWriter) enqueue(change store.Change) bool {
	row, ok := w.transform(change)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	if !ok {
		w.metrics.Skipped++
		return false
	}
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a store change into a row. Changes without a causing
// update (REST refreshes) produce no row.
func (w *UpdateWriter) transform(change store.Change) (updateRow, bool) {
	if change.Cause == nil {
		return updateRow{}, false
	}

	payload, err := change.Cause.MarshalJSON()
	if err != nil {
		return updateRow{}, false
	}

	return updateRow{
		ID:            uuid.NewString(),
		InstanceID:    w.cfg.InstanceID,
		AppointmentID: change.Cause.ID,
		Payload:       payload,
		ReceivedAt:    change.At,
	}, true
}

func (w *UpdateWriter) flush() {
	w.flushWith(w.ctx)
}

// flushWith writes the current batch to the database.
func (w *UpdateWriter) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]updateRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.db == nil {
		w.logger.Warn("no database configured, dropping batch", "count", len(batch))
		return
	}

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	w.registry.WriterFlushed(len(batch)-conflicts, err)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed appointment updates",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *UpdateWriter) batchInsert(ctx context.Context, rows []updateRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO appointment_updates (id, instance_id, appointment_id, payload, received_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.InstanceID, r.AppointmentID, r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
